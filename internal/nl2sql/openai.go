package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/failure"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAIPlanner struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIPlanner(cfg OpenAIConfig) (*OpenAIPlanner, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIPlanner{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAIPlanner) Plan(ctx context.Context, req Request) (Plan, error) {
	promptPayload, err := buildOpenAIPayload(p.model, p.temperature, req)
	if err != nil {
		return Plan{}, err
	}
	body, err := json.Marshal(promptPayload)
	if err != nil {
		return Plan{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Plan{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Plan{}, transportErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Plan{}, transportErr(err)
	}
	if err := statusErr(resp.StatusCode, rawRespBody); err != nil {
		return Plan{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Plan{}, failure.Wrap(failure.KindIncompatibleOutput, "decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return Plan{}, failure.New(failure.KindIncompatibleOutput, "decode chat completion response", "empty chat completion choices")
	}

	plan, err := parsePlan(parsed.Choices[0].Message.Content)
	if err != nil {
		return Plan{}, err
	}
	plan.Model = p.model
	return plan, nil
}

func transportErr(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failure.Wrap(failure.KindConnection, "request chat completion", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return failure.Wrap(failure.KindTransientEngine, "request chat completion", err)
}

func statusErr(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	err := fmt.Errorf("chat completion failed status=%d body=%s", status, truncate(string(body), 512))
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return failure.Wrap(failure.KindTransientEngine, "request chat completion", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &failure.Error{
			Kind:    failure.KindEngineUnavailable,
			Op:      "request chat completion",
			Message: "the AI service rejected the credentials",
			Err:     err,
		}
	default:
		return &failure.Error{
			Kind:    failure.KindInternal,
			Op:      "request chat completion",
			Message: fmt.Sprintf("the AI service rejected the request (status %d)", status),
			Err:     err,
		}
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

func buildOpenAIPayload(model string, temperature float64, req Request) (map[string]any, error) {
	contextJSON, err := json.Marshal(struct {
		Table      string   `json:"table"`
		RowCount   int      `json:"row_count"`
		Columns    []Column `json:"columns"`
		SampleRows [][]any  `json:"sample_rows"`
	}{req.Table, req.RowCount, req.Columns, req.SampleRows})
	if err != nil {
		return nil, fmt.Errorf("marshal table context: %w", err)
	}
	systemPrompt := "You answer questions about a single DuckDB table by returning a JSON plan. " +
		"DuckDB uses PostgreSQL-like SQL syntax. " +
		`Return ONLY a JSON object shaped {"kind":"sql"|"answer"|"chart","sql":"...","answer":"...","chart":{"mark":"bar|line|area|scatter|pie","x":"...","y":"...","title":"..."}}. ` +
		"No markdown, no explanation."
	userPrompt := fmt.Sprintf(
		"Table context (JSON):\n%s\n\nQuestion:\n%s\n\nRules:\n"+
			"- Query only the table %q.\n"+
			"- Use kind \"sql\" for questions answered by rows or a single value.\n"+
			"- Use kind \"chart\" when the user asks for a plot, chart or graph; the SQL must return the x and y columns.\n"+
			"- Use kind \"answer\" only when no query is needed.\n"+
			"- Write a single read-only SELECT statement.",
		string(contextJSON),
		strings.TrimSpace(req.Question),
		req.Table,
	)

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": temperature,
	}, nil
}
