package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/failure"
)

type PlanKind string

const (
	PlanSQL    PlanKind = "sql"
	PlanAnswer PlanKind = "answer"
	PlanChart  PlanKind = "chart"
)

type Column struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

type Request struct {
	Question   string   `json:"question"`
	Table      string   `json:"table"`
	Columns    []Column `json:"columns"`
	RowCount   int      `json:"row_count"`
	SampleRows [][]any  `json:"sample_rows"`
}

type ChartSpec struct {
	Mark  string `json:"mark"`
	X     string `json:"x"`
	Y     string `json:"y"`
	Title string `json:"title"`
}

// Plan is what the model decided to do with a question: run a query, answer
// directly, or run a query and draw its result.
type Plan struct {
	Kind   PlanKind   `json:"kind"`
	SQL    string     `json:"sql,omitempty"`
	Answer string     `json:"answer,omitempty"`
	Chart  *ChartSpec `json:"chart,omitempty"`
	Model  string     `json:"-"`
}

type Planner interface {
	Plan(ctx context.Context, req Request) (Plan, error)
}

var chartMarks = map[string]struct{}{
	"bar":     {},
	"line":    {},
	"area":    {},
	"scatter": {},
	"pie":     {},
}

func parsePlan(content string) (Plan, error) {
	raw := stripMarkdown(content)
	if raw == "" {
		return Plan{}, failure.New(failure.KindIncompatibleOutput, "parse plan", "model returned an empty reply")
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, &failure.Error{
			Kind:    failure.KindIncompatibleOutput,
			Op:      "parse plan",
			Message: "model reply is not a JSON plan",
			Err:     err,
		}
	}
	plan.Kind = PlanKind(strings.ToLower(strings.TrimSpace(string(plan.Kind))))
	plan.SQL = strings.TrimSpace(plan.SQL)
	plan.Answer = strings.TrimSpace(plan.Answer)

	switch plan.Kind {
	case PlanSQL:
		if plan.SQL == "" {
			return Plan{}, incompatible("sql plan without a query")
		}
	case PlanAnswer:
		if plan.Answer == "" {
			return Plan{}, incompatible("answer plan without text")
		}
	case PlanChart:
		if plan.SQL == "" || plan.Chart == nil {
			return Plan{}, incompatible("chart plan needs a query and a chart spec")
		}
		plan.Chart.Mark = strings.ToLower(strings.TrimSpace(plan.Chart.Mark))
		if plan.Chart.Mark == "" {
			plan.Chart.Mark = "bar"
		}
		if _, ok := chartMarks[plan.Chart.Mark]; !ok {
			return Plan{}, incompatible(fmt.Sprintf("unsupported chart mark %q", plan.Chart.Mark))
		}
		if strings.TrimSpace(plan.Chart.X) == "" || strings.TrimSpace(plan.Chart.Y) == "" {
			return Plan{}, incompatible("chart spec needs x and y columns")
		}
	default:
		return Plan{}, incompatible(fmt.Sprintf("unknown plan kind %q", plan.Kind))
	}
	return plan, nil
}

func incompatible(message string) error {
	return failure.New(failure.KindIncompatibleOutput, "parse plan", message)
}

func stripMarkdown(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
