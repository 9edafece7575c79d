package nlquery

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/observability"
)

const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 2 * time.Second

	MessageNoResponse    = "I could not generate a response for this question. Try rephrasing it."
	MessageEmptyResponse = "Received an empty response. Try a different question."
	MessageConnectivity  = "Connection error with the AI service. Check your network connection and try again."
	MessageIncompatible  = "The assistant could not produce a suitable answer for this question. Try rephrasing it."
	messageProcessing    = "Error while processing: "
)

type retryPolicy struct {
	retry   bool
	delay   bool
	message func(err error) string
}

func fixed(message string) func(error) string {
	return func(error) string { return message }
}

var policies = map[failure.Kind]retryPolicy{
	failure.KindTransientEngine:    {retry: true, delay: true, message: fixed(MessageConnectivity)},
	failure.KindConnection:         {retry: false, message: fixed(MessageConnectivity)},
	failure.KindIncompatibleOutput: {retry: false, message: fixed(MessageIncompatible)},
}

var defaultPolicy = retryPolicy{
	retry: true,
	message: func(err error) string {
		return messageProcessing + failure.UserMessage(err)
	},
}

func policyFor(err error) retryPolicy {
	if p, ok := policies[failure.KindOf(err)]; ok {
		return p
	}
	return defaultPolicy
}

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Executor struct {
	maxRetries int
	retryDelay time.Duration
	sleep      SleepFunc
	logger     *slog.Logger
}

type Option func(*Executor)

func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExecutor(cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	e := &Executor{
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		sleep:      sleepContext,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute asks the engine, retrying according to the failure kind, and
// always comes back with something displayable. Errors never escape.
func (e *Executor) Execute(ctx context.Context, handle Handle, question string) Result {
	if handle == nil {
		return Text(messageProcessing + "no AI engine is available")
	}
	start := time.Now()
	defer func() { observability.ObserveEngineLatency(time.Since(start)) }()

	for attempt := 1; ; attempt++ {
		result, err := handle.Chat(ctx, question)
		if err == nil {
			observability.ObserveEngineAttempt("ok")
			return normalize(result)
		}

		kind := failure.KindOf(err)
		observability.ObserveEngineAttempt(string(kind))
		policy := policyFor(err)
		e.logger.WarnContext(ctx, "engine attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.maxRetries),
			slog.String("error_kind", string(kind)),
			slog.String("error", err.Error()),
		)

		if !policy.retry || attempt >= e.maxRetries || ctx.Err() != nil {
			return Text(policy.message(err))
		}
		if policy.delay {
			if sleepErr := e.sleep(ctx, e.retryDelay); sleepErr != nil {
				return Text(policy.message(err))
			}
		}
	}
}

func normalize(result Result) Result {
	switch result.Kind {
	case KindText:
		if strings.TrimSpace(result.Text) == "" {
			return Text(MessageEmptyResponse)
		}
		return result
	case KindDataframe:
		if result.Frame == nil {
			return Text(MessageNoResponse)
		}
		return result
	case KindChart:
		if result.Chart == nil {
			return Text(MessageNoResponse)
		}
		return result
	default:
		return Text(MessageNoResponse)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
