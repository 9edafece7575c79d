package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/nlquery"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/source"
)

var ErrQueryInFlight = errors.New("a question is already being processed for this session")

const handleErrorPrefix = "Error processing your request: "

type SourceLoader interface {
	Load(ctx context.Context, req source.Request) (source.Result, error)
	Refresh(ctx context.Context, conn *source.Connection) (source.Result, error)
}

type SourceInfo struct {
	Kind   source.Kind
	Name   string
	Table  string
	Tables []string
	Params *source.Params
}

type Summary struct {
	ID          string
	Owner       string
	CreatedAt   time.Time
	Source      *SourceInfo
	Columns     []dataset.Column
	Rows        int
	Connected   bool
	EngineReady bool
	Processing  bool
	Messages    int
}

type Exchange struct {
	Route    string
	Messages []Message
}

type deps struct {
	loader   SourceLoader
	factory  nlquery.Factory
	executor *nlquery.Executor
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Session is the explicit per-user state: at most one dataset, one remote
// connection and one engine handle, plus the transcript. busy covers both a
// running question and a running source change.
type Session struct {
	id        string
	owner     string
	createdAt time.Time
	deps      deps

	transcript *Transcript

	mu      sync.Mutex
	busy    bool
	closed  bool
	dataset *dataset.Dataset
	info    *SourceInfo
	conn    *source.Connection
	handle  nlquery.Handle
}

func newSession(id, owner string, d deps) *Session {
	return &Session{
		id:         id,
		owner:      owner,
		createdAt:  d.now(),
		deps:       d,
		transcript: NewTranscript(),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Owner() string {
	return s.owner
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := Summary{
		ID:          s.id,
		Owner:       s.owner,
		CreatedAt:   s.createdAt,
		Connected:   s.conn != nil,
		EngineReady: s.handle != nil,
		Processing:  s.busy,
		Messages:    s.transcript.Len(),
	}
	if s.info != nil {
		info := *s.info
		summary.Source = &info
	}
	if s.dataset != nil {
		summary.Rows = s.dataset.NumRows()
		summary.Columns = append([]dataset.Column(nil), s.dataset.Columns...)
	}
	return summary
}

func (s *Session) Dataset() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataset
}

func (s *Session) Messages() []Message {
	return s.transcript.Messages()
}

func (s *Session) ClearChat() {
	s.transcript.Clear()
}

// Load replaces the current source. The previous dataset and engine handle
// are dropped first; the live connection is handed to the loader, which
// reuses it for identical parameters and closes it otherwise.
func (s *Session) Load(ctx context.Context, req source.Request) (Summary, error) {
	current, err := s.beginSourceChange()
	if err != nil {
		return Summary{}, err
	}
	req.Current = current
	result, err := s.deps.loader.Load(ctx, req)
	return s.finishSourceChange(result, err)
}

func (s *Session) Refresh(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return Summary{}, failure.Validation("refresh", "no remote connection to refresh")
	}
	s.mu.Unlock()

	current, err := s.beginSourceChange()
	if err != nil {
		return Summary{}, err
	}
	if current == nil {
		s.release()
		return Summary{}, failure.Validation("refresh", "no remote connection to refresh")
	}
	result, err := s.deps.loader.Refresh(ctx, current)
	return s.finishSourceChange(result, err)
}

func (s *Session) Disconnect() error {
	current, err := s.beginSourceChange()
	if err != nil {
		return err
	}
	s.release()
	if current == nil {
		return nil
	}
	if err := current.Close(); err != nil {
		s.deps.logger.Warn("close connection failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
	return nil
}

func (s *Session) beginSourceChange() (*source.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	if s.busy {
		return nil, ErrQueryInFlight
	}
	s.busy = true
	s.dataset = nil
	s.info = nil
	s.closeHandleLocked()
	current := s.conn
	s.conn = nil
	return current, nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) finishSourceChange(result source.Result, err error) (Summary, error) {
	if err != nil {
		s.release()
		return Summary{}, err
	}

	s.mu.Lock()
	s.busy = false
	if s.closed {
		s.mu.Unlock()
		if result.Connection != nil {
			_ = result.Connection.Close()
		}
		return Summary{}, ErrSessionNotFound
	}
	s.dataset = result.Dataset
	s.conn = result.Connection
	s.info = &SourceInfo{
		Kind:   result.Kind,
		Name:   result.Name,
		Table:  result.Table,
		Tables: result.Tables,
	}
	if result.Connection != nil {
		params := result.Connection.Params().Redacted()
		s.info.Params = &params
	}
	s.mu.Unlock()
	return s.Summary(), nil
}

// Submit runs one question through the pipeline: classify, shortcut, then
// the engine with retries. Every outcome lands in the transcript; only
// misuse (empty text, no dataset, concurrent submission) returns an error.
func (s *Session) Submit(ctx context.Context, text string) (Exchange, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return Exchange{}, failure.Validation("submit question", "question is empty")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Exchange{}, ErrSessionNotFound
	}
	if s.dataset == nil {
		s.mu.Unlock()
		return Exchange{}, failure.Validation("submit question", "Load a data source first.")
	}
	if s.busy {
		s.mu.Unlock()
		return Exchange{}, ErrQueryInFlight
	}
	s.busy = true
	ds := s.dataset
	s.mu.Unlock()
	defer s.release()

	verdict := Classify(question)
	if !verdict.Accepted {
		msg := s.record(Message{Role: RoleError, Content: verdict.Reason})
		observability.ObserveQuestion("rejected", string(RoleError))
		return Exchange{Route: "rejected", Messages: []Message{msg}}, nil
	}

	exchange := Exchange{Messages: []Message{s.record(Message{Role: RoleUser, Content: question})}}

	if name, result := route(question, ds); !result.IsNone() {
		exchange.Route = "shortcut"
		exchange.Messages = append(exchange.Messages, s.record(assistantMessage(result)))
		observability.ObserveQuestion(exchange.Route, string(result.Kind))
		s.deps.logger.InfoContext(ctx, "question answered by shortcut",
			slog.String("session_id", s.id),
			slog.String("shortcut", name),
		)
		return exchange, nil
	}

	exchange.Route = "engine"
	handle, err := s.engineHandle(ctx, ds)
	if err != nil {
		s.deps.logger.WarnContext(ctx, "engine unavailable",
			slog.String("session_id", s.id),
			slog.String("error_kind", string(failure.KindOf(err))),
			slog.String("error", err.Error()),
		)
		msg := s.record(Message{Role: RoleError, Content: handleErrorPrefix + failure.UserMessage(err)})
		exchange.Messages = append(exchange.Messages, msg)
		observability.ObserveQuestion(exchange.Route, string(RoleError))
		return exchange, nil
	}

	result := s.deps.executor.Execute(ctx, handle, question)
	exchange.Messages = append(exchange.Messages, s.record(assistantMessage(result)))
	observability.ObserveQuestion(exchange.Route, string(result.Kind))
	return exchange, nil
}

func (s *Session) engineHandle(ctx context.Context, ds *dataset.Dataset) (nlquery.Handle, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		return handle, nil
	}

	handle, err := s.deps.factory.NewHandle(ctx, ds)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dataset != ds {
		_ = handle.Close()
		return nil, failure.Validation("build engine", "the data source changed")
	}
	s.handle = handle
	return handle, nil
}

func (s *Session) record(msg Message) Message {
	msg.ID = s.deps.newID()
	msg.Timestamp = s.deps.now()
	s.transcript.Append(msg)
	return msg
}

func (s *Session) closeHandleLocked() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		s.deps.logger.Warn("close engine failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
	s.handle = nil
}

// Close releases the connection and engine handle. A question still running
// fails against the closed engine and is reported in the transcript.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dataset = nil
	s.info = nil
	s.closeHandleLocked()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
