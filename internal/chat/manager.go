package chat

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/nlquery"
	"github.com/tablechat/tablechat/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.deps.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.deps.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.deps.newID = newID
		}
	}
}

// Manager owns every live session. Sessions are visible only to the owner
// that created them.
type Manager struct {
	deps deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(loader SourceLoader, factory nlquery.Factory, executor *nlquery.Executor, opts ...Option) *Manager {
	if factory == nil {
		factory = nlquery.UnavailableFactory{}
	}
	if executor == nil {
		executor = nlquery.NewExecutor(nlquery.DefaultConfig())
	}
	m := &Manager{
		deps: deps{
			loader:   loader,
			factory:  factory,
			executor: executor,
			logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			now:      time.Now,
			newID:    uuid.NewString,
		},
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(owner string) *Session {
	session := newSession(m.deps.newID(), strings.TrimSpace(owner), m.deps)

	m.mu.Lock()
	m.sessions[session.id] = session
	m.mu.Unlock()

	observability.AddLiveSessions(1)
	m.deps.logger.Info("session created", slog.String("session_id", session.id), slog.String("owner", session.owner))
	return session
}

func (m *Manager) Get(owner, id string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[strings.TrimSpace(id)]
	m.mu.RUnlock()
	if !ok || session.owner != strings.TrimSpace(owner) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (m *Manager) List(owner string) []*Session {
	owner = strings.TrimSpace(owner)
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.owner == owner {
			out = append(out, session)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

func (m *Manager) Delete(owner, id string) error {
	session, err := m.Get(owner, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.sessions[session.id]; !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, session.id)
	m.mu.Unlock()

	observability.AddLiveSessions(-1)
	m.deps.logger.Info("session closed", slog.String("session_id", session.id))
	return session.Close()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		observability.AddLiveSessions(-1)
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
