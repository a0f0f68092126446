// Package session keeps the live chat sessions of the HTTP and MCP front ends.
// Sessions are never persisted; idle ones are dropped after a TTL.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/config"
	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/orchestrator"
	"github.com/comigor/zapup-go/internal/voice"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session bundles everything scoped to one conversation.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Store        conversation.Store
	Selection    *catalog.Selection
	Orchestrator *orchestrator.Orchestrator

	lastSeen atomic.Int64

	mu    sync.Mutex
	voice voice.Settings
}

// Voice returns the session's voice settings.
func (s *Session) Voice() voice.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoice validates and replaces the session's voice settings.
func (s *Session) SetVoice(v voice.Settings) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
	return nil
}

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// Deps are shared by every session of a Manager.
type Deps struct {
	Gateway      orchestrator.ReplySender
	Ingestor     orchestrator.Extractor
	Catalog      *catalog.Catalog
	DefaultModel string
	Backend      config.HistoryBackend
	Voice        voice.Settings
}

// Manager owns the live sessions.
type Manager struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a Manager. With ttl > 0 a janitor goroutine drops
// sessions idle for longer than ttl; Close stops it.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	m := &Manager{
		deps:     deps,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// Create opens a new session on the default model. opts are passed to the
// session's orchestrator.
func (m *Manager) Create(opts ...orchestrator.Option) (*Session, error) {
	store, err := m.newStore()
	if err != nil {
		return nil, err
	}
	sel := m.deps.Catalog.NewSelection(m.deps.DefaultModel)

	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    m.now(),
		Store:        store,
		Selection:    sel,
		Orchestrator: orchestrator.New(m.deps.Gateway, m.deps.Ingestor, store, sel, opts...),
		voice:        m.deps.Voice,
	}
	s.touch(s.CreatedAt)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	logger.L.Info("session created", "session", s.ID, "model", sel.Current())
	return s, nil
}

func (m *Manager) newStore() (conversation.Store, error) {
	if m.deps.Backend == config.HistorySQLite {
		s, err := conversation.NewSQLiteStore()
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		return s, nil
	}
	return conversation.NewMemoryStore(), nil
}

// DefaultModel is the model new sessions start on.
func (m *Manager) DefaultModel() string {
	if m.deps.DefaultModel == "" {
		return catalog.DefaultModel
	}
	return m.deps.DefaultModel
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete ends a session and discards its transcript.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.discard(s)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
// Sessions with a query in flight are kept.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now) > m.ttl && !s.Orchestrator.Busy() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.discard(s)
	}
	return len(expired)
}

func (m *Manager) discard(s *Session) {
	if err := s.Store.Close(); err != nil {
		logger.L.Warn("session store close failed", "session", s.ID, "error", err)
	}
	logger.L.Info("session discarded", "session", s.ID)
}

func (m *Manager) janitor() {
	defer m.wg.Done()
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.L.Debug("expired sessions swept", "count", n)
			}
		}
	}
}

// Close stops the janitor and discards every session.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		m.discard(s)
	}
	return nil
}
