// Package session keeps review sessions in memory, each owning one
// controller. The HTTP and MCP surfaces are concurrent; a session's
// controller is only ever touched under that session's lock.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/logging"
)

// Session is one review of one analysis document.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	ctrl     *controller.Controller
	lastUsed time.Time
}

// Do runs fn with exclusive access to the session's controller.
func (s *Session) Do(fn func(c *controller.Controller) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return fn(s.ctrl)
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	opts     controller.Options
	logger   *log.Logger
	now      func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewManager creates a manager. Sessions idle longer than ttl are dropped;
// ttl <= 0 keeps them until Close.
func NewManager(opts controller.Options, ttl time.Duration, logger *log.Logger) *Manager {
	logger = logging.OrDiscard(logger)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

func (m *Manager) newID() string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// Create starts a session reviewing a.
func (m *Manager) Create(a *document.Analysis) (*Session, error) {
	c := controller.New(m.opts)
	if err := c.Load(a); err != nil {
		return nil, err
	}
	now := m.now()
	s := &Session{ID: m.newID(), CreatedAt: now, ctrl: c, lastUsed: now}

	m.mu.Lock()
	m.expireLocked()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session", s.ID)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewNotFound("session", id)
	}
	return s, nil
}

// Delete ends a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errors.NewNotFound("session", id)
	}
	_ = s.Do(func(c *controller.Controller) error {
		c.Close()
		return nil
	})
	return nil
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.mu.Lock()
		s.ctrl.Close()
		s.mu.Unlock()
	}
}

// expireLocked drops idle sessions. Caller holds m.mu.
func (m *Manager) expireLocked() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			// in use, so not idle
			continue
		}
		idle := s.lastUsed.Before(cutoff)
		if idle {
			s.ctrl.Close()
			delete(m.sessions, id)
		}
		s.mu.Unlock()
		if idle {
			m.logger.Debug("session expired", "session", id)
		}
	}
}
