package session

import (
	"sort"
	"sync"
	"time"

	"replay-engine/internal/scrubber"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the limits and playback defaults every new session uses.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration // 0 disables reaping

	TickInterval time.Duration
	Multiplier   float64
	DefaultSpeed float64
	Speeds       []float64
	ManualTick   bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:  64,
		IdleTimeout:  30 * time.Minute,
		TickInterval: scrubber.DefaultTickInterval,
		Multiplier:   scrubber.DefaultMultiplier,
		DefaultSpeed: 1,
		Speeds:       scrubber.DefaultSpeeds,
	}
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      Config
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
}

type Option func(*Manager)

// WithObserver routes session events to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrLimitReached
	}
	s, err := newSession(uuid.NewString(), m.cfg, opts, m.observer, m.now, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[s.id] = s
	m.logger.Info("session created", zap.String("session", s.id), zap.Int("sessions", len(m.sessions)))
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List describes every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	m.logger.Info("session deleted", zap.String("session", id))
	return nil
}

// Start launches the idle reaper. Without an idle timeout it does nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running || m.cfg.IdleTimeout <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	interval := m.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	go m.reapLoop(interval)
}

func (m *Manager) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Reap deletes sessions idle for longer than the idle timeout, unless
// they are still playing. It returns how many were removed.
func (m *Manager) Reap() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && !s.scrubber.IsPlaying() {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		m.logger.Info("session reaped", zap.String("session", s.id))
	}
	return len(stale)
}

// Stop halts the reaper and closes every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
