// Package session glues the playback core together for one replay: a
// tracker with the timing plugins feeds a scrubber, and an oracle records
// what the decoder learns on the side. Sessions are owned by a Manager.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"replay-engine/internal/oracle"
	"replay-engine/internal/scrubber"
	"replay-engine/internal/state"
	"replay-engine/internal/tracker"

	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrClosed       = errors.New("session: closed")
	ErrEnded        = errors.New("session: stream already ended")
	ErrLimitReached = errors.New("session: limit reached")
)

// Observer receives everything a session wants to tell its viewers.
// Calls arrive from the goroutine that caused them and must not block.
type Observer interface {
	OnPlayback(sessionID string, e scrubber.Event)
	OnOracle(sessionID string, n oracle.Notification)
}

type nopObserver struct{}

func (nopObserver) OnPlayback(string, scrubber.Event)    {}
func (nopObserver) OnOracle(string, oracle.Notification) {}

// Info is a point-in-time description of a session.
type Info struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	LastActive time.Time       `json:"lastActive"`
	Ended      bool            `json:"ended"`
	Applied    uint64          `json:"mutationsApplied"`
	Playback   scrubber.Status `json:"playback"`
}

// CreateOptions customise a single session.
type CreateOptions struct {
	StartTurn int     `json:"startTurn,omitempty"`
	Speed     float64 `json:"speed,omitempty"` // 0 means the configured default
}

// Session is safe for concurrent use. Mutations are applied one batch at
// a time; playback controls go straight to the scrubber.
type Session struct {
	id      string
	created time.Time

	mu         sync.Mutex
	tracker    *tracker.Tracker
	ended      bool
	closed     bool
	lastActive time.Time

	scrubber *scrubber.Scrubber
	oracle   *oracle.Oracle
	now      func() time.Time
	logger   *zap.Logger
}

func newSession(id string, cfg Config, opts CreateOptions, observer Observer, now func() time.Time, logger *zap.Logger) (*Session, error) {
	s := &Session{
		id:      id,
		created: now(),
		now:     now,
		logger:  logger.With(zap.String("session", id)),
	}
	s.lastActive = s.created

	speed := cfg.DefaultSpeed
	if opts.Speed != 0 {
		speed = opts.Speed
	}
	scrubberOpts := []scrubber.Option{
		scrubber.WithSpeeds(cfg.Speeds),
		scrubber.WithSpeed(speed),
		scrubber.WithMultiplier(cfg.Multiplier),
		scrubber.WithTickInterval(cfg.TickInterval),
		scrubber.WithStartTurn(opts.StartTurn),
		scrubber.WithLogger(s.logger),
		scrubber.WithListeners(func(e scrubber.Event) { observer.OnPlayback(id, e) }),
	}
	if cfg.ManualTick {
		scrubberOpts = append(scrubberOpts, scrubber.WithManualTick())
	}
	scr, err := scrubber.New(scrubberOpts...)
	if err != nil {
		return nil, fmt.Errorf("speed %v: %w", speed, err)
	}
	s.scrubber = scr

	s.oracle = oracle.New(
		oracle.WithLogger(s.logger),
		oracle.WithListeners(func(n oracle.Notification) { observer.OnOracle(id, n) }),
	)
	s.tracker = tracker.New(
		tracker.WithPlugins(tracker.CoinPlugin{}, tracker.NewTimerPlugin()),
		tracker.WithSinks(scr),
		tracker.WithLogger(s.logger),
	)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.created }

// Scrubber exposes playback controls and queries.
func (s *Session) Scrubber() *scrubber.Scrubber { return s.scrubber }

// Oracle exposes the side channel.
func (s *Session) Oracle() *oracle.Oracle { return s.oracle }

// Apply feeds a batch of mutations through the tracker in order. It
// returns how many were applied before the first error.
func (s *Session) Apply(ms []state.Mutation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.ended {
		return 0, ErrEnded
	}
	s.lastActive = s.now()

	for i, m := range ms {
		if _, err := s.tracker.Apply(m); err != nil {
			return i, fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return len(ms), nil
}

// End marks the stream complete. Further mutations are refused.
func (s *Session) End() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.lastActive = s.now()
	s.mu.Unlock()

	s.scrubber.End()
	s.logger.Debug("stream ended", zap.Uint64("mutations", s.tracker.Applied()))
	return nil
}

// Touch records viewer activity so the session is not reaped.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

// Close stops playback. A closed session refuses all further input.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.scrubber.Close()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:         s.id,
		CreatedAt:  s.created,
		LastActive: s.lastActive,
		Ended:      s.ended,
		Applied:    s.tracker.Applied(),
	}
	s.mu.Unlock()
	info.Playback = s.scrubber.Status()
	return info
}
