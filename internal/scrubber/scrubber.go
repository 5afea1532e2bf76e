// Package scrubber drives a virtual playback clock over a snapshot timeline.
//
// Playback time runs from 0 to the timeline's duration. While playing, a
// ticker advances it by wall time scaled by the speed and a fixed multiplier,
// and listeners are told whenever the displayed snapshot or turn changes.
package scrubber

import (
	"errors"
	"math"
	"sync"
	"time"

	"replay-engine/internal/history"
	"replay-engine/internal/state"

	"go.uber.org/zap"
)

var (
	ErrInvalidSpeed = errors.New("scrubber: invalid speed")
	ErrInvalidTime  = errors.New("scrubber: invalid time")
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultMultiplier   = 1.5
)

// DefaultSpeeds are the playback speeds a user can pick from.
var DefaultSpeeds = []float64{0.75, 1, 1.5, 2, 3, 4, 8}

// Scrubber is safe for concurrent use.
type Scrubber struct {
	mu sync.Mutex

	history *history.History
	cursor  *history.Cursor

	initialTime float64
	hasInitial  bool
	endTime     float64
	currentTime float64

	speed      float64
	speeds     []float64
	multiplier float64

	startTurn    int
	readyEmitted bool
	started      bool

	playing    bool
	lastUpdate time.Time
	interval   time.Duration
	manualTick bool
	stop       chan struct{}

	lastState *state.GameState
	seen      map[int]struct{}

	inhibitor  Inhibitor
	now        func() time.Time
	listeners  []Listener
	pending    []Event
	delivering bool
	logger     *zap.Logger
}

// Option configures a Scrubber.
type Option func(*Scrubber)

// WithHistory scrubs over h instead of a fresh history. Several scrubbers may share one.
func WithHistory(h *history.History) Option {
	return func(s *Scrubber) {
		if h != nil {
			s.history = h
		}
	}
}

// WithStartTurn delays the ready event until turn n is recorded and starts there.
func WithStartTurn(n int) Option {
	return func(s *Scrubber) { s.startTurn = n }
}

// WithSpeed sets the initial speed. It must be one of the allowed speeds.
func WithSpeed(v float64) Option {
	return func(s *Scrubber) { s.speed = v }
}

// WithSpeeds replaces the allowed speeds.
func WithSpeeds(speeds []float64) Option {
	return func(s *Scrubber) {
		if len(speeds) > 0 {
			s.speeds = append([]float64(nil), speeds...)
		}
	}
}

// WithMultiplier sets the constant every speed is scaled by.
func WithMultiplier(m float64) Option {
	return func(s *Scrubber) {
		if m > 0 {
			s.multiplier = m
		}
	}
}

// WithTickInterval sets how often the clock advances while playing.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scrubber) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithManualTick disables the internal ticker; the host advances the
// clock by calling Tick from its own loop.
func WithManualTick() Option {
	return func(s *Scrubber) { s.manualTick = true }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scrubber) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInhibitor sets the inhibitor consulted on every tick.
func WithInhibitor(i Inhibitor) Option {
	return func(s *Scrubber) { s.inhibitor = i }
}

// WithListeners registers event listeners.
func WithListeners(ls ...Listener) Option {
	return func(s *Scrubber) { s.listeners = append(s.listeners, ls...) }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scrubber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scrubber. It fails when the initial speed is not allowed.
func New(opts ...Option) (*Scrubber, error) {
	s := &Scrubber{
		cursor:     history.NewCursor(),
		speed:      1,
		speeds:     DefaultSpeeds,
		multiplier: DefaultMultiplier,
		interval:   DefaultTickInterval,
		seen:       make(map[int]struct{}),
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = history.New(history.WithLogger(s.logger))
	}
	if !s.validSpeed(s.speed) {
		return nil, ErrInvalidSpeed
	}
	return s, nil
}

// do runs fn under the lock and delivers the events it raised afterwards.
// Events reach listeners in the order they were raised: one caller at a
// time drains the queue, and callers that find it draining leave their
// events to it.
func (s *Scrubber) do(fn func()) {
	s.mu.Lock()
	fn()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		events := s.pending
		s.pending = nil
		listeners := s.listeners
		s.mu.Unlock()
		s.deliver(listeners, events)
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func (s *Scrubber) deliver(listeners []Listener, events []Event) {
	done := false
	defer func() {
		if !done {
			// A listener panicked; let the next caller drain.
			s.mu.Lock()
			s.delivering = false
			s.mu.Unlock()
		}
	}()
	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
	done = true
}

func (s *Scrubber) emit(kind EventKind) {
	s.pending = append(s.pending, Event{Kind: kind, Time: s.currentTime, Turn: s.currentTurn()})
}

// Push ingests a snapshot. Untimed snapshots only count towards readiness.
func (s *Scrubber) Push(gs *state.GameState) {
	s.do(func() {
		ready, refresh := false, false
		if t, ok := gs.Time(); ok {
			// A snapshot at or before the displayed time replaces what is on screen.
			refresh = s.hasInitial && t <= s.currentTime+s.initialTime
			if !s.hasInitial {
				s.initialTime = t
				s.endTime = t
				s.hasInitial = true
				ready = true
			}
			s.history.Push(gs)
			if t > s.endTime {
				s.endTime = t
			}
		}

		if !s.started && !s.readyEmitted && s.currentTime == 0 && s.startTurn > 0 {
			ready = false
			if turn, ok := s.history.Turn(s.startTurn); ok {
				s.currentTime = turn.Time - s.initialTime
				ready = true
			}
		}

		switch {
		case ready:
			s.emit(EventReady)
			s.readyEmitted = true
			s.update()
		case refresh && s.readyEmitted:
			s.update()
		}
	})
}

// End signals that no more snapshots will arrive. A scrubber waiting for a
// start turn that never came becomes ready at the beginning.
func (s *Scrubber) End() {
	s.do(func() {
		if s.readyEmitted {
			return
		}
		s.emit(EventReady)
		s.readyEmitted = true
		s.update()
	})
}

// Play starts advancing the clock.
func (s *Scrubber) Play() {
	s.do(s.play)
}

func (s *Scrubber) play() {
	if s.playing {
		return
	}
	s.playing = true
	s.started = true
	s.lastUpdate = s.now()
	s.lastState = nil
	if !s.manualTick {
		s.stop = make(chan struct{})
		go s.run(s.stop, s.interval)
	}
	s.emit(EventPlay)
	s.update()
}

func (s *Scrubber) run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-stop:
			return
		}
	}
}

// Tick advances the clock by the wall time elapsed since the previous
// evaluation. It is driven by the internal ticker unless WithManualTick is set.
func (s *Scrubber) Tick() {
	s.do(func() {
		if s.playing {
			s.update()
		}
	})
}

// Pause stops the clock in place.
func (s *Scrubber) Pause() {
	s.do(s.pause)
}

func (s *Scrubber) pause() {
	s.halt()
	s.emit(EventPause)
	s.update()
}

func (s *Scrubber) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.playing = false
}

// Toggle pauses when playing and plays otherwise.
func (s *Scrubber) Toggle() {
	s.do(func() {
		if s.playing {
			s.pause()
		} else {
			s.play()
		}
	})
}

// Close stops the ticker without raising events.
func (s *Scrubber) Close() {
	s.mu.Lock()
	s.halt()
	s.mu.Unlock()
}

// update re-evaluates the clock and the displayed snapshot.
func (s *Scrubber) update() {
	if !s.hasInitial {
		return
	}
	lastTurn := s.currentTurn()
	s.seen[int(math.Floor(s.currentTime))] = struct{}{}

	if s.playing && s.speed != 0 {
		now := s.now()
		elapsed := now.Sub(s.lastUpdate).Seconds() * s.speed * s.multiplier
		s.lastUpdate = now

		if !s.inhibited() {
			s.currentTime += elapsed
			if s.hasEnded() {
				s.currentTime = s.endTime - s.initialTime
				s.pause()
				return
			}
		}
	}

	if latest := s.cursor.Latest(s.history, s.currentTime+s.initialTime); latest != nil {
		if gs := latest.State(); gs != s.lastState {
			s.lastState = gs
			s.pending = append(s.pending, Event{Kind: EventState, Time: s.currentTime, Turn: s.currentTurn(), State: gs})
		}
	}

	if turn := s.currentTurn(); turn != lastTurn {
		s.emit(EventTurn)
	}
	s.emit(EventUpdate)
}

func (s *Scrubber) inhibited() bool {
	return s.inhibitor != nil && s.inhibitor.Inhibiting()
}

// SetInhibitor replaces the inhibitor. Nil removes it.
func (s *Scrubber) SetInhibitor(i Inhibitor) {
	s.mu.Lock()
	s.inhibitor = i
	s.mu.Unlock()
}

// Seek jumps to playback time t. Times before the start clamp to 0 and
// times past the end clamp to the duration.
func (s *Scrubber) Seek(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return ErrInvalidTime
	}
	s.do(func() {
		if t < 0 {
			s.logger.Warn("scrubber: seek before start", zap.Float64("time", t))
			t = 0
		}
		if s.hasInitial && t > s.duration() {
			t = s.duration()
		}
		if t == s.currentTime {
			return
		}
		s.currentTime = t
		s.update()
	})
	return nil
}

// Rewind jumps to the start.
func (s *Scrubber) Rewind() {
	s.do(func() {
		s.currentTime = 0
		s.update()
	})
}

// FastForward jumps to the end and pauses.
func (s *Scrubber) FastForward() {
	s.do(func() {
		s.currentTime = s.endTime - s.initialTime
		s.pause()
	})
}

// SetSpeed changes the playback speed. Zero freezes the clock while playing.
func (s *Scrubber) SetSpeed(v float64) error {
	if !s.validSpeed(v) {
		return ErrInvalidSpeed
	}
	s.do(func() {
		// Account for the time played at the old speed before switching.
		s.update()
		s.speed = v
	})
	return nil
}

func (s *Scrubber) validSpeed(v float64) bool {
	if v == 0 {
		return true
	}
	for _, allowed := range s.speeds {
		if v == allowed {
			return true
		}
	}
	return false
}

// Speeds returns the allowed speeds.
func (s *Scrubber) Speeds() []float64 {
	return append([]float64(nil), s.speeds...)
}
