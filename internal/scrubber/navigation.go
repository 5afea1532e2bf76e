package scrubber

import (
	"math"

	"replay-engine/internal/entity"
	"replay-engine/internal/history"
	"replay-engine/internal/state"
)

// skipBackTicks is how many seconds of a turn, at speed 1 and without the
// multiplier, must have played before SkipBack restarts the turn instead of
// going to the previous one.
const skipBackTicks = 1.5

// currentTurn is the turn of the displayed snapshot. Everything before
// turn one, and everything while no turn is indexed, is turn 0.
func (s *Scrubber) currentTurn() int {
	if s.lastState == nil {
		return 0
	}
	game, ok := s.lastState.Game()
	if !ok {
		return 0
	}
	if s.history.TurnCount() == 0 {
		return 0
	}
	if one, ok := s.history.Turn(1); ok {
		if t, _ := s.lastState.Time(); t < one.Time {
			return 0
		}
	}
	return game.Tag(entity.TagTurn)
}

// turnTime converts a recorded turn to playback time.
func (s *Scrubber) turnTime(t history.Turn) float64 {
	return t.Time - s.initialTime
}

// NextTurn jumps to the start of the next recorded turn, or to the end
// when there is none.
func (s *Scrubber) NextTurn() {
	s.do(func() {
		target := s.duration()
		turns := s.history.Turns()
		if len(turns) > 0 {
			current := s.currentTurn()
			if s.currentTime < s.turnTime(turns[0]) {
				current--
			}
			last := turns[len(turns)-1].Number
			for n := current + 1; n <= last; n++ {
				if t, ok := s.history.Turn(n); ok {
					target = s.turnTime(t)
					break
				}
			}
		}
		s.currentTime = target
		s.update()
	})
}

// PreviousTurn jumps to the start of the previous recorded turn, or to
// the beginning when there is none.
func (s *Scrubber) PreviousTurn() {
	s.do(s.previousTurn)
}

func (s *Scrubber) previousTurn() {
	target := 0.0
	for n := s.currentTurn() - 1; n >= 0; n-- {
		if t, ok := s.history.Turn(n); ok {
			target = s.turnTime(t)
			break
		}
	}
	s.currentTime = target
	s.update()
}

// SkipBack restarts the current turn, or goes to the previous turn when
// the current one has only just started. While paused it always goes to
// the previous turn unless time has passed since the turn started.
func (s *Scrubber) SkipBack() {
	s.do(func() {
		start, ok := s.history.Turn(s.currentTurn())
		if !ok {
			s.previousTurn()
			return
		}
		threshold := 0.0
		if s.playing {
			threshold = skipBackTicks * s.speed * s.multiplier
		}
		if s.currentTime-s.turnTime(start) > threshold {
			s.currentTime = s.turnTime(start)
			s.update()
			return
		}
		s.previousTurn()
	})
}

// NextAction steps to the next snapshot on the timeline.
func (s *Scrubber) NextAction() {
	s.do(func() {
		n := s.cursor.Latest(s.history, s.currentTime+s.initialTime)
		if n == nil || n.Next() == nil {
			return
		}
		s.currentTime = n.Next().Time() - s.initialTime
		s.update()
	})
}

// PreviousAction steps to the snapshot before the displayed one.
func (s *Scrubber) PreviousAction() {
	s.do(func() {
		n := s.cursor.Latest(s.history, s.currentTime+s.initialTime)
		if n == nil || n.Prev() == nil {
			return
		}
		s.currentTime = n.Prev().Time() - s.initialTime
		s.update()
	})
}

func (s *Scrubber) duration() float64 {
	return math.Max(s.endTime-s.initialTime, 0)
}

func (s *Scrubber) hasEnded() bool {
	return s.hasInitial && s.currentTime+s.initialTime >= s.endTime
}

func (s *Scrubber) secondsWatched() int {
	// Second 0 is always marked.
	if len(s.seen) == 0 {
		return 0
	}
	return len(s.seen) - 1
}

func (s *Scrubber) percentageWatched() float64 {
	p := 100 / math.Floor(s.duration()) * float64(s.secondsWatched())
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return p
}

func (s *Scrubber) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

func (s *Scrubber) CurrentTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn()
}

func (s *Scrubber) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Scrubber) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration()
}

// HasEnded reports whether the clock has reached the last snapshot.
func (s *Scrubber) HasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasEnded()
}

func (s *Scrubber) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scrubber) IsPaused() bool { return !s.IsPlaying() }

// CanInteract reports whether playback has been started at least once.
func (s *Scrubber) CanInteract() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Scrubber) CanRewind() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime > 0 || s.playing
}

func (s *Scrubber) CanPlay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hasEnded() && s.started
}

// SecondsWatched counts the distinct whole seconds the clock has shown,
// not counting second 0.
func (s *Scrubber) SecondsWatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondsWatched()
}

// PercentageWatched relates SecondsWatched to the duration. It is 0 for
// timelines shorter than a second.
func (s *Scrubber) PercentageWatched() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentageWatched()
}

func (s *Scrubber) History() *history.History { return s.history }

// State returns the displayed snapshot, nil before the first evaluation.
func (s *Scrubber) State() *state.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastState
}

// TurnStart is a recorded turn in playback time.
type TurnStart struct {
	Number int     `json:"number"`
	Time   float64 `json:"time"`
}

// TurnStarts returns the recorded turns in order, timed like CurrentTime
// so each can be passed to Seek.
func (s *Scrubber) TurnStarts() []TurnStart {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.history.Turns()
	out := make([]TurnStart, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnStart{Number: t.Number, Time: s.turnTime(t)})
	}
	return out
}

// Status is a consistent view of the playback state.
type Status struct {
	Ready             bool    `json:"ready"`
	Playing           bool    `json:"playing"`
	Ended             bool    `json:"ended"`
	CanInteract       bool    `json:"canInteract"`
	CanRewind         bool    `json:"canRewind"`
	CanPlay           bool    `json:"canPlay"`
	CurrentTime       float64 `json:"currentTime"`
	Duration          float64 `json:"duration"`
	CurrentTurn       int     `json:"currentTurn"`
	Speed             float64 `json:"speed"`
	SecondsWatched    int     `json:"secondsWatched"`
	PercentageWatched float64 `json:"percentageWatched"`
	Snapshots         int     `json:"snapshots"`
	Turns             int     `json:"turns"`
}

// Status returns every query at once, taken under a single lock.
func (s *Scrubber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Ready:             s.readyEmitted,
		Playing:           s.playing,
		Ended:             s.hasEnded(),
		CanInteract:       s.started,
		CanRewind:         s.currentTime > 0 || s.playing,
		CanPlay:           !s.hasEnded() && s.started,
		CurrentTime:       s.currentTime,
		Duration:          s.duration(),
		CurrentTurn:       s.currentTurn(),
		Speed:             s.speed,
		SecondsWatched:    s.secondsWatched(),
		PercentageWatched: s.percentageWatched(),
		Snapshots:         s.history.Len(),
		Turns:             s.history.TurnCount(),
	}
}
