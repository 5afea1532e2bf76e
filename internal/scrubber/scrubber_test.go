package scrubber

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"replay-engine/internal/entity"
	"replay-engine/internal/history"
	"replay-engine/internal/state"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func snapshot(t float64, step, turn int) *state.GameState {
	return state.New().
		Apply(state.SetTime{Time: t}).
		Apply(state.AddEntity{Entity: entity.New(entity.GameEntityID, entity.NewTagMap(map[int]int{
			entity.TagStep: step,
			entity.TagTurn: turn,
		}), "")})
}

// timeline starts at 10 and ends at 24. Turns 1, 2 and 3 start at
// playback times 2, 8 and 10.
func timeline() []*state.GameState {
	return []*state.GameState{
		snapshot(10, entity.StepBeginMulligan, 1),
		snapshot(12, entity.StepMainStart, 1),
		snapshot(15, entity.StepMainAction, 1),
		snapshot(18, entity.StepMainStart, 2),
		snapshot(20, entity.StepMainStart, 3),
		snapshot(24, entity.StepMainAction, 3),
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) listen(e Event) { r.events = append(r.events, e) }

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func newLoaded(t *testing.T, opts ...Option) (*Scrubber, *fakeClock, *recorder) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rec := &recorder{}
	opts = append([]Option{WithManualTick(), WithClock(clock.Now), WithListeners(rec.listen)}, opts...)
	s, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	for _, gs := range timeline() {
		s.Push(gs)
	}
	s.End()
	return s, clock, rec
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOverlappingControlsDeliverInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		armed bool
		last  *state.GameState
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	listen := func(e Event) {
		if e.Kind != EventState {
			return
		}
		mu.Lock()
		block := armed
		armed = false
		mu.Unlock()
		if block {
			close(entered)
			<-release
		}
		mu.Lock()
		last = e.State
		mu.Unlock()
	}

	s, _, _ := newLoaded(t, WithListeners(listen))
	mu.Lock()
	armed = true
	mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.Seek(5)
		close(done)
	}()
	<-entered

	// The first seek is still delivering; this one must not overtake it.
	if err := s.Seek(14); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if last != s.State() {
		lt, _ := last.Time()
		st, _ := s.State().Time()
		t.Errorf("Listener last saw t=%v, scrubber displays t=%v", lt, st)
	}
}

func TestTurnStartsArePlaybackTimes(t *testing.T) {
	s, _, _ := newLoaded(t)

	starts := s.TurnStarts()
	want := []TurnStart{{1, 2}, {2, 8}, {3, 10}}
	if len(starts) != len(want) {
		t.Fatalf("Expected %d turns, got %+v", len(want), starts)
	}
	for i, ts := range starts {
		if ts != want[i] {
			t.Errorf("turn %d: expected %+v, got %+v", i, want[i], ts)
		}
		_ = s.Seek(ts.Time)
		if s.CurrentTurn() != ts.Number {
			t.Errorf("Seeking to %v should show turn %d, got %d", ts.Time, ts.Number, s.CurrentTurn())
		}
	}
}

func TestPushRefreshesDisplayedSnapshot(t *testing.T) {
	rec := &recorder{}
	s, _ := New(WithManualTick(), WithListeners(rec.listen))

	s.Push(snapshot(10, entity.StepBeginMulligan, 0))
	replaced := snapshot(10, entity.StepMainStart, 1)
	s.Push(replaced)
	if s.State() != replaced {
		t.Error("A snapshot at the displayed time should replace the displayed one")
	}

	s.Push(snapshot(12, entity.StepMainStart, 2))
	if s.State() != replaced {
		t.Error("A later snapshot should not change the display while paused")
	}
	if rec.count(EventState) != 2 {
		t.Errorf("Expected 2 state events, got %d", rec.count(EventState))
	}
}

func TestNewRejectsInvalidSpeed(t *testing.T) {
	if _, err := New(WithSpeed(5)); !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("Expected ErrInvalidSpeed, got %v", err)
	}
}

func TestReadyOnFirstTimedSnapshot(t *testing.T) {
	rec := &recorder{}
	s, _ := New(WithManualTick(), WithListeners(rec.listen))

	s.Push(state.New())
	if rec.count(EventReady) != 0 {
		t.Fatal("Untimed snapshot should not make the scrubber ready")
	}
	s.Push(snapshot(10, entity.StepBeginMulligan, 1))
	if rec.count(EventReady) != 1 {
		t.Fatal("Expected ready after first timed snapshot")
	}
	if rec.count(EventState) != 1 {
		t.Error("Expected the first snapshot to be displayed")
	}
	s.Push(snapshot(11, entity.StepBeginMulligan, 1))
	s.End()
	if rec.count(EventReady) != 1 {
		t.Error("Ready should be emitted once")
	}
	if !approx(s.Duration(), 1) {
		t.Errorf("Expected duration 1, got %v", s.Duration())
	}
}

func TestPlayAdvancesClock(t *testing.T) {
	s, clock, rec := newLoaded(t)

	if s.CanInteract() || s.CanPlay() {
		t.Error("Playback has not been started yet")
	}
	s.Play()
	if !s.IsPlaying() || rec.count(EventPlay) != 1 {
		t.Fatal("Expected playing")
	}
	clock.Advance(time.Second)
	s.Tick()
	if got := s.CurrentTime(); !approx(got, 1.5) {
		t.Errorf("Expected 1.5s at speed 1 with multiplier, got %v", got)
	}

	if err := s.SetSpeed(2); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	s.Tick()
	if got := s.CurrentTime(); !approx(got, 4.5) {
		t.Errorf("Expected 4.5s after a second at speed 2, got %v", got)
	}
	if !s.CanInteract() || !s.CanPlay() || !s.CanRewind() {
		t.Error("Expected interactive playback")
	}
}

func TestPlayStopsAtEnd(t *testing.T) {
	s, clock, rec := newLoaded(t)
	s.Play()
	clock.Advance(time.Minute)
	s.Tick()

	if s.IsPlaying() {
		t.Error("Playback should pause at the end")
	}
	if !s.HasEnded() || !approx(s.CurrentTime(), 14) {
		t.Errorf("Expected ended at 14, got %v", s.CurrentTime())
	}
	if rec.count(EventPause) != 1 {
		t.Errorf("Expected one pause event, got %d", rec.count(EventPause))
	}
	if s.CanPlay() {
		t.Error("Cannot play past the end")
	}
	if st := s.State(); st == nil {
		t.Fatal("Expected a displayed state")
	} else if tm, _ := st.Time(); tm != 24 {
		t.Errorf("Expected last snapshot displayed, got %v", tm)
	}
}

func TestInhibitorFreezesClock(t *testing.T) {
	inhibit := true
	s, clock, _ := newLoaded(t, WithInhibitor(InhibitorFunc(func() bool { return inhibit })))
	s.Play()
	clock.Advance(time.Second)
	s.Tick()
	if s.CurrentTime() != 0 || !s.IsPlaying() {
		t.Error("Inhibited clock should not advance nor pause")
	}
	inhibit = false
	clock.Advance(time.Second)
	s.Tick()
	if !approx(s.CurrentTime(), 1.5) {
		t.Errorf("Expected 1.5 after release, got %v", s.CurrentTime())
	}
}

func TestZeroSpeedFreezesClock(t *testing.T) {
	s, clock, _ := newLoaded(t)
	if err := s.SetSpeed(0); err != nil {
		t.Fatal(err)
	}
	s.Play()
	clock.Advance(time.Second)
	s.Tick()
	if s.CurrentTime() != 0 {
		t.Errorf("Expected frozen clock, got %v", s.CurrentTime())
	}
}

func TestBounds(t *testing.T) {
	s, _, _ := newLoaded(t)

	if err := s.Seek(5); err != nil {
		t.Fatal(err)
	}
	s.Rewind()
	if s.CurrentTime() != 0 {
		t.Errorf("Expected 0 after rewind, got %v", s.CurrentTime())
	}
	if s.HasEnded() {
		t.Error("Should not have ended at 0")
	}

	s.Play()
	s.FastForward()
	if !approx(s.CurrentTime(), 14) || s.IsPlaying() {
		t.Errorf("Expected paused at 14, got %v playing=%v", s.CurrentTime(), s.IsPlaying())
	}
	if !s.HasEnded() {
		t.Error("Expected ended")
	}
}

func TestSeek(t *testing.T) {
	s, _, rec := newLoaded(t)

	tests := []struct {
		name string
		in   float64
		want float64
		err  error
	}{
		{"within", 3, 3, nil},
		{"before start clamps", -4, 0, nil},
		{"past end clamps", 100, 14, nil},
		{"nan", math.NaN(), 14, ErrInvalidTime},
		{"inf", math.Inf(1), 14, ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Seek(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}
			if !approx(s.CurrentTime(), tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, s.CurrentTime())
			}
		})
	}

	updates := rec.count(EventUpdate)
	_ = s.Seek(14)
	if rec.count(EventUpdate) != updates {
		t.Error("Seeking to the current time should not re-evaluate")
	}
}

func TestSetSpeed(t *testing.T) {
	s, _, _ := newLoaded(t)
	for _, v := range []float64{0.75, 1, 1.5, 2, 3, 4, 8, 0} {
		if err := s.SetSpeed(v); err != nil {
			t.Errorf("Speed %v should be allowed: %v", v, err)
		}
	}
	for _, v := range []float64{-1, 5, 0.5} {
		if err := s.SetSpeed(v); !errors.Is(err, ErrInvalidSpeed) {
			t.Errorf("Speed %v should be rejected, got %v", v, err)
		}
	}
	if s.Speed() != 0 {
		t.Errorf("Rejected speeds must not change the speed, got %v", s.Speed())
	}
}

func TestCurrentTurn(t *testing.T) {
	s, _, _ := newLoaded(t)

	tests := []struct {
		at   float64
		want int
	}{
		{0, 0},   // mulligan, before turn one
		{2, 1},   // turn one starts
		{7.9, 1}, // still turn one
		{8, 2},
		{10, 3},
		{14, 3},
	}
	for _, tt := range tests {
		_ = s.Seek(tt.at)
		if got := s.CurrentTurn(); got != tt.want {
			t.Errorf("At %v expected turn %d, got %d", tt.at, tt.want, got)
		}
	}
}

func TestCurrentTurnWithoutIndex(t *testing.T) {
	s, _ := New(WithManualTick())
	s.Push(snapshot(1, entity.StepBeginMulligan, 1))
	s.Push(snapshot(2, entity.StepBeginMulligan, 1))
	_ = s.Seek(1)
	if s.CurrentTurn() != 0 {
		t.Errorf("Expected turn 0 with an empty turn index, got %d", s.CurrentTurn())
	}
}

func TestTurnEvents(t *testing.T) {
	s, _, rec := newLoaded(t)
	before := rec.count(EventTurn)
	_ = s.Seek(8)
	if rec.count(EventTurn) != before+1 {
		t.Fatal("Expected a turn event")
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != EventUpdate || last.Turn != 2 {
		t.Errorf("Expected final update on turn 2, got %+v", last)
	}
}

func TestTurnNavigation(t *testing.T) {
	s, _, _ := newLoaded(t)

	for _, want := range []float64{2, 8, 10, 14} {
		s.NextTurn()
		if got := s.CurrentTime(); !approx(got, want) {
			t.Errorf("NextTurn: expected %v, got %v", want, got)
		}
	}

	_ = s.Seek(10)
	for _, want := range []float64{8, 2, 0} {
		s.PreviousTurn()
		if got := s.CurrentTime(); !approx(got, want) {
			t.Errorf("PreviousTurn: expected %v, got %v", want, got)
		}
	}
}

func TestSkipBack(t *testing.T) {
	t.Run("paused mid turn restarts the turn", func(t *testing.T) {
		s, _, _ := newLoaded(t)
		_ = s.Seek(9)
		s.SkipBack()
		if !approx(s.CurrentTime(), 8) {
			t.Errorf("Expected 8, got %v", s.CurrentTime())
		}
		s.SkipBack()
		if !approx(s.CurrentTime(), 2) {
			t.Errorf("Expected previous turn at 2, got %v", s.CurrentTime())
		}
	})

	t.Run("playing near turn start goes to previous turn", func(t *testing.T) {
		s, _, _ := newLoaded(t)
		_ = s.Seek(9)
		s.Play()
		s.SkipBack()
		if !approx(s.CurrentTime(), 2) {
			t.Errorf("Expected 2, got %v", s.CurrentTime())
		}
	})

	t.Run("playing well into the turn restarts it", func(t *testing.T) {
		s, _, _ := newLoaded(t)
		_ = s.Seek(5)
		s.Play()
		s.SkipBack()
		if !approx(s.CurrentTime(), 2) {
			t.Errorf("Expected 2, got %v", s.CurrentTime())
		}
	})

	t.Run("before turn one", func(t *testing.T) {
		s, _, _ := newLoaded(t)
		_ = s.Seek(1)
		s.SkipBack()
		if s.CurrentTime() != 0 {
			t.Errorf("Expected 0, got %v", s.CurrentTime())
		}
	})
}

func TestActionNavigation(t *testing.T) {
	s, _, _ := newLoaded(t)

	for _, want := range []float64{2, 5, 8, 10, 14, 14} {
		s.NextAction()
		if got := s.CurrentTime(); !approx(got, want) {
			t.Errorf("NextAction: expected %v, got %v", want, got)
		}
	}
	for _, want := range []float64{10, 8, 5, 2, 0, 0} {
		s.PreviousAction()
		if got := s.CurrentTime(); !approx(got, want) {
			t.Errorf("PreviousAction: expected %v, got %v", want, got)
		}
	}
}

func TestStartTurn(t *testing.T) {
	rec := &recorder{}
	s, _ := New(WithManualTick(), WithStartTurn(2), WithListeners(rec.listen))
	states := timeline()

	for _, gs := range states[:3] {
		s.Push(gs)
	}
	if rec.count(EventReady) != 0 {
		t.Fatal("Should wait for the requested turn")
	}
	s.Push(states[3])
	if rec.count(EventReady) != 1 {
		t.Fatal("Expected ready once turn 2 is recorded")
	}
	if !approx(s.CurrentTime(), 8) {
		t.Errorf("Expected to start at turn 2, got %v", s.CurrentTime())
	}
	s.Push(states[4])
	s.End()
	if rec.count(EventReady) != 1 {
		t.Error("Ready should be emitted once")
	}
}

func TestStartTurnNeverSeen(t *testing.T) {
	rec := &recorder{}
	s, _ := New(WithManualTick(), WithStartTurn(9), WithListeners(rec.listen))
	for _, gs := range timeline() {
		s.Push(gs)
	}
	if rec.count(EventReady) != 0 {
		t.Fatal("Should still be waiting")
	}
	s.End()
	if rec.count(EventReady) != 1 || s.CurrentTime() != 0 {
		t.Error("End should make the scrubber ready at the beginning")
	}
}

func TestWatched(t *testing.T) {
	s, _, _ := newLoaded(t)
	if s.SecondsWatched() != 0 {
		t.Errorf("Expected 0 seconds watched, got %d", s.SecondsWatched())
	}
	for _, at := range []float64{1.2, 2.5, 2.7} {
		_ = s.Seek(at)
	}
	// seconds 0, 1 and 2 have been shown
	if s.SecondsWatched() != 2 {
		t.Errorf("Expected 2 seconds watched, got %d", s.SecondsWatched())
	}
	if got, want := s.PercentageWatched(), 100.0/14*2; !approx(got, want) {
		t.Errorf("Expected %v%%, got %v", want, got)
	}

	short, _ := New(WithManualTick())
	short.Push(snapshot(1, entity.StepBeginMulligan, 0))
	if short.PercentageWatched() != 0 {
		t.Error("Zero duration should report 0%")
	}
}

func TestSharedHistory(t *testing.T) {
	h := history.New()
	a, _ := New(WithManualTick(), WithHistory(h))
	b, _ := New(WithManualTick(), WithHistory(h))

	for _, gs := range timeline() {
		a.Push(gs)
	}
	// b only learns the time range through its own pushes
	b.Push(timeline()[0])
	b.Push(timeline()[5])
	if h.Len() != 6 {
		t.Errorf("Expected 6 nodes, got %d", h.Len())
	}

	_ = a.Seek(14)
	_ = b.Seek(3)
	at, _ := a.State().Time()
	bt, _ := b.State().Time()
	if at != 24 || bt != 12 {
		t.Errorf("Expected independent positions 24 and 12, got %v and %v", at, bt)
	}
}

func TestToggle(t *testing.T) {
	s, _, _ := newLoaded(t)
	s.Toggle()
	if !s.IsPlaying() {
		t.Fatal("Expected playing")
	}
	s.Toggle()
	if !s.IsPaused() {
		t.Error("Expected paused")
	}
	status := s.Status()
	if !status.Ready || status.Playing || status.Snapshots != 6 || status.Turns != 3 {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestTickerAdvancesClock(t *testing.T) {
	s, err := New(WithTickInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	for _, gs := range timeline() {
		s.Push(gs)
	}
	s.Play()
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.CurrentTime() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Clock did not advance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Pause()
	paused := s.CurrentTime()
	time.Sleep(20 * time.Millisecond)
	if s.CurrentTime() != paused {
		t.Error("Clock advanced after pause")
	}
}
