package history

import (
	"sync"
	"testing"

	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

func timed(t float64) *state.GameState {
	return state.New().Apply(state.SetTime{Time: t})
}

func withGame(t float64, step, turn int) *state.GameState {
	return timed(t).Apply(state.AddEntity{Entity: entity.New(entity.GameEntityID, entity.NewTagMap(map[int]int{
		entity.TagStep: step,
		entity.TagTurn: turn,
	}), "")})
}

func TestPushHeadAndTail(t *testing.T) {
	h := New()
	one, two := timed(1), timed(2)

	h.Push(one)
	if h.Head().State() != one || h.Tail().State() != one {
		t.Fatal("First state should be both head and tail")
	}
	h.Push(two)
	if h.Head().State() != two {
		t.Error("Newer state should become head")
	}
	if h.Tail().State() != one {
		t.Error("Newer states must not move the tail")
	}
	if h.Len() != 2 {
		t.Errorf("Expected 2 nodes, got %d", h.Len())
	}
}

func TestPushIgnoresUntimed(t *testing.T) {
	h := New()
	if h.Push(state.New()) {
		t.Error("Untimed state should be ignored")
	}
	if h.Push(nil) {
		t.Error("Nil state should be ignored")
	}
	if h.Len() != 0 || h.Head() != nil {
		t.Error("History should stay empty")
	}
	if h.Latest(nil, 5) != nil {
		t.Error("Lookup on an empty history should return nil")
	}
}

func TestPushEqualTimeOverwritesHead(t *testing.T) {
	h := New()
	first := timed(3)
	second := first.Apply(state.AddEntity{Entity: entity.New(4, entity.TagMap{}, "")})

	h.Push(first)
	h.Push(second)
	if h.Len() != 1 {
		t.Errorf("Expected a single node, got %d", h.Len())
	}
	if h.Head().State() != second {
		t.Error("Latest push should win for duplicate timestamps")
	}
}

func TestPushDropsOutOfOrder(t *testing.T) {
	h := New()
	h.Push(timed(2))
	if h.Push(timed(1)) {
		t.Error("Earlier timestamp should be dropped")
	}
	if h.Len() != 1 || h.Head().Time() != 2 {
		t.Error("Timeline should be unchanged")
	}
}

func TestLatest(t *testing.T) {
	tests := []struct {
		name  string
		times []float64
		query []float64
		want  []float64
	}{
		{
			name:  "two states",
			times: []float64{1, 2},
			query: []float64{1, 2, 1.5, 1.99, 3, 0, 0.9},
			want:  []float64{1, 2, 1, 1, 2, 1, 1},
		},
		{
			name:  "three states",
			times: []float64{1, 2, 4},
			query: []float64{1.9, 2, 3, 3.9, 4, 10},
			want:  []float64{1, 2, 2, 2, 4, 4},
		},
		{
			name:  "starting at zero",
			times: []float64{0, 1},
			query: []float64{0.9, 1, 1.1, 10},
			want:  []float64{0, 1, 1, 1},
		},
		{
			name:  "backwards",
			times: []float64{1, 2, 4, 8},
			query: []float64{10, 5, 3, 1.5, 0},
			want:  []float64{8, 4, 2, 1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			states := make(map[float64]*state.GameState)
			for _, tm := range tt.times {
				s := timed(tm)
				states[tm] = s
				h.Push(s)
			}

			// A persistent cursor and a fresh lookup must agree.
			c := NewCursor()
			for i, q := range tt.query {
				got := c.Latest(h, q)
				if got.State() != states[tt.want[i]] {
					t.Errorf("Latest(%v) via cursor = %v, want %v", q, got.Time(), tt.want[i])
				}
				if fresh := h.Latest(nil, q); fresh != got {
					t.Errorf("Latest(%v) from tail = %v, want %v", q, fresh.Time(), got.Time())
				}
			}
		})
	}
}

func TestCursorsAreIndependent(t *testing.T) {
	h := New()
	for _, tm := range []float64{1, 2, 3, 4} {
		h.Push(timed(tm))
	}
	a, b := NewCursor(), NewCursor()
	a.Latest(h, 4)
	if b.Node() != nil {
		t.Fatal("Second cursor should not have moved")
	}
	if got := b.Latest(h, 1); got.Time() != 1 {
		t.Errorf("Expected 1, got %v", got.Time())
	}
	if a.Node().Time() != 4 {
		t.Error("First cursor should keep its position")
	}
	a.Reset()
	if a.Node() != nil {
		t.Error("Reset should clear the position")
	}
}

func TestTurnIndex(t *testing.T) {
	mulligan := withGame(15, entity.StepBeginMulligan, 1)
	turnOne := withGame(20, entity.StepMainStart, 1)
	turnOneAgain := withGame(22, entity.StepMainStart, 1)
	turnTwoDraw := withGame(24, entity.StepMainDraw, 2)
	turnTwo := withGame(25, entity.StepMainStart, 2)

	t.Run("starts empty", func(t *testing.T) {
		if New().TurnCount() != 0 {
			t.Error("Expected no turns")
		}
	})

	t.Run("tracks distinct turns", func(t *testing.T) {
		h := New()
		h.Push(turnOne)
		h.Push(turnTwo)
		if h.TurnCount() != 2 {
			t.Fatalf("Expected 2 turns, got %d", h.TurnCount())
		}
		if tr, _ := h.Turn(2); tr.State != turnTwo || tr.Time != 25 {
			t.Error("Expected turn 2 recorded")
		}
	})

	t.Run("ignores states without a turn", func(t *testing.T) {
		h := New()
		h.Push(timed(1))
		if h.TurnCount() != 0 {
			t.Error("Expected no turns")
		}
	})

	t.Run("never overwrites a turn", func(t *testing.T) {
		h := New()
		h.Push(turnOne)
		h.Push(turnOneAgain)
		if tr, _ := h.Turn(1); tr.State != turnOne || h.TurnCount() != 1 {
			t.Error("Turn 1 should keep its first snapshot")
		}
	})

	t.Run("requires main start once indexed", func(t *testing.T) {
		h := New()
		h.Push(turnOne)
		h.Push(turnTwoDraw)
		if h.TurnCount() != 1 {
			t.Errorf("Expected 1 turn, got %d", h.TurnCount())
		}
		h.Push(turnTwo)
		if tr, _ := h.Turn(2); tr.State != turnTwo {
			t.Error("Expected turn 2 at main start")
		}
	})

	t.Run("ignores mulligan", func(t *testing.T) {
		h := New()
		h.Push(mulligan)
		if h.TurnCount() != 0 {
			t.Error("Mulligan must not be indexed")
		}
	})

	t.Run("bootstraps from the first state past mulligan", func(t *testing.T) {
		h := New()
		h.Push(turnTwoDraw)
		if tr, ok := h.Turn(2); !ok || tr.State != turnTwoDraw {
			t.Error("Expected first post-mulligan state recorded")
		}
	})

	t.Run("first and last", func(t *testing.T) {
		h := New()
		if _, ok := h.FirstTurn(); ok {
			t.Error("Expected no first turn")
		}
		h.Push(turnTwoDraw)
		h.Push(withGame(30, entity.StepMainStart, 3))
		h.Push(withGame(40, entity.StepMainStart, 5))
		first, _ := h.FirstTurn()
		last, _ := h.LastTurn()
		if first != 2 || last != 5 {
			t.Errorf("Expected turns 2..5, got %d..%d", first, last)
		}
		turns := h.Turns()
		if len(turns) != 3 || turns[1].Number != 3 {
			t.Errorf("Unexpected turn list %+v", turns)
		}
	})
}

func TestConcurrentReaders(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewCursor()
			for i := 0; i < 1000; i++ {
				if n := c.Latest(h, float64(i%100)); n != nil && n.Time() > float64(i%100) && n != h.Tail() {
					t.Errorf("Lookup returned a node past the query time")
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		h.Push(timed(float64(i)))
	}
	wg.Wait()
}
