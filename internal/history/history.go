// Package history keeps the timeline of snapshots produced during a replay:
// an append-only, time-ordered linked list with a turn index on the side.
//
// Writers are serialized by the History. Readers walk nodes lock-free, so any
// number of scrubbers can share one History, each with its own Cursor.
package history

import (
	"sort"
	"sync"
	"sync/atomic"

	"replay-engine/internal/entity"
	"replay-engine/internal/state"

	"go.uber.org/zap"
)

// Node is one point on the timeline.
type Node struct {
	time  float64
	state atomic.Pointer[state.GameState]
	prev  atomic.Pointer[Node]
	next  atomic.Pointer[Node]
}

func (n *Node) Time() float64           { return n.time }
func (n *Node) State() *state.GameState { return n.state.Load() }
func (n *Node) Prev() *Node             { return n.prev.Load() }
func (n *Node) Next() *Node             { return n.next.Load() }

// Turn is the representative snapshot recorded for a turn number.
type Turn struct {
	Number int
	Time   float64
	State  *state.GameState
}

// History is the timeline of one replay.
type History struct {
	mu     sync.Mutex // serializes Push
	tail   atomic.Pointer[Node]
	head   atomic.Pointer[Node]
	length atomic.Int64

	turnsMu sync.RWMutex
	turns   map[int]Turn

	logger *zap.Logger
}

// Option configures a History.
type Option func(*History)

// WithLogger sets the logger used for ordering violations.
func WithLogger(logger *zap.Logger) Option {
	return func(h *History) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates an empty History.
func New(opts ...Option) *History {
	h := &History{
		turns:  make(map[int]Turn),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push appends s to the timeline.
//
// Untimed snapshots are ignored. A snapshot at the head's time replaces the
// head's snapshot, a later one becomes the new head, and an earlier one is
// logged and dropped. Push reports whether the timeline changed.
func (h *History) Push(s *state.GameState) bool {
	if s == nil {
		return false
	}
	t, ok := s.Time()
	if !ok {
		return false
	}

	h.mu.Lock()
	head := h.head.Load()
	switch {
	case head == nil:
		n := &Node{time: t}
		n.state.Store(s)
		h.tail.Store(n)
		h.head.Store(n)
		h.length.Add(1)
	case t == head.time:
		head.state.Store(s)
	case t > head.time:
		n := &Node{time: t}
		n.state.Store(s)
		n.prev.Store(head)
		head.next.Store(n)
		h.head.Store(n)
		h.length.Add(1)
	default:
		h.mu.Unlock()
		h.logger.Warn("history: dropping out of order snapshot",
			zap.Float64("time", t), zap.Float64("head", head.time))
		return false
	}
	h.mu.Unlock()

	h.indexTurn(s, t)
	return true
}

// indexTurn records the first snapshot of a turn at the start of its main
// phase. When no turn is indexed yet, the first snapshot past the mulligan
// is recorded regardless of step, since captures may begin mid turn.
func (h *History) indexTurn(s *state.GameState, t float64) {
	game, ok := s.Game()
	if !ok {
		return
	}
	turn := game.Tag(entity.TagTurn)
	if turn < 1 {
		return
	}
	step := game.Tag(entity.TagStep)

	h.turnsMu.Lock()
	defer h.turnsMu.Unlock()
	if _, seen := h.turns[turn]; seen {
		return
	}
	if step == entity.StepMainStart || (len(h.turns) == 0 && step > entity.StepBeginMulligan) {
		h.turns[turn] = Turn{Number: turn, Time: t, State: s}
	}
}

// Latest returns the last node at or before t, walking from hint. Queries
// before the first node clamp to the tail. A nil hint starts at the tail.
// Returns nil only when the history is empty.
func (h *History) Latest(hint *Node, t float64) *Node {
	n := hint
	if n == nil {
		n = h.tail.Load()
		if n == nil {
			return nil
		}
	}
	for next := n.Next(); next != nil && next.time <= t; next = n.Next() {
		n = next
	}
	for prev := n.Prev(); prev != nil && n.time > t; prev = n.Prev() {
		n = prev
	}
	return n
}

func (h *History) Head() *Node { return h.head.Load() }
func (h *History) Tail() *Node { return h.tail.Load() }
func (h *History) Len() int    { return int(h.length.Load()) }

// Turn returns the recorded snapshot of turn n.
func (h *History) Turn(n int) (Turn, bool) {
	h.turnsMu.RLock()
	defer h.turnsMu.RUnlock()
	t, ok := h.turns[n]
	return t, ok
}

// TurnCount returns the number of recorded turns.
func (h *History) TurnCount() int {
	h.turnsMu.RLock()
	defer h.turnsMu.RUnlock()
	return len(h.turns)
}

// Turns returns the recorded turns in ascending order.
func (h *History) Turns() []Turn {
	h.turnsMu.RLock()
	out := make([]Turn, 0, len(h.turns))
	for _, t := range h.turns {
		out = append(out, t)
	}
	h.turnsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// FirstTurn returns the lowest recorded turn number.
func (h *History) FirstTurn() (int, bool) {
	turns := h.Turns()
	if len(turns) == 0 {
		return 0, false
	}
	return turns[0].Number, true
}

// LastTurn returns the highest recorded turn number.
func (h *History) LastTurn() (int, bool) {
	turns := h.Turns()
	if len(turns) == 0 {
		return 0, false
	}
	return turns[len(turns)-1].Number, true
}

// Cursor remembers where the previous lookup ended, so sequential lookups
// only walk the nodes in between. A Cursor belongs to a single reader.
type Cursor struct {
	node *Node
}

func NewCursor() *Cursor { return &Cursor{} }

// Latest is History.Latest using and updating the cursor position.
func (c *Cursor) Latest(h *History, t float64) *Node {
	n := h.Latest(c.node, t)
	c.node = n
	return n
}

// Node returns the cursor position, nil before the first lookup.
func (c *Cursor) Node() *Node { return c.node }

// Reset forgets the position.
func (c *Cursor) Reset() { c.node = nil }
