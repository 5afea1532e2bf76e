// Package tracker applies a stream of mutations to a running game snapshot,
// letting plugins adjust mutations and derived state around each step.
package tracker

import (
	"errors"
	"fmt"

	"replay-engine/internal/state"

	"go.uber.org/zap"
)

// ErrNilMutation is returned when Apply is called without a mutation.
var ErrNilMutation = errors.New("tracker: nil mutation")

// Plugin hooks into every mutation the tracker applies.
//
// BeforeMutate may substitute the mutation and/or the state it is applied to;
// returning the inputs unchanged leaves the step as is. AfterMutate may return
// a replacement for the resulting state, or nil to keep it.
type Plugin interface {
	BeforeMutate(m state.Mutation, s *state.GameState) (state.Mutation, *state.GameState)
	AfterMutate(m state.Mutation, s *state.GameState) *state.GameState
}

// Sink receives every emitted snapshot.
type Sink interface {
	Push(s *state.GameState)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s *state.GameState)

func (f SinkFunc) Push(s *state.GameState) { f(s) }

// Tracker holds the running snapshot. It is not safe for concurrent use.
type Tracker struct {
	state   *state.GameState
	plugins []Plugin
	sinks   []Sink
	logger  *zap.Logger
	applied uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPlugins appends plugins. They run in the order given.
func WithPlugins(plugins ...Plugin) Option {
	return func(t *Tracker) { t.plugins = append(t.plugins, plugins...) }
}

// WithSinks appends snapshot sinks.
func WithSinks(sinks ...Sink) Option {
	return func(t *Tracker) { t.sinks = append(t.sinks, sinks...) }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithInitialState starts the tracker from s instead of an empty snapshot at time 0.
func WithInitialState(s *state.GameState) Option {
	return func(t *Tracker) {
		if s != nil {
			t.state = s
		}
	}
}

// New creates a tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		state:  state.New().Apply(state.SetTime{Time: 0}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current snapshot.
func (t *Tracker) State() *state.GameState { return t.state }

// Applied returns the number of mutations applied so far.
func (t *Tracker) Applied() uint64 { return t.applied }

// Apply runs one mutation through the plugins and emits the result.
// The resulting snapshot is emitted once, and a second time if an after
// hook replaced it.
func (t *Tracker) Apply(m state.Mutation) (*state.GameState, error) {
	if m == nil {
		return t.state, ErrNilMutation
	}

	current := t.state
	for _, p := range t.plugins {
		nm, ns := p.BeforeMutate(m, current)
		if nm != nil {
			m = nm
		}
		if ns != nil {
			current = ns
		}
	}

	next := m.ApplyTo(current)
	t.state = next
	t.applied++
	t.emit(next)

	adjusted := next
	for _, p := range t.plugins {
		if s := p.AfterMutate(m, adjusted); s != nil {
			adjusted = s
		}
	}
	if adjusted != next {
		t.state = adjusted
		t.emit(adjusted)
	}

	if ce := t.logger.Check(zap.DebugLevel, "mutation applied"); ce != nil {
		tm, _ := t.state.Time()
		ce.Write(zap.String("kind", string(m.Kind())), zap.Float64("time", tm), zap.Bool("changed", t.state != current))
	}
	return t.state, nil
}

// ApplyAll applies ms in order, stopping at the first contract error.
func (t *Tracker) ApplyAll(ms []state.Mutation) (*state.GameState, error) {
	for i, m := range ms {
		if _, err := t.Apply(m); err != nil {
			return t.state, fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return t.state, nil
}

func (t *Tracker) emit(s *state.GameState) {
	for _, sink := range t.sinks {
		sink.Push(s)
	}
}
