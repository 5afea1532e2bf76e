package scrubber

import "replay-engine/internal/state"

// EventKind classifies scrubber notifications.
type EventKind string

const (
	EventReady  EventKind = "ready" // enough of the timeline is known to start playback
	EventPlay   EventKind = "play"
	EventPause  EventKind = "pause"
	EventState  EventKind = "state"  // the displayed snapshot changed
	EventTurn   EventKind = "turn"   // the displayed turn changed
	EventUpdate EventKind = "update" // the clock was re-evaluated
)

// Event is delivered to listeners after every clock evaluation and
// playback transition.
type Event struct {
	Kind EventKind `json:"kind"`
	Time float64   `json:"time"` // playback time when the event was raised
	Turn int       `json:"turn"`
	// State is set for EventState.
	State *state.GameState `json:"-"`
}

// Listener receives scrubber events. Listeners run outside the scrubber's
// lock and may call back into it.
type Listener func(Event)

// Inhibitor can freeze the clock without pausing, e.g. while a seek bar is
// being dragged.
type Inhibitor interface {
	Inhibiting() bool
}

// InhibitorFunc adapts a function to Inhibitor.
type InhibitorFunc func() bool

func (f InhibitorFunc) Inhibiting() bool { return f() }
