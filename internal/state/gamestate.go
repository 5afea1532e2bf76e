// Package state implements the game snapshot and the closed set of mutations
// that transform one snapshot into the next.
//
// A GameState is never modified after construction. Applying a mutation that
// changes nothing returns the receiver itself, so consumers can detect change
// with a pointer comparison.
package state

import (
	"sort"

	"replay-engine/internal/entity"

	"github.com/benbjohnson/immutable"
)

// Diff is one tag level delta recorded since the last time advance.
// Previous is nil when the tag had no meaningful prior value (new entity,
// wholesale replacement).
type Diff struct {
	Entity   int  `json:"entity"`
	Tag      int  `json:"tag"`
	Previous *int `json:"previous"`
	Current  int  `json:"current"`
}

func (d Diff) equal(o Diff) bool {
	if d.Entity != o.Entity || d.Tag != o.Tag || d.Current != o.Current {
		return false
	}
	if d.Previous == nil || o.Previous == nil {
		return d.Previous == nil && o.Previous == nil
	}
	return *d.Previous == *o.Previous
}

// GameState is one complete snapshot of the game.
type GameState struct {
	entities    *immutable.Map[int, *entity.Entity]
	entityTree  tree[*entity.Entity]
	options     *immutable.Map[int, entity.Option]
	optionTree  tree[entity.Option]
	time        float64
	hasTime     bool
	choices     *immutable.Map[int, entity.Choices]
	descriptors *descriptorStack
	diffs       []Diff
}

// New returns the empty snapshot. It carries no time.
func New() *GameState {
	return &GameState{
		entities: immutable.NewMap[int, *entity.Entity](nil),
		options:  immutable.NewMap[int, entity.Option](nil),
		choices:  immutable.NewMap[int, entity.Choices](nil),
	}
}

// clone returns a shallow copy. All shared fields are persistent.
func (s *GameState) clone() *GameState {
	c := *s
	return &c
}

// Apply runs m against s. A nil mutation leaves s unchanged.
func (s *GameState) Apply(m Mutation) *GameState {
	if m == nil {
		return s
	}
	return m.ApplyTo(s)
}

// Time returns the snapshot time and whether one has been set.
func (s *GameState) Time() (float64, bool) {
	return s.time, s.hasTime
}

// HasTime reports whether the snapshot is timed.
func (s *GameState) HasTime() bool { return s.hasTime }

// Entity looks up an entity by id.
func (s *GameState) Entity(id int) (*entity.Entity, bool) {
	return s.entities.Get(id)
}

// EntityCount returns the number of known entities.
func (s *GameState) EntityCount() int { return s.entities.Len() }

// Entities returns every entity ordered by id.
func (s *GameState) Entities() []*entity.Entity {
	out := make([]*entity.Entity, 0, s.entities.Len())
	itr := s.entities.Iterator()
	for !itr.Done() {
		_, e, _ := itr.Next()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// EntitiesIn returns the entities bucketed under controller and zone, ordered by id.
func (s *GameState) EntitiesIn(controller, zone int) []*entity.Entity {
	return s.entityTree.values(controller, zone)
}

// WalkEntityTree visits every indexed entity with its bucket coordinates
// until fn returns false.
func (s *GameState) WalkEntityTree(fn func(controller, zone int, e *entity.Entity) bool) {
	s.entityTree.walk(func(controller, zone, _ int, e *entity.Entity) bool {
		return fn(controller, zone, e)
	})
}

// Game returns the game entity.
func (s *GameState) Game() (*entity.Entity, bool) {
	return s.Entity(entity.GameEntityID)
}

// Players returns the player entities ordered by player id.
func (s *GameState) Players() []*entity.Entity {
	var out []*entity.Entity
	itr := s.entities.Iterator()
	for !itr.Done() {
		_, e, _ := itr.Next()
		if e.IsPlayer() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].Player()
		b, _ := out[j].Player()
		return a.PlayerID < b.PlayerID
	})
	return out
}

// PlayerByPlayerID finds the player entity announced with playerID.
func (s *GameState) PlayerByPlayerID(playerID int) (*entity.Entity, bool) {
	for _, p := range s.Players() {
		if info, _ := p.Player(); info.PlayerID == playerID {
			return p, true
		}
	}
	return nil, false
}

// Options returns the available options ordered by index.
func (s *GameState) Options() []entity.Option {
	out := make([]entity.Option, 0, s.options.Len())
	itr := s.options.Iterator()
	for !itr.Done() {
		_, o, _ := itr.Next()
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// OptionsIn returns the options whose entity sits under controller and zone.
func (s *GameState) OptionsIn(controller, zone int) []entity.Option {
	return s.optionTree.values(controller, zone)
}

// HasOptionTree reports whether any option is indexed by entity location.
func (s *GameState) HasOptionTree() bool { return !s.optionTree.empty() }

// Choices returns the pending choices of a player entity.
func (s *GameState) Choices(player int) (entity.Choices, bool) {
	return s.choices.Get(player)
}

// ChoicesCount returns the number of players with pending choices.
func (s *GameState) ChoicesCount() int { return s.choices.Len() }

// Descriptor returns the innermost open block.
func (s *GameState) Descriptor() (Descriptor, bool) {
	return s.descriptors.peek()
}

// DescriptorStack returns the open blocks, innermost first.
func (s *GameState) DescriptorStack() []Descriptor {
	return s.descriptors.slice()
}

// DescriptorDepth returns the number of open blocks.
func (s *GameState) DescriptorDepth() int { return s.descriptors.len() }

// Diffs returns a copy of the deltas recorded since the last time advance.
func (s *GameState) Diffs() []Diff {
	out := make([]Diff, len(s.diffs))
	copy(out, s.diffs)
	return out
}

// putEntity stores e and moves its tree bucket when the controller or zone
// of the previous version differs.
func (s *GameState) putEntity(prev, e *entity.Entity) *GameState {
	next := s.clone()
	next.entities = s.entities.Set(e.ID(), e)
	t := s.entityTree
	if prev != nil && (prev.Controller() != e.Controller() || prev.Zone() != e.Zone()) {
		t = t.delete(prev.Controller(), prev.Zone(), prev.ID())
	}
	next.entityTree = t.set(e.Controller(), e.Zone(), e.ID(), e)
	return next
}

// withDiffs appends diffs not already present. Returns s when nothing is new.
func (s *GameState) withDiffs(diffs []Diff) *GameState {
	var fresh []Diff
	for _, d := range diffs {
		if !containsDiff(s.diffs, d) && !containsDiff(fresh, d) {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return s
	}
	next := s.clone()
	next.diffs = make([]Diff, 0, len(s.diffs)+len(fresh))
	next.diffs = append(next.diffs, s.diffs...)
	next.diffs = append(next.diffs, fresh...)
	return next
}

func containsDiff(list []Diff, d Diff) bool {
	for _, existing := range list {
		if existing.equal(d) {
			return true
		}
	}
	return false
}

func intPtr(v int) *int { return &v }
