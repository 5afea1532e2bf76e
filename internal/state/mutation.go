package state

import (
	"replay-engine/internal/entity"

	"github.com/benbjohnson/immutable"
	"go.uber.org/zap"
)

// Kind names a mutation variant.
type Kind string

const (
	KindAddEntity        Kind = "add_entity"
	KindTagChange        Kind = "tag_change"
	KindReplaceEntity    Kind = "replace_entity"
	KindShowEntity       Kind = "show_entity"
	KindHideEntity       Kind = "hide_entity"
	KindSetOptions       Kind = "set_options"
	KindClearOptions     Kind = "clear_options"
	KindSetChoices       Kind = "set_choices"
	KindClearChoices     Kind = "clear_choices"
	KindPushDescriptor   Kind = "push_descriptor"
	KindPopDescriptor    Kind = "pop_descriptor"
	KindEnrichDescriptor Kind = "enrich_descriptor"
	KindAddDiffs         Kind = "add_diffs"
	KindIncrementTime    Kind = "increment_time"
	KindSetTime          Kind = "set_time"
)

// Mutation is a pure transition from one snapshot to the next.
// The set of variants is closed; all of them live in this package.
type Mutation interface {
	ApplyTo(s *GameState) *GameState
	Kind() Kind
	sealed()
}

// AddEntity inserts an entity. Re-announcing a known id overwrites it.
type AddEntity struct {
	Entity *entity.Entity
}

func (AddEntity) Kind() Kind { return KindAddEntity }
func (AddEntity) sealed()    {}

func (m AddEntity) ApplyTo(s *GameState) *GameState {
	if m.Entity == nil {
		zap.L().Error("add entity: no entity given")
		return s
	}
	id := m.Entity.ID()
	if id < 1 {
		zap.L().Error("add entity: invalid entity id", zap.Int("entity", id))
		return s
	}
	prev, exists := s.entities.Get(id)
	if exists {
		if prev == m.Entity {
			return s
		}
		zap.L().Warn("add entity: overwriting existing entity", zap.Int("entity", id))
	}
	next := s.putEntity(prev, m.Entity)

	tags := m.Entity.Tags()
	diffs := make([]Diff, 0, tags.Len())
	for _, tag := range tags.Keys() {
		diffs = append(diffs, Diff{Entity: id, Tag: tag, Current: tags.Get(tag)})
	}
	return next.withDiffs(diffs)
}

// TagChange sets one tag on an existing entity. A zero value removes the tag.
type TagChange struct {
	ID    int
	Tag   int
	Value int
}

func (TagChange) Kind() Kind { return KindTagChange }
func (TagChange) sealed()    {}

func (m TagChange) ApplyTo(s *GameState) *GameState {
	e, ok := s.entities.Get(m.ID)
	if !ok {
		zap.L().Warn("tag change: unknown entity",
			zap.Int("entity", m.ID), zap.Int("tag", m.Tag), zap.Int("value", m.Value))
		return s
	}
	updated := e.SetTag(m.Tag, m.Value)
	if updated == e {
		return s
	}
	return s.putEntity(e, updated).withDiffs([]Diff{{
		Entity:   m.ID,
		Tag:      m.Tag,
		Previous: intPtr(e.Tag(m.Tag)),
		Current:  m.Value,
	}})
}

// ReplaceEntity swaps a known entity for a new version of it.
type ReplaceEntity struct {
	Entity *entity.Entity
}

func (ReplaceEntity) Kind() Kind { return KindReplaceEntity }
func (ReplaceEntity) sealed()    {}

func (m ReplaceEntity) ApplyTo(s *GameState) *GameState {
	if m.Entity == nil {
		zap.L().Error("replace entity: no entity given")
		return s
	}
	prev, ok := s.entities.Get(m.Entity.ID())
	if !ok {
		zap.L().Warn("replace entity: unknown entity", zap.Int("entity", m.Entity.ID()))
		return s
	}
	if prev == m.Entity {
		zap.L().Debug("replace entity: entity unchanged", zap.Int("entity", m.Entity.ID()))
		return s
	}
	return s.putEntity(prev, m.Entity)
}

// ShowEntity reveals the card behind an entity. With Replace set the tags
// are replaced wholesale, otherwise they are merged onto the current ones.
type ShowEntity struct {
	ID      int
	CardID  string
	Tags    entity.TagMap
	Replace bool
}

func (ShowEntity) Kind() Kind { return KindShowEntity }
func (ShowEntity) sealed()    {}

func (m ShowEntity) ApplyTo(s *GameState) *GameState {
	e, ok := s.entities.Get(m.ID)
	if !ok {
		zap.L().Warn("show entity: unknown entity", zap.Int("entity", m.ID), zap.String("card", m.CardID))
		return s
	}
	updated := e
	if m.Replace {
		if !e.Tags().Equal(m.Tags) {
			updated = updated.ReplaceTags(m.Tags)
		}
	} else {
		updated = updated.SetTags(m.Tags)
	}
	if m.CardID != "" {
		updated = updated.SetCardID(m.CardID)
	}
	if updated == e {
		return s
	}

	var diffs []Diff
	for _, tag := range m.Tags.Keys() {
		value := m.Tags.Get(tag)
		d := Diff{Entity: m.ID, Tag: tag, Current: value}
		if !m.Replace {
			prev, had := e.Tags().Lookup(tag)
			if had && prev == value {
				continue
			}
			if had {
				d.Previous = intPtr(prev)
			}
		}
		diffs = append(diffs, d)
	}
	return s.putEntity(e, updated).withDiffs(diffs)
}

// HideEntity moves an entity to zone and conceals its card.
type HideEntity struct {
	ID   int
	Zone int
}

func (HideEntity) Kind() Kind { return KindHideEntity }
func (HideEntity) sealed()    {}

func (m HideEntity) ApplyTo(s *GameState) *GameState {
	e, ok := s.entities.Get(m.ID)
	if !ok {
		zap.L().Warn("hide entity: unknown entity", zap.Int("entity", m.ID))
		return s
	}
	updated := e.SetTag(entity.TagZone, m.Zone).SetCardID("")
	if updated == e {
		return s
	}
	next := s.putEntity(e, updated)
	if e.Zone() != m.Zone {
		next = next.withDiffs([]Diff{{
			Entity:   m.ID,
			Tag:      entity.TagZone,
			Previous: intPtr(e.Zone()),
			Current:  m.Zone,
		}})
	}
	return next
}

// SetOptions replaces the available options and re-indexes them by the
// location of the entity each option acts on.
type SetOptions struct {
	Options []entity.Option
}

func (SetOptions) Kind() Kind { return KindSetOptions }
func (SetOptions) sealed()    {}

func (m SetOptions) ApplyTo(s *GameState) *GameState {
	opts := immutable.NewMap[int, entity.Option](nil)
	var index tree[entity.Option]
	for _, o := range m.Options {
		opts = opts.Set(o.Index, o)
		if o.Entity < 1 {
			continue
		}
		e, ok := s.entities.Get(o.Entity)
		if !ok {
			zap.L().Debug("set options: option references unknown entity",
				zap.Int("option", o.Index), zap.Int("entity", o.Entity))
			continue
		}
		index = index.set(e.Controller(), e.Zone(), e.ID(), o)
	}
	next := s.clone()
	next.options = opts
	next.optionTree = index
	return next
}

// ClearOptions removes every option.
type ClearOptions struct{}

func (ClearOptions) Kind() Kind { return KindClearOptions }
func (ClearOptions) sealed()    {}

func (ClearOptions) ApplyTo(s *GameState) *GameState {
	if s.options.Len() == 0 && s.optionTree.empty() {
		return s
	}
	next := s.clone()
	next.options = immutable.NewMap[int, entity.Option](nil)
	next.optionTree = tree[entity.Option]{}
	return next
}

// SetChoices records the selection a player entity is offered.
type SetChoices struct {
	Player  int
	Choices entity.Choices
}

func (SetChoices) Kind() Kind { return KindSetChoices }
func (SetChoices) sealed()    {}

func (m SetChoices) ApplyTo(s *GameState) *GameState {
	next := s.clone()
	next.choices = s.choices.Set(m.Player, m.Choices)
	return next
}

// ClearChoices removes the pending selection of a player entity. Choice and
// option phases never overlap, so the whole option tree is cleared with it.
type ClearChoices struct {
	Player int
}

func (ClearChoices) Kind() Kind { return KindClearChoices }
func (ClearChoices) sealed()    {}

func (m ClearChoices) ApplyTo(s *GameState) *GameState {
	_, had := s.choices.Get(m.Player)
	if !had && s.optionTree.empty() {
		return s
	}
	next := s.clone()
	if had {
		next.choices = s.choices.Delete(m.Player)
	}
	next.optionTree = tree[entity.Option]{}
	return next
}

// PushDescriptor opens a block.
type PushDescriptor struct {
	Descriptor Descriptor
}

func (PushDescriptor) Kind() Kind { return KindPushDescriptor }
func (PushDescriptor) sealed()    {}

func (m PushDescriptor) ApplyTo(s *GameState) *GameState {
	next := s.clone()
	next.descriptors = s.descriptors.push(m.Descriptor)
	return next
}

// PopDescriptor closes the innermost block.
type PopDescriptor struct{}

func (PopDescriptor) Kind() Kind { return KindPopDescriptor }
func (PopDescriptor) sealed()    {}

func (PopDescriptor) ApplyTo(s *GameState) *GameState {
	if s.descriptors.len() == 0 {
		zap.L().Debug("pop descriptor: stack is empty")
		return s
	}
	next := s.clone()
	next.descriptors = s.descriptors.pop()
	return next
}

// EnrichDescriptor attaches metadata to the innermost block.
type EnrichDescriptor struct {
	MetaData entity.MetaData
}

func (EnrichDescriptor) Kind() Kind { return KindEnrichDescriptor }
func (EnrichDescriptor) sealed()    {}

func (m EnrichDescriptor) ApplyTo(s *GameState) *GameState {
	top, ok := s.descriptors.peek()
	if !ok {
		zap.L().Warn("enrich descriptor: no open block",
			zap.Int("type", int(m.MetaData.Type)), zap.Ints("entities", m.MetaData.Entities))
		return s
	}
	enriched, changed := top.withMetaData(m.MetaData)
	if !changed {
		return s
	}
	next := s.clone()
	next.descriptors = s.descriptors.pop().push(enriched)
	return next
}

// AddDiffs records deltas in the current time step.
type AddDiffs struct {
	Diffs []Diff
}

func (AddDiffs) Kind() Kind { return KindAddDiffs }
func (AddDiffs) sealed()    {}

func (m AddDiffs) ApplyTo(s *GameState) *GameState {
	return s.withDiffs(m.Diffs)
}

// IncrementTime advances time by Delta and starts a new time step.
// An untimed snapshot is advanced from zero.
type IncrementTime struct {
	Delta float64
}

func (IncrementTime) Kind() Kind { return KindIncrementTime }
func (IncrementTime) sealed()    {}

func (m IncrementTime) ApplyTo(s *GameState) *GameState {
	return s.withTime(s.time + m.Delta)
}

// SetTime sets time and starts a new time step.
type SetTime struct {
	Time float64
}

func (SetTime) Kind() Kind { return KindSetTime }
func (SetTime) sealed()    {}

func (m SetTime) ApplyTo(s *GameState) *GameState {
	return s.withTime(m.Time)
}

func (s *GameState) withTime(t float64) *GameState {
	if s.hasTime && s.time == t && len(s.diffs) == 0 {
		return s
	}
	next := s.clone()
	next.time = t
	next.hasTime = true
	next.diffs = nil
	return next
}
