package entity

import "sort"

// Option is an action currently available to the acting player.
// Slices are shared between snapshots and must be treated as read-only.
type Option struct {
	Index   int   `json:"index"`
	Type    int   `json:"type"`
	Entity  int   `json:"entity,omitempty"`
	Targets []int `json:"targets,omitempty"`
}

// HasTarget reports whether id is a legal target of the option.
func (o Option) HasTarget(id int) bool {
	for _, t := range o.Targets {
		if t == id {
			return true
		}
	}
	return false
}

// Choice is one entity offered in a selection.
type Choice struct {
	Index  int `json:"index"`
	Entity int `json:"entity"`
}

// Choices is the set of entities a player is currently choosing from.
type Choices struct {
	Type    ChoiceType
	Choices map[int]Choice // keyed by entity id
}

// NewChoices indexes list by entity id.
func NewChoices(t ChoiceType, list []Choice) Choices {
	m := make(map[int]Choice, len(list))
	for _, c := range list {
		m[c.Entity] = c
	}
	return Choices{Type: t, Choices: m}
}

// Ordered returns the choices sorted by their offer index.
func (c Choices) Ordered() []Choice {
	out := make([]Choice, 0, len(c.Choices))
	for _, ch := range c.Choices {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// MetaData records an auxiliary fact about the block it is attached to,
// e.g. which entities took how much damage.
type MetaData struct {
	Type     MetaDataType `json:"type"`
	Data     int          `json:"data"`
	Entities []int        `json:"entities,omitempty"`
}

// Equal reports structural equality; entity order is ignored.
func (m MetaData) Equal(o MetaData) bool {
	if m.Type != o.Type || m.Data != o.Data || len(m.Entities) != len(o.Entities) {
		return false
	}
	for _, id := range m.Entities {
		if !o.HasEntity(id) {
			return false
		}
	}
	return true
}

// HasEntity reports whether id is referenced by the metadata.
func (m MetaData) HasEntity(id int) bool {
	for _, e := range m.Entities {
		if e == id {
			return true
		}
	}
	return false
}
