package state

import "replay-engine/internal/entity"

// Descriptor is one open block: an attack, power, trigger, play or ritual
// that has started and not yet finished.
type Descriptor struct {
	EntityID int               `json:"entity"`
	Target   int               `json:"target,omitempty"`
	Type     entity.BlockType  `json:"type"`
	MetaData []entity.MetaData `json:"metaData,omitempty"`
}

// withMetaData returns a copy of d carrying md. Metadata is a set, so an
// equal entry already attached leaves d unchanged.
func (d Descriptor) withMetaData(md entity.MetaData) (Descriptor, bool) {
	for _, existing := range d.MetaData {
		if existing.Equal(md) {
			return d, false
		}
	}
	next := d
	next.MetaData = make([]entity.MetaData, len(d.MetaData), len(d.MetaData)+1)
	copy(next.MetaData, d.MetaData)
	next.MetaData = append(next.MetaData, md)
	return next, true
}

// descriptorStack is a persistent LIFO. Push and pop share the tail with
// the previous version.
type descriptorStack struct {
	top  Descriptor
	next *descriptorStack
	size int
}

func (s *descriptorStack) push(d Descriptor) *descriptorStack {
	return &descriptorStack{top: d, next: s, size: s.len() + 1}
}

func (s *descriptorStack) pop() *descriptorStack {
	if s == nil {
		return nil
	}
	return s.next
}

func (s *descriptorStack) peek() (Descriptor, bool) {
	if s == nil {
		return Descriptor{}, false
	}
	return s.top, true
}

func (s *descriptorStack) len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// slice returns the stack top first.
func (s *descriptorStack) slice() []Descriptor {
	out := make([]Descriptor, 0, s.len())
	for n := s; n != nil; n = n.next {
		out = append(out, n.top)
	}
	return out
}
