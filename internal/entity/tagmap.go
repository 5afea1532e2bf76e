package entity

import (
	"sort"

	"github.com/benbjohnson/immutable"
)

// TagMap is a persistent map from tag keys to values.
// Absent keys read as 0 and a zero value is never stored, so two maps holding
// the same non-zero tags always compare equal. The zero TagMap is empty.
type TagMap struct {
	m *immutable.Map[int, int]
}

// NewTagMap builds a TagMap from a plain map, dropping zero values.
func NewTagMap(tags map[int]int) TagMap {
	var t TagMap
	for k, v := range tags {
		t = t.Set(k, v)
	}
	return t
}

// Get returns the value of tag, or 0 when absent.
func (t TagMap) Get(tag int) int {
	if t.m == nil {
		return 0
	}
	v, _ := t.m.Get(tag)
	return v
}

// Lookup returns the value of tag and whether it is present.
func (t TagMap) Lookup(tag int) (int, bool) {
	if t.m == nil {
		return 0, false
	}
	return t.m.Get(tag)
}

// Has reports whether tag is stored.
func (t TagMap) Has(tag int) bool {
	_, ok := t.Lookup(tag)
	return ok
}

// Len returns the number of stored tags.
func (t TagMap) Len() int {
	if t.m == nil {
		return 0
	}
	return t.m.Len()
}

// Set returns a map with tag set to value. Setting 0 removes the key.
// The receiver is returned as is when nothing changes.
func (t TagMap) Set(tag, value int) TagMap {
	cur, ok := t.Lookup(tag)
	if value == 0 {
		if !ok {
			return t
		}
		return TagMap{m: t.m.Delete(tag)}
	}
	if ok && cur == value {
		return t
	}
	m := t.m
	if m == nil {
		m = immutable.NewMap[int, int](nil)
	}
	return TagMap{m: m.Set(tag, value)}
}

// Merge returns t with every tag of other applied on top.
func (t TagMap) Merge(other TagMap) TagMap {
	out := t
	other.Range(func(tag, value int) bool {
		out = out.Set(tag, value)
		return true
	})
	return out
}

// Range calls fn for every stored tag in unspecified order until fn returns false.
func (t TagMap) Range(fn func(tag, value int) bool) {
	if t.m == nil {
		return
	}
	itr := t.m.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		if !fn(k, v) {
			return
		}
	}
}

// Keys returns the stored tag keys in ascending order.
func (t TagMap) Keys() []int {
	keys := make([]int, 0, t.Len())
	t.Range(func(tag, _ int) bool {
		keys = append(keys, tag)
		return true
	})
	sort.Ints(keys)
	return keys
}

// Map returns a plain copy of the stored tags.
func (t TagMap) Map() map[int]int {
	out := make(map[int]int, t.Len())
	t.Range(func(tag, value int) bool {
		out[tag] = value
		return true
	})
	return out
}

// Equal reports structural equality.
func (t TagMap) Equal(other TagMap) bool {
	if t.m == other.m {
		return true
	}
	if t.Len() != other.Len() {
		return false
	}
	equal := true
	t.Range(func(tag, value int) bool {
		if v, ok := other.Lookup(tag); !ok || v != value {
			equal = false
		}
		return equal
	})
	return equal
}

// Same reports whether both maps share the same underlying storage.
func (t TagMap) Same(other TagMap) bool {
	return t.m == other.m
}
