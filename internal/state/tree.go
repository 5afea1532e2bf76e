package state

import (
	"sort"

	"github.com/benbjohnson/immutable"
)

// tree is a persistent controller -> zone -> id index.
// Empty buckets are removed so that iteration only ever visits populated ones.
type tree[T any] struct {
	root *immutable.Map[int, *immutable.Map[int, *immutable.Map[int, T]]]
}

func (t tree[T]) bucket(controller, zone int) *immutable.Map[int, T] {
	if t.root == nil {
		return nil
	}
	zones, ok := t.root.Get(controller)
	if !ok {
		return nil
	}
	b, _ := zones.Get(zone)
	return b
}

func (t tree[T]) set(controller, zone, id int, v T) tree[T] {
	root := t.root
	if root == nil {
		root = immutable.NewMap[int, *immutable.Map[int, *immutable.Map[int, T]]](nil)
	}
	zones, ok := root.Get(controller)
	if !ok {
		zones = immutable.NewMap[int, *immutable.Map[int, T]](nil)
	}
	b, ok := zones.Get(zone)
	if !ok {
		b = immutable.NewMap[int, T](nil)
	}
	b = b.Set(id, v)
	return tree[T]{root: root.Set(controller, zones.Set(zone, b))}
}

func (t tree[T]) delete(controller, zone, id int) tree[T] {
	b := t.bucket(controller, zone)
	if b == nil {
		return t
	}
	if _, ok := b.Get(id); !ok {
		return t
	}
	zones, _ := t.root.Get(controller)
	b = b.Delete(id)
	if b.Len() == 0 {
		zones = zones.Delete(zone)
	} else {
		zones = zones.Set(zone, b)
	}
	if zones.Len() == 0 {
		return tree[T]{root: t.root.Delete(controller)}
	}
	return tree[T]{root: t.root.Set(controller, zones)}
}

// values returns the bucket contents ordered by id.
func (t tree[T]) values(controller, zone int) []T {
	b := t.bucket(controller, zone)
	if b == nil {
		return nil
	}
	ids := make([]int, 0, b.Len())
	itr := b.Iterator()
	for !itr.Done() {
		id, _, _ := itr.Next()
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, _ := b.Get(id)
		out = append(out, v)
	}
	return out
}

func (t tree[T]) walk(fn func(controller, zone, id int, v T) bool) {
	if t.root == nil {
		return
	}
	ci := t.root.Iterator()
	for !ci.Done() {
		controller, zones, _ := ci.Next()
		zi := zones.Iterator()
		for !zi.Done() {
			zone, b, _ := zi.Next()
			bi := b.Iterator()
			for !bi.Done() {
				id, v, _ := bi.Next()
				if !fn(controller, zone, id, v) {
					return
				}
			}
		}
	}
}

func (t tree[T]) empty() bool {
	return t.root == nil || t.root.Len() == 0
}
