// Package oracle records what a replay decoder learns out of band: the game
// build, which card each entity turned out to be, and which cards were
// offered in the mulligan. The playback core forwards it without
// interpreting it.
package oracle

import (
	"maps"
	"sync"

	"replay-engine/internal/entity"

	"go.uber.org/zap"
)

// Card ids substituted for cards that keep changing identity while held.
const (
	ShiftingMinionCardID = "OG_123"  // Shifter Zerus
	ShiftingWeaponCardID = "UNG_929" // Molten Blade
)

type Kind string

const (
	KindBuild     Kind = "build"
	KindCards     Kind = "cards"
	KindMulligans Kind = "mulligans"
)

// Notification carries a copy of the updated map. Only the field matching
// Kind is set.
type Notification struct {
	Kind      Kind           `json:"kind"`
	Build     int            `json:"build,omitempty"`
	Cards     map[int]string `json:"cards,omitempty"`
	Mulligans map[int]bool   `json:"mulligans,omitempty"`
}

type Listener func(Notification)

// Oracle is safe for concurrent use.
type Oracle struct {
	mu        sync.RWMutex
	build     int
	hasBuild  bool
	cards     map[int]string
	mulligans map[int]bool

	listeners  []Listener
	pending    []Notification
	delivering bool
	logger     *zap.Logger
}

type Option func(*Oracle)

func WithListeners(ls ...Listener) Option {
	return func(o *Oracle) { o.listeners = append(o.listeners, ls...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(opts ...Option) *Oracle {
	o := &Oracle{
		cards:     make(map[int]string),
		mulligans: make(map[int]bool),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// unlockAndNotify queues n, releases the write lock and delivers queued
// notifications in the order they were recorded. Callers hold o.mu.
func (o *Oracle) unlockAndNotify(n Notification) {
	o.pending = append(o.pending, n)
	if o.delivering {
		o.mu.Unlock()
		return
	}
	o.delivering = true
	for len(o.pending) > 0 {
		batch := o.pending
		o.pending = nil
		o.mu.Unlock()
		o.deliver(batch)
		o.mu.Lock()
	}
	o.delivering = false
	o.mu.Unlock()
}

func (o *Oracle) deliver(batch []Notification) {
	done := false
	defer func() {
		if !done {
			o.mu.Lock()
			o.delivering = false
			o.mu.Unlock()
		}
	}()
	for _, n := range batch {
		for _, l := range o.listeners {
			l(n)
		}
	}
	done = true
}

// SetBuild records the game build. Zero means the replay did not say.
func (o *Oracle) SetBuild(build int) {
	if build == 0 {
		o.logger.Warn("oracle: replay does not contain a build number")
	}
	o.mu.Lock()
	o.build = build
	o.hasBuild = build != 0
	o.unlockAndNotify(Notification{Kind: KindBuild, Build: build})
}

func (o *Oracle) Build() (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.build, o.hasBuild
}

// Reveal records the card behind entity id. A known entity is never
// overwritten, and shifting cards are recorded under their base card.
// Reveal reports whether the card map changed.
func (o *Oracle) Reveal(id int, cardID string, tags entity.TagMap) bool {
	if id < 1 || cardID == "" {
		return false
	}
	if tags.Has(entity.TagShifting) || tags.Has(entity.TagShiftingMinion) {
		cardID = ShiftingMinionCardID
	}
	if tags.Has(entity.TagShiftingWeapon) {
		cardID = ShiftingWeaponCardID
	}

	o.mu.Lock()
	if _, known := o.cards[id]; known {
		o.mu.Unlock()
		return false
	}
	o.cards[id] = cardID
	o.unlockAndNotify(Notification{Kind: KindCards, Cards: maps.Clone(o.cards)})
	return true
}

// RevealAll records several cards at once with a single notification.
func (o *Oracle) RevealAll(cards map[int]string) int {
	o.mu.Lock()
	added := 0
	for id, cardID := range cards {
		if id < 1 || cardID == "" {
			continue
		}
		if _, known := o.cards[id]; known {
			continue
		}
		o.cards[id] = cardID
		added++
	}
	if added == 0 {
		o.mu.Unlock()
		return 0
	}
	o.unlockAndNotify(Notification{Kind: KindCards, Cards: maps.Clone(o.cards)})
	return added
}

// Card returns the recorded card of entity id.
func (o *Oracle) Card(id int) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.cards[id]
	return c, ok
}

// Cards returns a copy of the card map.
func (o *Oracle) Cards() map[int]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.cards)
}

// OfferMulligan marks entities as mulligan candidates.
func (o *Oracle) OfferMulligan(ids []int) {
	o.mu.Lock()
	for _, id := range ids {
		o.mulligans[id] = true
	}
	o.unlockAndNotify(Notification{Kind: KindMulligans, Mulligans: maps.Clone(o.mulligans)})
}

// ResolveMulligan marks chosen candidates as no longer pending. Entities
// that were never offered are ignored.
func (o *Oracle) ResolveMulligan(ids []int) {
	o.mu.Lock()
	for _, id := range ids {
		if o.mulligans[id] {
			o.mulligans[id] = false
		}
	}
	o.unlockAndNotify(Notification{Kind: KindMulligans, Mulligans: maps.Clone(o.mulligans)})
}

// Mulligans returns a copy of the candidate map.
func (o *Oracle) Mulligans() map[int]bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.mulligans)
}
