// Package entity holds the immutable value types a game snapshot is built from:
// entities and their tag maps, players, options, choices and block metadata.
//
// Every transition returns a new value and leaves the receiver untouched.
// When a transition would not change anything the receiver itself is returned,
// so callers can detect "no change" with a pointer comparison.
package entity

import "fmt"

// Entity is one game object: an id, its tags and an optional revealed card id.
// Players are entities carrying a PlayerInfo payload.
type Entity struct {
	id     int
	tags   TagMap
	cardID string
	player *PlayerInfo
}

// PlayerInfo is the payload carried by player entities.
type PlayerInfo struct {
	PlayerID   int
	Name       string
	Rank       int
	LegendRank int
	Conceded   bool
}

// New creates a plain entity. An empty cardID means the card is hidden.
func New(id int, tags TagMap, cardID string) *Entity {
	return &Entity{id: id, tags: tags, cardID: cardID}
}

// NewPlayer creates a player entity. Conceded is also derived from the tags.
func NewPlayer(id int, tags TagMap, info PlayerInfo) *Entity {
	info.Conceded = info.Conceded || tags.Get(TagPlayState) == PlayStateConceded
	return &Entity{id: id, tags: tags, player: &info}
}

// rebuild is the single reconstruction path for both entity variants.
// Players stay conceded once they have conceded, even if their tags are
// later replaced wholesale.
func (e *Entity) rebuild(tags TagMap, cardID string) *Entity {
	next := &Entity{id: e.id, tags: tags, cardID: cardID}
	if e.player != nil {
		info := *e.player
		info.Conceded = info.Conceded || tags.Get(TagPlayState) == PlayStateConceded
		next.player = &info
	}
	return next
}

func (e *Entity) ID() int        { return e.id }
func (e *Entity) CardID() string { return e.cardID }
func (e *Entity) Tags() TagMap   { return e.tags }
func (e *Entity) Hidden() bool   { return e.cardID == "" }
func (e *Entity) Revealed() bool { return e.cardID != "" }

// Player returns the player payload and whether e is a player.
func (e *Entity) Player() (PlayerInfo, bool) {
	if e.player == nil {
		return PlayerInfo{}, false
	}
	return *e.player, true
}

// IsPlayer reports whether e carries a player payload.
func (e *Entity) IsPlayer() bool { return e.player != nil }

// Tag returns the value of key, 0 when unset.
func (e *Entity) Tag(key int) int { return e.tags.Get(key) }

// SetTag returns an entity with key set to value. A zero value deletes the tag.
func (e *Entity) SetTag(key, value int) *Entity {
	tags := e.tags.Set(key, value)
	if tags.Same(e.tags) {
		return e
	}
	return e.rebuild(tags, e.cardID)
}

// SetTags merges tags on top of the current ones.
func (e *Entity) SetTags(tags TagMap) *Entity {
	merged := e.tags.Merge(tags)
	if merged.Same(e.tags) {
		return e
	}
	return e.rebuild(merged, e.cardID)
}

// ReplaceTags swaps the whole tag map.
func (e *Entity) ReplaceTags(tags TagMap) *Entity {
	if tags.Same(e.tags) {
		return e
	}
	return e.rebuild(tags, e.cardID)
}

// SetCardID reveals (or hides, with "") the card behind e.
func (e *Entity) SetCardID(cardID string) *Entity {
	if cardID == e.cardID {
		return e
	}
	return e.rebuild(e.tags, cardID)
}

func (e *Entity) Resources() int     { return e.Tag(TagResources) }
func (e *Entity) ResourcesUsed() int { return e.Tag(TagResourcesUsed) }
func (e *Entity) Damage() int        { return e.Tag(TagDamage) }
func (e *Entity) Health() int        { return e.Tag(TagHealth) }
func (e *Entity) Attack() int        { return e.Tag(TagAtk) }
func (e *Entity) Armor() int         { return e.Tag(TagArmor) }
func (e *Entity) Cost() int          { return e.Tag(TagCost) }
func (e *Entity) Zone() int          { return e.Tag(TagZone) }
func (e *Entity) Controller() int    { return e.Tag(TagController) }
func (e *Entity) Durability() int    { return e.Tag(TagDurability) }
func (e *Entity) Class() int         { return e.Tag(TagClass) }
func (e *Entity) CardType() int      { return e.Tag(TagCardType) }
func (e *Entity) ZonePosition() int  { return e.Tag(TagZonePosition) }

func (e *Entity) IsExhausted() bool      { return e.Tag(TagExhausted) > 0 }
func (e *Entity) IsPremium() bool        { return e.Tag(TagPremium) > 0 }
func (e *Entity) IsLegendary() bool      { return e.Tag(TagRarity) == RarityLegendary }
func (e *Entity) IsTaunter() bool        { return e.Tag(TagTaunt) > 0 }
func (e *Entity) IsStealthed() bool      { return e.Tag(TagStealth) > 0 }
func (e *Entity) IsImmune() bool         { return e.Tag(TagImmune) > 0 }
func (e *Entity) IsSilenced() bool       { return e.Tag(TagSilenced) > 0 }
func (e *Entity) IsDivineShielded() bool { return e.Tag(TagDivineShield) > 0 }
func (e *Entity) IsFrozen() bool         { return e.Tag(TagFrozen) > 0 }
func (e *Entity) CantBeTargeted() bool   { return e.Tag(TagCantBeTargetedByAbilities) > 0 }

// IsEnraged reports an enrage that is actually active, i.e. the entity is damaged.
func (e *Entity) IsEnraged() bool {
	return e.Tag(TagEnraged) > 0 && e.Damage() > 0
}

// IsAsleep reports summoning sickness. A nil controller skips the current player check.
func (e *Entity) IsAsleep(controller *Entity) bool {
	return e.Tag(TagNumTurnsInPlay) == 0 &&
		e.Tag(TagCharge) == 0 &&
		e.Tag(TagUntouchable) == 0 &&
		e.Tag(TagAutoAttack) == 0 &&
		(controller == nil || controller.Tag(TagCurrentPlayer) == 1)
}

func (e *Entity) String() string {
	if e.cardID != "" {
		return fmt.Sprintf("Entity #%d (%s)", e.id, e.cardID)
	}
	return fmt.Sprintf("Entity #%d", e.id)
}
