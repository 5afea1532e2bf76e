package wire

import (
	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

// EntityView is a render-ready copy of one entity
type EntityView struct {
	ID           int         `json:"id"`
	CardID       string      `json:"cardId,omitempty"`
	Controller   int         `json:"controller"`
	Zone         int         `json:"zone"`
	ZonePosition int         `json:"zonePosition,omitempty"`
	Tags         map[int]int `json:"tags"`
}

// PlayerView is a render-ready copy of one player entity
type PlayerView struct {
	EntityID   int    `json:"entityId"`
	PlayerID   int    `json:"playerId"`
	Name       string `json:"name"`
	Rank       int    `json:"rank,omitempty"`
	LegendRank int    `json:"legendRank,omitempty"`
	Conceded   bool   `json:"conceded"`
	Hero       int    `json:"hero,omitempty"`
	Resources  int    `json:"resources"`
	Used       int    `json:"resourcesUsed"`
}

// ChoicesView lists a player's pending choices in offer order
type ChoicesView struct {
	Type    entity.ChoiceType `json:"type"`
	Choices []entity.Choice   `json:"choices"`
}

// Snapshot is a JSON-friendly view of a GameState. Slices inside options
// and descriptors are shared with the state and must not be modified.
type Snapshot struct {
	Time        float64             `json:"time"`
	Timed       bool                `json:"timed"`
	Turn        int                 `json:"turn"`
	Step        int                 `json:"step"`
	Players     []PlayerView        `json:"players"`
	Entities    []EntityView        `json:"entities"`
	Options     []entity.Option     `json:"options,omitempty"`
	Choices     map[int]ChoicesView `json:"choices,omitempty"`
	Descriptors []state.Descriptor  `json:"descriptors,omitempty"`
	Diffs       []state.Diff        `json:"diffs,omitempty"`
}

// NewSnapshot builds the view of gs. A nil state yields an empty view.
func NewSnapshot(gs *state.GameState) Snapshot {
	snap := Snapshot{
		Players:  make([]PlayerView, 0, 2),
		Entities: make([]EntityView, 0),
	}
	if gs == nil {
		return snap
	}

	snap.Time, snap.Timed = gs.Time()
	if game, ok := gs.Game(); ok {
		snap.Turn = game.Tag(entity.TagTurn)
		snap.Step = game.Tag(entity.TagStep)
	}

	for _, e := range gs.Entities() {
		snap.Entities = append(snap.Entities, EntityView{
			ID:           e.ID(),
			CardID:       e.CardID(),
			Controller:   e.Controller(),
			Zone:         e.Zone(),
			ZonePosition: e.ZonePosition(),
			Tags:         e.Tags().Map(),
		})
		if info, ok := e.Player(); ok {
			snap.Players = append(snap.Players, PlayerView{
				EntityID:   e.ID(),
				PlayerID:   info.PlayerID,
				Name:       info.Name,
				Rank:       info.Rank,
				LegendRank: info.LegendRank,
				Conceded:   info.Conceded,
				Hero:       e.Tag(entity.TagHeroEntity),
				Resources:  e.Resources(),
				Used:       e.ResourcesUsed(),
			})
		}
	}

	snap.Options = gs.Options()
	for _, p := range gs.Players() {
		if c, ok := gs.Choices(p.ID()); ok {
			if snap.Choices == nil {
				snap.Choices = make(map[int]ChoicesView)
			}
			snap.Choices[p.ID()] = ChoicesView{Type: c.Type, Choices: c.Ordered()}
		}
	}
	snap.Descriptors = gs.DescriptorStack()
	snap.Diffs = gs.Diffs()
	return snap
}
