package tracker

import (
	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

// CoinPlugin reveals the coin handed to the second player before the mulligan.
// Replays never transmit its card id, but it is the only hidden card dealt
// into the fifth hand slot of the player going second.
type CoinPlugin struct{}

func (CoinPlugin) BeforeMutate(m state.Mutation, s *state.GameState) (state.Mutation, *state.GameState) {
	add, ok := m.(state.AddEntity)
	if !ok || add.Entity == nil {
		return m, s
	}
	e := add.Entity
	if e.Revealed() || e.Zone() != entity.ZoneHand || e.ZonePosition() != 5 {
		return m, s
	}
	if game, ok := s.Game(); ok && game.Tag(entity.TagStep) != entity.StepInvalid {
		return m, s
	}

	var first, owner *entity.Entity
	for _, p := range s.Players() {
		info, _ := p.Player()
		if p.Tag(entity.TagFirstPlayer) > 0 {
			first = p
		}
		if info.PlayerID == e.Controller() {
			owner = p
		}
	}
	if first == nil || owner == nil || owner == first {
		return m, s
	}
	if owner.Tag(entity.TagMulliganState) != entity.MulliganStateInvalid {
		return m, s
	}
	return state.AddEntity{Entity: e.SetCardID(entity.CoinCardID)}, s
}

func (CoinPlugin) AfterMutate(state.Mutation, *state.GameState) *state.GameState { return nil }
