package tracker

import (
	"slices"

	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

// Pacing steps, in playback seconds.
const (
	stepBlockBoundary = 2
	stepRitual        = 2
	stepRitualPop     = 2
	stepTrigger       = 1
	stepMalchezaar    = 3
	stepTurnStart     = 1
	stepAfterDraw     = 1.5
	stepAttack        = 1
	stepPower         = 1
	stepOtherBlock    = 1.5
	stepPlayPop       = 1
	stepBlockPop      = 2
	stepSingleHit     = 1
	stepMultiHit      = 2
	stepDefender      = 1
	stepMulligan      = 6
	stepDiscover      = 4
)

// Entities up to this id are the game and the two players.
const lastReservedEntity = 3

// TimerPlugin synthesizes playback time from the shape of the mutation
// stream, which carries no timestamps of its own. It is stateful and must
// not be shared between trackers.
type TimerPlugin struct {
	lastType        entity.BlockType
	hasLastType     bool
	lastEntity      int
	waitForBoundary bool
	mulligansSeen   int
	pendingTargets  []int
	// steppedInBlock is set by the first paced block pop or hit and is
	// never cleared, so later pops only pace through triggers and plays.
	steppedInBlock bool
}

// NewTimerPlugin creates a timer with no open blocks.
func NewTimerPlugin() *TimerPlugin {
	return &TimerPlugin{}
}

func (p *TimerPlugin) BeforeMutate(m state.Mutation, s *state.GameState) (state.Mutation, *state.GameState) {
	if _, ok := m.(state.PopDescriptor); ok && p.hasLastType && p.lastType == entity.BlockRitual {
		return m, s.Apply(state.IncrementTime{Delta: stepRitualPop})
	}
	return m, s
}

func (p *TimerPlugin) AfterMutate(m state.Mutation, s *state.GameState) *state.GameState {
	var step float64
	gameStep := entity.StepInvalid
	if game, ok := s.Game(); ok {
		gameStep = game.Tag(entity.TagStep)
	}

	switch m.(type) {
	case state.PushDescriptor, state.PopDescriptor:
		if p.waitForBoundary {
			step = stepBlockBoundary
			p.waitForBoundary = false
		}
	}

	switch mut := m.(type) {
	case state.PushDescriptor:
		step = p.onPush(mut.Descriptor, s, gameStep, step)
	case state.PopDescriptor:
		step = p.onPop(s, gameStep, step)
	case state.EnrichDescriptor:
		if hit := p.onEnrich(mut.MetaData); hit > 0 {
			step = hit
		}
	case state.TagChange:
		if p.inBlock(entity.BlockAttack) && mut.Tag == entity.TagProposedDefender && mut.Value == 0 {
			step = stepDefender
		}
	case state.SetOptions:
		step = 0
	case state.SetChoices:
		if gameStep == entity.StepBeginMulligan {
			p.mulligansSeen++
			if p.mulligansSeen >= 2 {
				step = stepMulligan
			}
		} else {
			step = stepDiscover
		}
	}

	if step == 0 {
		return nil
	}
	return s.Apply(state.IncrementTime{Delta: step})
}

func (p *TimerPlugin) onPush(d state.Descriptor, s *state.GameState, gameStep int, step float64) float64 {
	p.lastEntity = d.EntityID
	p.lastType = d.Type
	p.hasLastType = true

	switch d.Type {
	case entity.BlockPlay:
		p.waitForBoundary = true
	case entity.BlockRitual:
		step = stepRitual
	case entity.BlockTrigger:
		if step != 0 {
			break
		}
		if d.EntityID > lastReservedEntity && gameStep != entity.StepInvalid {
			e, ok := s.Entity(d.EntityID)
			if ok && e.CardID() == "KAR_096" && e.Tag(entity.TagRevealed) > 0 {
				step = stepMalchezaar
			} else {
				step = stepTrigger
			}
			break
		}
		switch gameStep {
		case entity.StepMainStart:
			step = stepTurnStart
		case entity.StepMainAction:
			step = stepAfterDraw
		}
	case entity.BlockAttack:
		step = stepAttack
	case entity.BlockPower:
		if step == 0 {
			step = stepPower
		}
	default:
		if step == 0 {
			step = stepOtherBlock
		}
	}
	return step
}

func (p *TimerPlugin) onPop(s *state.GameState, gameStep int, step float64) float64 {
	if step == 0 && p.lastEntity > lastReservedEntity && gameStep != entity.StepInvalid {
		switch {
		case p.inBlock(entity.BlockTrigger):
			step = stepTrigger
		case p.inBlock(entity.BlockPlay):
			// Only pause once the outermost play resolves.
			if s.DescriptorDepth() == 0 {
				step = stepPlayPop
			}
		case !p.steppedInBlock:
			step = stepBlockPop
			p.steppedInBlock = true
		}
	}
	p.pendingTargets = p.pendingTargets[:0]
	if top, ok := s.Descriptor(); ok {
		p.lastType = top.Type
		p.hasLastType = true
	} else {
		p.hasLastType = false
	}
	return step
}

// onEnrich batches damage and healing so time only advances once every
// announced target has been hit. Attack blocks are paced by tag changes instead.
func (p *TimerPlugin) onEnrich(md entity.MetaData) float64 {
	if p.inBlock(entity.BlockAttack) {
		return 0
	}
	switch md.Type {
	case entity.MetaTarget:
		// Later announcements overwrite earlier ones position by position.
		for i, id := range md.Entities {
			if i < len(p.pendingTargets) {
				p.pendingTargets[i] = id
			} else {
				p.pendingTargets = append(p.pendingTargets, id)
			}
		}
	case entity.MetaDamage, entity.MetaHealing:
		p.pendingTargets = slices.DeleteFunc(p.pendingTargets, func(id int) bool {
			return slices.Contains(md.Entities, id)
		})
		if len(p.pendingTargets) == 0 {
			p.steppedInBlock = true
			if len(md.Entities) > 1 {
				return stepMultiHit
			}
			return stepSingleHit
		}
	}
	return 0
}

func (p *TimerPlugin) inBlock(t entity.BlockType) bool {
	return p.hasLastType && p.lastType == t
}
