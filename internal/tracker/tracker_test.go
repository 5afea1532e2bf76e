package tracker

import (
	"errors"
	"testing"

	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

// baseState returns a timed snapshot with a game entity at gameStep, two
// players and a few cards.
func baseState(gameStep int) *state.GameState {
	gameTags := map[int]int{entity.TagTurn: 1}
	if gameStep != entity.StepInvalid {
		gameTags[entity.TagStep] = gameStep
	}
	s := state.New().Apply(state.SetTime{Time: 0})
	s = s.Apply(state.AddEntity{Entity: entity.New(entity.GameEntityID, entity.NewTagMap(gameTags), "")})
	s = s.Apply(state.AddEntity{Entity: entity.NewPlayer(2, entity.NewTagMap(map[int]int{
		entity.TagController:  1,
		entity.TagFirstPlayer: 1,
	}), entity.PlayerInfo{PlayerID: 1, Name: "Alice"})})
	s = s.Apply(state.AddEntity{Entity: entity.NewPlayer(3, entity.NewTagMap(map[int]int{
		entity.TagController: 2,
	}), entity.PlayerInfo{PlayerID: 2, Name: "Bob"})})
	s = s.Apply(state.AddEntity{Entity: entity.New(10, entity.NewTagMap(map[int]int{
		entity.TagController: 1,
		entity.TagZone:       entity.ZonePlay,
	}), "")})
	s = s.Apply(state.AddEntity{Entity: entity.New(11, entity.NewTagMap(map[int]int{
		entity.TagController: 2,
		entity.TagZone:       entity.ZonePlay,
		entity.TagRevealed:   1,
	}), "KAR_096")})
	return s.Apply(state.IncrementTime{Delta: 0})
}

func push(id int, t entity.BlockType) state.Mutation {
	return state.PushDescriptor{Descriptor: state.Descriptor{EntityID: id, Type: t}}
}

func currentTime(t *testing.T, tr *Tracker) float64 {
	t.Helper()
	tm, ok := tr.State().Time()
	if !ok {
		t.Fatal("Expected a timed state")
	}
	return tm
}

func TestApplyNilMutation(t *testing.T) {
	tr := New()
	if _, err := tr.Apply(nil); !errors.Is(err, ErrNilMutation) {
		t.Errorf("Expected ErrNilMutation, got %v", err)
	}
	_, err := tr.ApplyAll([]state.Mutation{state.SetTime{Time: 1}, nil})
	if !errors.Is(err, ErrNilMutation) {
		t.Errorf("Expected wrapped ErrNilMutation, got %v", err)
	}
	if tr.Applied() != 1 {
		t.Errorf("Expected 1 applied mutation, got %d", tr.Applied())
	}
}

func TestNewStartsAtTimeZero(t *testing.T) {
	tr := New()
	if tm, ok := tr.State().Time(); !ok || tm != 0 {
		t.Errorf("Expected time 0, got %v (set=%v)", tm, ok)
	}
}

func TestEmissions(t *testing.T) {
	var emitted []*state.GameState
	sink := SinkFunc(func(s *state.GameState) { emitted = append(emitted, s) })

	tr := New(
		WithInitialState(baseState(entity.StepMainAction)),
		WithPlugins(NewTimerPlugin()),
		WithSinks(sink),
	)

	if _, err := tr.Apply(state.TagChange{ID: 10, Tag: entity.TagHealth, Value: 3}); err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("Expected 1 emission for an unpaced mutation, got %d", len(emitted))
	}

	if _, err := tr.Apply(push(10, entity.BlockAttack)); err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 3 {
		t.Fatalf("Expected 2 more emissions for a paced mutation, got %d", len(emitted)-1)
	}
	before, _ := emitted[1].Time()
	after, _ := emitted[2].Time()
	if after-before != 1 {
		t.Errorf("Expected the second emission to advance time by 1, got %v", after-before)
	}
	if emitted[2] != tr.State() {
		t.Error("Tracker state should be the last emission")
	}
}

type substitutePlugin struct{}

func (substitutePlugin) BeforeMutate(m state.Mutation, s *state.GameState) (state.Mutation, *state.GameState) {
	if tc, ok := m.(state.TagChange); ok {
		tc.Value++
		return tc, s
	}
	return m, s
}

func (substitutePlugin) AfterMutate(state.Mutation, *state.GameState) *state.GameState { return nil }

func TestPluginSubstitutesMutation(t *testing.T) {
	tr := New(WithInitialState(baseState(entity.StepMainAction)), WithPlugins(substitutePlugin{}))
	s, err := tr.Apply(state.TagChange{ID: 10, Tag: entity.TagAtk, Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := s.Entity(10)
	if e.Attack() != 2 {
		t.Errorf("Expected substituted value 2, got %d", e.Attack())
	}
}

func TestTimerPacing(t *testing.T) {
	md := func(typ entity.MetaDataType, ids ...int) state.Mutation {
		return state.EnrichDescriptor{MetaData: entity.MetaData{Type: typ, Entities: ids}}
	}
	choices := func(player int) state.Mutation {
		return state.SetChoices{Player: player, Choices: entity.NewChoices(entity.ChoiceMulligan, []entity.Choice{{Index: 0, Entity: 10}})}
	}

	tests := []struct {
		name      string
		gameStep  int
		mutations []state.Mutation
		want      float64
	}{
		{
			name:      "play waits for the next block then pauses on close",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(10, entity.BlockPlay), push(10, entity.BlockPower), state.PopDescriptor{}, state.PopDescriptor{}},
			want:      2 + 2 + 1,
		},
		{
			name:      "ritual pushes and pops",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(10, entity.BlockRitual), state.PopDescriptor{}},
			want:      2 + 2 + 2,
		},
		{
			name:      "game trigger at turn start",
			gameStep:  entity.StepMainStart,
			mutations: []state.Mutation{push(1, entity.BlockTrigger)},
			want:      1,
		},
		{
			name:      "player trigger after draw",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(2, entity.BlockTrigger)},
			want:      1.5,
		},
		{
			name:      "reserved trigger in other steps",
			gameStep:  entity.StepMainEnd,
			mutations: []state.Mutation{push(1, entity.BlockTrigger)},
			want:      0,
		},
		{
			name:      "card trigger",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(10, entity.BlockTrigger), state.PopDescriptor{}},
			want:      1 + 1,
		},
		{
			name:      "card trigger before the game starts",
			gameStep:  entity.StepInvalid,
			mutations: []state.Mutation{push(10, entity.BlockTrigger)},
			want:      0,
		},
		{
			name:      "revealed malchezaar",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(11, entity.BlockTrigger)},
			want:      3,
		},
		{
			name:      "other blocks",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{push(10, entity.BlockDeaths)},
			want:      1.5,
		},
		{
			name:     "damage batched until all targets hit",
			gameStep: entity.StepMainAction,
			mutations: []state.Mutation{
				push(10, entity.BlockPower),
				md(entity.MetaTarget, 2, 3),
				md(entity.MetaDamage, 2),
				md(entity.MetaDamage, 3),
			},
			want: 1 + 1,
		},
		{
			name:     "multi target hit",
			gameStep: entity.StepMainAction,
			mutations: []state.Mutation{
				push(10, entity.BlockPower),
				md(entity.MetaTarget, 2, 3),
				md(entity.MetaHealing, 2, 3),
				state.PopDescriptor{},
			},
			want: 1 + 2,
		},
		{
			name:     "later targets overwrite earlier ones by position",
			gameStep: entity.StepMainAction,
			mutations: []state.Mutation{
				push(10, entity.BlockPower),
				md(entity.MetaTarget, 2, 3),
				md(entity.MetaTarget, 11),
				md(entity.MetaDamage, 11),
				md(entity.MetaDamage, 3),
			},
			want: 1 + 1,
		},
		{
			name:     "only the first block pop pauses",
			gameStep: entity.StepMainAction,
			mutations: []state.Mutation{
				push(10, entity.BlockDeaths), state.PopDescriptor{},
				push(10, entity.BlockDeaths), state.PopDescriptor{},
			},
			want: 1.5 + 2 + 1.5,
		},
		{
			name:     "attack resolves on defender cleared",
			gameStep: entity.StepMainAction,
			mutations: []state.Mutation{
				state.TagChange{ID: entity.GameEntityID, Tag: entity.TagProposedDefender, Value: 3},
				push(10, entity.BlockAttack),
				md(entity.MetaDamage, 3),
				state.TagChange{ID: entity.GameEntityID, Tag: entity.TagProposedDefender, Value: 0},
			},
			want: 1 + 1,
		},
		{
			name:      "options never pace",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{state.SetOptions{Options: []entity.Option{{Index: 0, Type: entity.OptionEndTurn}}}},
			want:      0,
		},
		{
			name:      "mulligan waits for both players",
			gameStep:  entity.StepBeginMulligan,
			mutations: []state.Mutation{choices(2), choices(3)},
			want:      6,
		},
		{
			name:      "discover",
			gameStep:  entity.StepMainAction,
			mutations: []state.Mutation{choices(2)},
			want:      4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(WithInitialState(baseState(tt.gameStep)), WithPlugins(NewTimerPlugin()))
			if _, err := tr.ApplyAll(tt.mutations); err != nil {
				t.Fatal(err)
			}
			if got := currentTime(t, tr); got != tt.want {
				t.Errorf("Expected time %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTimerAttackPacing(t *testing.T) {
	attack := []state.Mutation{
		push(10, entity.BlockAttack),
		state.TagChange{ID: entity.GameEntityID, Tag: entity.TagProposedDefender, Value: 3},
		state.TagChange{ID: entity.GameEntityID, Tag: entity.TagProposedDefender, Value: 0},
		state.PopDescriptor{},
	}
	tr := New(WithInitialState(baseState(entity.StepMainAction)), WithPlugins(NewTimerPlugin()))

	// The first attack pauses on its pop, later ones only on push and defender.
	for i, want := range []float64{1 + 1 + 2, 1 + 1, 1 + 1} {
		before := currentTime(t, tr)
		if _, err := tr.ApplyAll(attack); err != nil {
			t.Fatal(err)
		}
		if got := currentTime(t, tr) - before; got != want {
			t.Errorf("attack %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestCoinPlugin(t *testing.T) {
	card := func(controller, position int, cardID string) *entity.Entity {
		return entity.New(68, entity.NewTagMap(map[int]int{
			entity.TagController:   controller,
			entity.TagZone:         entity.ZoneHand,
			entity.TagZonePosition: position,
		}), cardID)
	}

	tests := []struct {
		name     string
		gameStep int
		card     *entity.Entity
		want     string
	}{
		{"second player fifth card", entity.StepInvalid, card(2, 5, ""), entity.CoinCardID},
		{"first player fifth card", entity.StepInvalid, card(1, 5, ""), ""},
		{"other position", entity.StepInvalid, card(2, 4, ""), ""},
		{"already revealed", entity.StepInvalid, card(2, 5, "EX1_001"), "EX1_001"},
		{"after mulligan began", entity.StepBeginMulligan, card(2, 5, ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(WithInitialState(baseState(tt.gameStep)), WithPlugins(CoinPlugin{}))
			s, err := tr.Apply(state.AddEntity{Entity: tt.card})
			if err != nil {
				t.Fatal(err)
			}
			e, ok := s.Entity(68)
			if !ok {
				t.Fatal("Expected entity to be added")
			}
			if e.CardID() != tt.want {
				t.Errorf("Expected card %q, got %q", tt.want, e.CardID())
			}
		})
	}
}

func TestCoinPluginRequiresPendingMulligan(t *testing.T) {
	s := baseState(entity.StepInvalid).Apply(state.TagChange{ID: 3, Tag: entity.TagMulliganState, Value: entity.MulliganStateDone})
	tr := New(WithInitialState(s), WithPlugins(CoinPlugin{}))
	out, _ := tr.Apply(state.AddEntity{Entity: entity.New(68, entity.NewTagMap(map[int]int{
		entity.TagController:   2,
		entity.TagZone:         entity.ZoneHand,
		entity.TagZonePosition: 5,
	}), "")})
	if e, _ := out.Entity(68); e.Revealed() {
		t.Error("Coin should only be detected before the mulligan")
	}
}
