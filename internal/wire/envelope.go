// Package wire defines the JSON forms exchanged with clients: envelopes
// carrying decoded mutations in, and render-oriented snapshot views out.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"replay-engine/internal/entity"
	"replay-engine/internal/state"
)

// EnvelopeVersion for backwards compatibility of stored streams
const EnvelopeVersion uint8 = 1

var (
	ErrUnknownKind       = errors.New("wire: unknown mutation kind")
	ErrTooManyMutations  = errors.New("wire: too many mutations")
	ErrMalformedEnvelope = errors.New("wire: malformed envelope")
)

// Envelope wraps one decoded mutation.
type Envelope struct {
	Version uint8           `json:"version,omitempty"`
	Kind    state.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Typed payloads, one per mutation kind

// PlayerPayload marks an entity as a player
type PlayerPayload struct {
	PlayerID   int    `json:"playerId"`
	Name       string `json:"name"`
	Rank       int    `json:"rank,omitempty"`
	LegendRank int    `json:"legendRank,omitempty"`
}

// EntityPayload is used by add_entity and replace_entity
type EntityPayload struct {
	ID     int            `json:"id"`
	CardID string         `json:"cardId,omitempty"`
	Tags   map[int]int    `json:"tags,omitempty"`
	Player *PlayerPayload `json:"player,omitempty"`
}

type TagChangePayload struct {
	Entity int `json:"entity"`
	Tag    int `json:"tag"`
	Value  int `json:"value"`
}

type ShowEntityPayload struct {
	Entity  int         `json:"entity"`
	CardID  string      `json:"cardId"`
	Tags    map[int]int `json:"tags,omitempty"`
	Replace bool        `json:"replace,omitempty"`
}

type HideEntityPayload struct {
	Entity int `json:"entity"`
	Zone   int `json:"zone"`
}

type OptionsPayload struct {
	Options []entity.Option `json:"options"`
}

type ChoicesPayload struct {
	Player  int               `json:"player"`
	Type    entity.ChoiceType `json:"type"`
	Choices []entity.Choice   `json:"choices"`
}

type PlayerRefPayload struct {
	Player int `json:"player"`
}

type DescriptorPayload struct {
	Entity   int               `json:"entity"`
	Target   int               `json:"target,omitempty"`
	Type     entity.BlockType  `json:"type"`
	MetaData []entity.MetaData `json:"metaData,omitempty"`
}

type DiffsPayload struct {
	Diffs []state.Diff `json:"diffs"`
}

type TimePayload struct {
	Delta float64 `json:"delta,omitempty"`
	Time  float64 `json:"time,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given kind.
func NewEnvelope(kind state.Kind, payload interface{}) (Envelope, error) {
	env := Envelope{Version: EnvelopeVersion, Kind: kind}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	env.Payload = data
	return env, nil
}

func (p EntityPayload) entity() *entity.Entity {
	tags := entity.NewTagMap(p.Tags)
	if p.Player != nil {
		e := entity.NewPlayer(p.ID, tags, entity.PlayerInfo{
			PlayerID:   p.Player.PlayerID,
			Name:       p.Player.Name,
			Rank:       p.Player.Rank,
			LegendRank: p.Player.LegendRank,
		})
		return e.SetCardID(p.CardID)
	}
	return entity.New(p.ID, tags, p.CardID)
}

// Decode turns an envelope into the mutation it carries.
func Decode(env Envelope) (state.Mutation, error) {
	payload := func(v interface{}) error {
		if len(env.Payload) == 0 {
			return fmt.Errorf("%s: %w: missing payload", env.Kind, ErrMalformedEnvelope)
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return fmt.Errorf("%s: %w: %v", env.Kind, ErrMalformedEnvelope, err)
		}
		return nil
	}

	switch env.Kind {
	case state.KindAddEntity, state.KindReplaceEntity:
		var p EntityPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		if env.Kind == state.KindAddEntity {
			return state.AddEntity{Entity: p.entity()}, nil
		}
		return state.ReplaceEntity{Entity: p.entity()}, nil
	case state.KindTagChange:
		var p TagChangePayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.TagChange{ID: p.Entity, Tag: p.Tag, Value: p.Value}, nil
	case state.KindShowEntity:
		var p ShowEntityPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.ShowEntity{ID: p.Entity, CardID: p.CardID, Tags: entity.NewTagMap(p.Tags), Replace: p.Replace}, nil
	case state.KindHideEntity:
		var p HideEntityPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.HideEntity{ID: p.Entity, Zone: p.Zone}, nil
	case state.KindSetOptions:
		var p OptionsPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.SetOptions{Options: p.Options}, nil
	case state.KindClearOptions:
		return state.ClearOptions{}, nil
	case state.KindSetChoices:
		var p ChoicesPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.SetChoices{Player: p.Player, Choices: entity.NewChoices(p.Type, p.Choices)}, nil
	case state.KindClearChoices:
		var p PlayerRefPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.ClearChoices{Player: p.Player}, nil
	case state.KindPushDescriptor:
		var p DescriptorPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.PushDescriptor{Descriptor: state.Descriptor{
			EntityID: p.Entity,
			Target:   p.Target,
			Type:     p.Type,
			MetaData: p.MetaData,
		}}, nil
	case state.KindPopDescriptor:
		return state.PopDescriptor{}, nil
	case state.KindEnrichDescriptor:
		var p entity.MetaData
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.EnrichDescriptor{MetaData: p}, nil
	case state.KindAddDiffs:
		var p DiffsPayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.AddDiffs{Diffs: p.Diffs}, nil
	case state.KindIncrementTime:
		var p TimePayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.IncrementTime{Delta: p.Delta}, nil
	case state.KindSetTime:
		var p TimePayload
		if err := payload(&p); err != nil {
			return nil, err
		}
		return state.SetTime{Time: p.Time}, nil
	default:
		return nil, fmt.Errorf("%q: %w", env.Kind, ErrUnknownKind)
	}
}

// DecodeStream reads envelopes from r, either as a JSON array or as
// newline delimited JSON, and decodes them in order. Reading stops with
// ErrTooManyMutations once more than max envelopes arrive (max <= 0 means
// no limit).
func DecodeStream(r io.Reader, max int) ([]state.Mutation, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	var out []state.Mutation
	next := func(i int) error {
		if max > 0 && len(out) >= max {
			return ErrTooManyMutations
		}
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return fmt.Errorf("envelope %d: %w: %w", i, ErrMalformedEnvelope, err)
		}
		m, err := Decode(env)
		if err != nil {
			return fmt.Errorf("envelope %d: %w", i, err)
		}
		out = append(out, m)
		return nil
	}

	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
		}
		for i := 0; dec.More(); i++ {
			if err := next(i); err != nil {
				return nil, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
		}
		return out, nil
	}

	for i := 0; dec.More(); i++ {
		if err := next(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// peekNonSpace skips leading whitespace and returns the next byte without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}
