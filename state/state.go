// Package state owns the ephemeral, authoritative snapshot of one room's
// in-progress game. All mutation is funneled through Store, which serializes
// writes per room and journals every accepted action before persisting the
// snapshot.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/saeki-dev/anifight/model"
	"github.com/shopspring/decimal"
)

// CharacterCard is the character payload clients echo when drawing; it
// carries the stats needed to render the draw without another content query.
type CharacterCard struct {
	ID              int64               `json:"id"`
	Name            string              `json:"name,omitempty"`
	Image           string              `json:"image,omitempty"`
	AnimeID         int64               `json:"anime_id,omitempty"`
	AnimeName       string              `json:"anime_name,omitempty"`
	CharacterPower  decimal.NullDecimal `json:"character_power,omitempty"`
	AnimePowerScale decimal.NullDecimal `json:"anime_power_scale,omitempty"`
	Specialties     []string            `json:"specialties,omitempty"`
}

type StartPayload struct {
	TemplateID   uint    `json:"template_id"`
	AnimePoolIDs []int64 `json:"anime_pool_ids"`
	CharacterIDs []int64 `json:"character_ids"`
}

type DrawPayload struct {
	Character CharacterCard `json:"character"`
}

type PlacePayload struct {
	CharacterID int64  `json:"character_id"`
	RoleName    string `json:"role_name"`
}

// GameState is the derived snapshot. SequenceNumber always equals the
// sequence of the last applied action.
type GameState struct {
	TemplateID            uint             `json:"template_id"`
	AnimePoolIDs          []int64          `json:"anime_pool_ids"`
	CurrentTurn           model.Role       `json:"current_turn"`
	HostPlacements        map[string]int64 `json:"host_placements"`
	GuestPlacements       map[string]int64 `json:"guest_placements"`
	DrawnCharacters       []CharacterCard  `json:"drawn_characters"`
	RemainingCharacterIDs []int64          `json:"remaining_character_ids"`
	SequenceNumber        int64            `json:"sequence_number"`
}

func (s *GameState) Placements(role model.Role) map[string]int64 {
	if role == model.RoleHost {
		return s.HostPlacements
	}
	return s.GuestPlacements
}

// apply folds one journal entry into the state. It is the single transition
// function shared by live application and replay, so replaying the full log
// reproduces live state exactly.
func (s *GameState) apply(a *model.GameAction) error {
	switch a.ActionType {
	case model.ActionStartGame:
		var p StartPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", a.ActionType, err)
		}
		s.TemplateID = p.TemplateID
		s.AnimePoolIDs = p.AnimePoolIDs
		s.CurrentTurn = model.RoleHost
		s.HostPlacements = map[string]int64{}
		s.GuestPlacements = map[string]int64{}
		s.DrawnCharacters = nil
		s.RemainingCharacterIDs = append([]int64(nil), p.CharacterIDs...)

	case model.ActionDrawCharacter:
		var p DrawPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", a.ActionType, err)
		}
		s.DrawnCharacters = append(s.DrawnCharacters, p.Character)
		// removal is a no-op when the id is not in the remaining pool
		for i, id := range s.RemainingCharacterIDs {
			if id == p.Character.ID {
				s.RemainingCharacterIDs = append(s.RemainingCharacterIDs[:i], s.RemainingCharacterIDs[i+1:]...)
				break
			}
		}

	case model.ActionPlaceCharacter:
		var p PlacePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", a.ActionType, err)
		}
		s.Placements(a.PlayerRole)[p.RoleName] = p.CharacterID
		s.CurrentTurn = a.PlayerRole.Other()

	default:
		return fmt.Errorf("unknown action type %q", a.ActionType)
	}
	s.SequenceNumber = a.SequenceNumber
	return nil
}

// Complete reports whether both placement maps hold one entry per template
// role.
func (s *GameState) Complete(roleCount int) bool {
	if roleCount == 0 {
		return false
	}
	return len(s.HostPlacements) == roleCount && len(s.GuestPlacements) == roleCount
}
