package game

import (
	"bytes"
	"encoding/json"

	"github.com/saeki-dev/anifight/model"
	"github.com/saeki-dev/anifight/scoring"
	"github.com/saeki-dev/anifight/state"
)

// Connection rejection and error codes. Clients use them to tell fatal
// failures (bad room) from retryable ones (transient server trouble).
const (
	codeBadRequest   = "ANF-400"
	codeUnauthorized = "ANF-401"
	codeRoomFull     = "ANF-403"
	codeNotFound     = "ANF-404"
	codeUnavailable  = "ANF-409"
	codeInternal     = "ANF-500"
)

// Outbound push routes.
const (
	routePing              = "onPing"
	routePlayerJoined      = "onPlayerJoined"
	routePlayerReconnected = "onPlayerReconnected"
	routePlayerDisconnect  = "onPlayerDisconnected"
	routeGameStarted       = "onGameStarted"
	routeCharacterDrawn    = "onCharacterDrawn"
	routeCharacterPlaced   = "onCharacterPlaced"
	routeGameReset         = "onGameReset"
	routeGameEnded         = "onGameEnded"
)

type JoinRequest struct {
	RoomCode  string `json:"room_code"`
	SessionID string `json:"session_id"`
	UserID    *uint  `json:"user_id,omitempty"`
}

type JoinResponse struct {
	PlayerRole   model.Role       `json:"player_role"`
	RoomCode     string           `json:"room_code"`
	CurrentState *state.GameState `json:"current_state"`
}

type StartGameRequest struct {
	TemplateID   uint    `json:"template_id"`
	AnimePoolIDs []int64 `json:"anime_pool_ids"`
}

type DrawRequest struct {
	Character state.CharacterCard `json:"character"`
}

type PlaceRequest struct {
	CharacterID int64  `json:"character_id"`
	RoleName    string `json:"role_name"`
}

type ResetRequest struct{}

type SyncRequest struct{}

type PongRequest struct {
	Timestamp string `json:"timestamp,omitempty"`
}

type AckResponse struct {
	Result string `json:"result"`
}

type SyncResponse struct {
	State *state.GameState `json:"state"`
}

type PingEvent struct {
	Timestamp string `json:"timestamp"`
}

type PlayerEvent struct {
	PlayerRole model.Role `json:"player_role"`
}

type GameStartedEvent struct {
	TemplateID   uint    `json:"template_id"`
	AnimePoolIDs []int64 `json:"anime_pool_ids"`
}

type CharacterDrawnEvent struct {
	Character  state.CharacterCard `json:"character"`
	PlayerRole model.Role          `json:"player_role"`
	Tier       string              `json:"tier,omitempty"`
	TierLabel  string              `json:"tier_label,omitempty"`
}

type CharacterPlacedEvent struct {
	CharacterID int64      `json:"character_id"`
	RoleName    string     `json:"role_name"`
	PlayerRole  model.Role `json:"player_role"`
	IsComplete  bool       `json:"is_complete"`
}

type GameResetEvent struct{}

type GameEndedEvent struct {
	Reason  string                `json:"reason"`
	Results *scoring.MatchOutcome `json:"results"`
}

// decodeStrict unmarshals an inbound payload rejecting unknown fields, so a
// misspelled or unexpected field is an error rather than silently ignored.
func decodeStrict(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
