package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusReady      RoomStatus = "ready"
	StatusInProgress RoomStatus = "in_progress"
	StatusCompleted  RoomStatus = "completed"
	StatusAbandoned  RoomStatus = "abandoned"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

type Room struct {
	gorm.Model
	RoomCode string `gorm:"size:8;uniqueIndex" json:"room_code"`

	HostUserID  *uint `json:"host_user_id"`
	GuestUserID *uint `json:"guest_user_id"`

	HostSessionID  string `gorm:"size:64" json:"-"`
	GuestSessionID string `gorm:"size:64" json:"-"`

	HostNickname  string `gorm:"size:50" json:"host_nickname"`
	GuestNickname string `gorm:"size:50" json:"guest_nickname"`

	TemplateID   uint      `json:"template_id"`
	AnimePoolIDs Int64List `gorm:"type:jsonb" json:"anime_pool_ids"`

	Status RoomStatus `gorm:"size:20;index" json:"status"`

	HostConnected  bool       `json:"host_connected"`
	GuestConnected bool       `json:"guest_connected"`
	HostLastSeen   *time.Time `json:"host_last_seen"`
	GuestLastSeen  *time.Time `json:"guest_last_seen"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type ActionType string

const (
	// ActionStartGame seeds the journal so the full state can be rebuilt
	// from the log alone; it never arrives on the wire as a game action.
	ActionStartGame      ActionType = "START_GAME"
	ActionDrawCharacter  ActionType = "DRAW_CHARACTER"
	ActionPlaceCharacter ActionType = "PLACE_CHARACTER"
)

// GameAction is one append-only journal entry. Sequence numbers are gapless
// and strictly increasing within a room.
type GameAction struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	RoomID         uint       `gorm:"uniqueIndex:idx_room_sequence" json:"-"`
	ActionType     ActionType `gorm:"size:50" json:"action_type"`
	PlayerRole     Role       `gorm:"size:10" json:"player_role"`
	Payload        Payload    `gorm:"type:jsonb" json:"payload"`
	SequenceNumber int64      `gorm:"uniqueIndex:idx_room_sequence" json:"sequence_number"`
	CreatedAt      time.Time  `json:"timestamp"`
}

type Anime struct {
	gorm.Model
	Name            string              `gorm:"size:255" json:"name"`
	AnimePowerScale decimal.NullDecimal `gorm:"type:numeric(6,2)" json:"anime_power_scale"`
	IsPublic        bool                `json:"is_public"`
}

type Character struct {
	gorm.Model
	AnimeID        *uint               `json:"anime_id"`
	Anime          *Anime              `json:"anime,omitempty"`
	Name           string              `gorm:"size:255" json:"name"`
	CharacterPower decimal.NullDecimal `gorm:"type:numeric(6,2)" json:"character_power"`
	Specialties    StringList          `gorm:"type:jsonb" json:"specialties"`
}

type GameTemplate struct {
	gorm.Model
	Name                     string          `gorm:"size:255" json:"name"`
	Roles                    StringList      `gorm:"type:jsonb" json:"roles"`
	IsPublished              bool            `json:"is_published"`
	SpecialtyMatchMultiplier decimal.Decimal `gorm:"type:numeric(4,2)" json:"specialty_match_multiplier"`
	RatingBands              RatingBands     `gorm:"type:jsonb" json:"rating_bands"`
}

var DefaultRoles = StringList{"CAPTAIN", "VICE CAPTAIN", "TANK", "HEALER", "SUPPORT", "SUPPORT"}

var DefaultRatingBands = RatingBands{
	"S": {Min: 90, Label: "INSANE PULL!"},
	"A": {Min: 70, Label: "HUGE WIN!"},
	"B": {Min: 40, Label: "Nice pick"},
	"C": {Min: 10, Label: "Meh…"},
	"D": {Min: 0, Label: "Oof."},
}

// RoleList returns the template roles, falling back to the default lineup
// for templates saved without one.
func (t *GameTemplate) RoleList() StringList {
	if len(t.Roles) == 0 {
		return DefaultRoles
	}
	return t.Roles
}

func (t *GameTemplate) Bands() RatingBands {
	if len(t.RatingBands) == 0 {
		return DefaultRatingBands
	}
	return t.RatingBands
}

func (t *GameTemplate) Multiplier() decimal.Decimal {
	if t.SpecialtyMatchMultiplier.IsZero() {
		return decimal.RequireFromString("1.20")
	}
	return t.SpecialtyMatchMultiplier
}
