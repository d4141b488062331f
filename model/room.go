package model

import (
	"crypto/rand"
	"time"
)

// RoomCodeLength is fixed; codes are shared verbally and via join links.
const RoomCodeLength = 6

// roomCodeAlphabet omits 0/O/1/I to keep codes readable.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRoomCode returns a random fixed-length room code. Uniqueness against
// existing rooms is the caller's job (db.Rooms.Create retries on collision).
func NewRoomCode() string {
	b := make([]byte, RoomCodeLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b)
}

var transitions = map[RoomStatus][]RoomStatus{
	StatusWaiting:    {StatusReady, StatusCompleted, StatusAbandoned},
	StatusReady:      {StatusInProgress, StatusCompleted, StatusAbandoned},
	StatusInProgress: {StatusReady, StatusCompleted, StatusAbandoned},
}

// CanTransition reports whether the lifecycle state machine allows moving
// from s to next. Completed and abandoned are terminal. in_progress may move
// back to ready on an explicit game reset.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RoomStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Identity is what a connecting client presents: an anonymous session token
// and, when logged in, a user id.
type Identity struct {
	SessionID string
	UserID    *uint
}

func (id Identity) matchesUser(userID *uint) bool {
	return id.UserID != nil && userID != nil && *id.UserID == *userID
}

// ResolveRole determines which participant slot an identity occupies,
// following a fixed precedence: stored session token, authenticated user
// identity, then opportunistic host binding on a waiting room. It returns
// ok=false when the identity has no slot (room full for strangers). mutated
// reports that host fields were bound and the room must be saved; once
// bound, resolving the same identity again takes the session-token path, so
// resolution is idempotent.
func (r *Room) ResolveRole(id Identity) (role Role, mutated bool, ok bool) {
	if r.HostSessionID != "" && r.HostSessionID == id.SessionID {
		return RoleHost, false, true
	}
	if id.matchesUser(r.HostUserID) {
		return RoleHost, false, true
	}

	if r.GuestSessionID != "" {
		if r.GuestSessionID == id.SessionID || id.matchesUser(r.GuestUserID) {
			return RoleGuest, false, true
		}
		return "", false, false
	}

	if r.Status == StatusWaiting {
		if id.UserID != nil {
			if r.HostUserID == nil || *r.HostUserID == *id.UserID {
				r.HostSessionID = id.SessionID
				if r.HostUserID == nil {
					r.HostUserID = id.UserID
				}
				return RoleHost, true, true
			}
			return "", false, false
		}
		if r.HostUserID == nil && r.HostSessionID == "" {
			r.HostSessionID = id.SessionID
			return RoleHost, true, true
		}
	}

	return "", false, false
}

// BindGuest attaches an identity to the guest slot. Guests may only be bound
// while the room is still waiting or ready.
func (r *Room) BindGuest(id Identity, nickname string) bool {
	if r.Status != StatusWaiting && r.Status != StatusReady {
		return false
	}
	if r.GuestSessionID != "" || r.GuestUserID != nil {
		return false
	}
	r.GuestSessionID = id.SessionID
	r.GuestUserID = id.UserID
	if nickname != "" {
		r.GuestNickname = nickname
	}
	return true
}

func (r *Room) Connected(role Role) bool {
	if role == RoleHost {
		return r.HostConnected
	}
	return r.GuestConnected
}

// LastSeen is nil until the role's player has connected at least once.
func (r *Room) LastSeen(role Role) *time.Time {
	if role == RoleHost {
		return r.HostLastSeen
	}
	return r.GuestLastSeen
}

// Expired reports whether the room has outlived the retention window.
// Rooms with a live match never expire; completed rooms age from their
// completion time, everything else from creation.
func (r *Room) Expired(retention time.Duration, now time.Time) bool {
	if r.Status == StatusInProgress {
		return false
	}
	ref := r.CreatedAt
	if r.CompletedAt != nil {
		ref = *r.CompletedAt
	}
	return now.Sub(ref) > retention
}

func (r *Room) JoinURL(base string) string {
	return base + "/join/" + r.RoomCode
}
