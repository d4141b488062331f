package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewRoomCodeLengthAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code := NewRoomCode()
		require.Len(t, code, RoomCodeLength)
		for _, c := range code {
			assert.Contains(t, roomCodeAlphabet, string(c))
		}
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s after %d draws", code, i)
		seen[code] = struct{}{}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to RoomStatus
		ok       bool
	}{
		{StatusWaiting, StatusReady, true},
		{StatusReady, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusReady, true}, // reset
		{StatusWaiting, StatusAbandoned, true},
		{StatusWaiting, StatusCompleted, true}, // forced end
		{StatusReady, StatusAbandoned, true},
		{StatusWaiting, StatusInProgress, false},
		{StatusCompleted, StatusAbandoned, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusAbandoned, StatusReady, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusAbandoned.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func uintPtr(v uint) *uint { return &v }

func TestResolveRoleSessionPrecedence(t *testing.T) {
	room := &Room{Status: StatusReady, HostSessionID: "s-host", GuestSessionID: "s-guest"}

	role, mutated, ok := room.ResolveRole(Identity{SessionID: "s-host"})
	require.True(t, ok)
	assert.Equal(t, RoleHost, role)
	assert.False(t, mutated)

	role, _, ok = room.ResolveRole(Identity{SessionID: "s-guest"})
	require.True(t, ok)
	assert.Equal(t, RoleGuest, role)

	// stranger against a full room is rejected
	_, _, ok = room.ResolveRole(Identity{SessionID: "s-other"})
	assert.False(t, ok)
}

func TestResolveRoleAuthenticatedUser(t *testing.T) {
	room := &Room{
		Status:         StatusReady,
		HostUserID:     uintPtr(1),
		GuestUserID:    uintPtr(2),
		HostSessionID:  "old-host-session",
		GuestSessionID: "old-guest-session",
	}

	// same user on a new device still resolves to host
	role, _, ok := room.ResolveRole(Identity{SessionID: "new-session", UserID: uintPtr(1)})
	require.True(t, ok)
	assert.Equal(t, RoleHost, role)

	role, _, ok = room.ResolveRole(Identity{SessionID: "new-session", UserID: uintPtr(2)})
	require.True(t, ok)
	assert.Equal(t, RoleGuest, role)
}

func TestResolveRoleBindsHostOnWaitingRoom(t *testing.T) {
	room := &Room{Status: StatusWaiting}

	role, mutated, ok := room.ResolveRole(Identity{SessionID: "s-1"})
	require.True(t, ok)
	assert.Equal(t, RoleHost, role)
	assert.True(t, mutated)
	assert.Equal(t, "s-1", room.HostSessionID)

	// a different identity cannot displace the bound host
	_, _, ok = room.ResolveRole(Identity{SessionID: "s-2"})
	assert.False(t, ok)
}

func TestResolveRoleIdempotent(t *testing.T) {
	room := &Room{Status: StatusWaiting}
	id := Identity{SessionID: "s-1", UserID: uintPtr(9)}

	first, _, ok := room.ResolveRole(id)
	require.True(t, ok)
	second, mutated, ok := room.ResolveRole(id)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.False(t, mutated, "second resolution must not mutate again")
}

func TestBindGuest(t *testing.T) {
	room := &Room{Status: StatusWaiting, HostSessionID: "s-host"}

	require.True(t, room.BindGuest(Identity{SessionID: "s-guest"}, "P2"))
	assert.Equal(t, "s-guest", room.GuestSessionID)
	assert.Equal(t, "P2", room.GuestNickname)

	// guest slot is single occupancy
	assert.False(t, room.BindGuest(Identity{SessionID: "s-late"}, "P3"))

	// guests cannot be bound once the game is running
	running := &Room{Status: StatusInProgress}
	assert.False(t, running.BindGuest(Identity{SessionID: "s-x"}, ""))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	retention := 30 * time.Minute

	old := &Room{Status: StatusWaiting, Model: gorm.Model{CreatedAt: now.Add(-time.Hour)}}
	assert.True(t, old.Expired(retention, now))

	fresh := &Room{Status: StatusWaiting, Model: gorm.Model{CreatedAt: now.Add(-time.Minute)}}
	assert.False(t, fresh.Expired(retention, now))

	// a live match never expires regardless of age
	live := &Room{Status: StatusInProgress, Model: gorm.Model{CreatedAt: now.Add(-24 * time.Hour)}}
	assert.False(t, live.Expired(retention, now))

	// completed rooms age from completion, not creation
	done := now.Add(-time.Minute)
	completed := &Room{Status: StatusCompleted, Model: gorm.Model{CreatedAt: now.Add(-2 * time.Hour)}, CompletedAt: &done}
	assert.False(t, completed.Expired(retention, now))
}

func TestLastSeen(t *testing.T) {
	room := &Room{}
	assert.Nil(t, room.LastSeen(RoleHost))
	assert.Nil(t, room.LastSeen(RoleGuest))

	now := time.Now()
	room.HostLastSeen = &now
	assert.Equal(t, &now, room.LastSeen(RoleHost))
	assert.Nil(t, room.LastSeen(RoleGuest))
}
