package state

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/saeki-dev/anifight/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLog struct {
	mu      sync.Mutex
	entries map[string][]model.GameAction
	failing bool
}

func newMemLog() *memLog {
	return &memLog{entries: make(map[string][]model.GameAction)}
}

func (l *memLog) Append(ctx context.Context, roomCode string, a *model.GameAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return assert.AnError
	}
	l.entries[roomCode] = append(l.entries[roomCode], *a)
	return nil
}

func (l *memLog) ListSince(ctx context.Context, roomCode string, after int64) ([]model.GameAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.GameAction
	for _, a := range l.entries[roomCode] {
		if a.SequenceNumber > after {
			out = append(out, a)
		}
	}
	return out, nil
}

type memContent struct {
	characterIDs []int64
	roleCount    int
}

func (c *memContent) CharacterIDsByAnime(ctx context.Context, animeIDs []int64) ([]int64, error) {
	return append([]int64(nil), c.characterIDs...), nil
}

func (c *memContent) TemplateRoleCount(ctx context.Context, templateID uint) (int, error) {
	return c.roleCount, nil
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestStore(t *testing.T) (*Store, *memLog) {
	t.Helper()
	log := newMemLog()
	content := &memContent{characterIDs: []int64{11, 12, 13, 14}, roleCount: 2}
	return NewStore(NewMemoryKV(), log, content, 15*time.Minute), log
}

func drawPayload(t *testing.T, id int64) []byte {
	t.Helper()
	return mustJSON(t, DrawPayload{Character: CharacterCard{ID: id, Name: "c"}})
}

func placePayload(t *testing.T, id int64, role string) []byte {
	t.Helper()
	return mustJSON(t, PlacePayload{CharacterID: id, RoleName: role})
}

func TestInitialize(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	st, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, uint(7), st.TemplateID)
	assert.Equal(t, model.RoleHost, st.CurrentTurn)
	assert.Equal(t, []int64{11, 12, 13, 14}, st.RemainingCharacterIDs)
	assert.Equal(t, int64(1), st.SequenceNumber)

	got, err := store.Get(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, mustJSON(t, st), mustJSON(t, got))
}

func TestGetMissingState(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "NOSUCH")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestApplyDrawRemovesFromPool(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	st, err := store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 12))
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 13, 14}, st.RemainingCharacterIDs)
	require.Len(t, st.DrawnCharacters, 1)
	assert.Equal(t, int64(12), st.DrawnCharacters[0].ID)
	assert.Equal(t, int64(2), st.SequenceNumber)

	// drawing a character absent from the pool must not fail
	st, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 99))
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 13, 14}, st.RemainingCharacterIDs)
	assert.Len(t, st.DrawnCharacters, 2)
}

func TestApplyPlaceFlipsTurnAndOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	st, err := store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, 11, "CAPTAIN"))
	require.NoError(t, err)
	assert.Equal(t, model.RoleGuest, st.CurrentTurn)
	assert.Equal(t, int64(11), st.HostPlacements["CAPTAIN"])

	st, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleGuest, placePayload(t, 12, "CAPTAIN"))
	require.NoError(t, err)
	assert.Equal(t, model.RoleHost, st.CurrentTurn)
	assert.Equal(t, int64(12), st.GuestPlacements["CAPTAIN"])

	// re-placing a role overwrites the previous assignment
	st, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, 13, "CAPTAIN"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), st.HostPlacements["CAPTAIN"])
	assert.Len(t, st.HostPlacements, 1)
}

func TestApplyRejectedWhenLogFails(t *testing.T) {
	store, log := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	log.failing = true
	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 11))
	require.Error(t, err)
	log.failing = false

	// the rejected action left no trace in the snapshot
	st, err := store.Get(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Empty(t, st.DrawnCharacters)
	assert.Equal(t, int64(1), st.SequenceNumber)
}

func TestIsComplete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	complete, err := store.IsComplete(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.False(t, complete)

	for i, role := range []string{"CAPTAIN", "TANK"} {
		_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, int64(11+i), role))
		require.NoError(t, err)
		_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleGuest, placePayload(t, int64(13+i), role))
		require.NoError(t, err)
	}

	complete, err = store.IsComplete(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestRebuildReproducesLiveState(t *testing.T) {
	store, log := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1, 2})
	require.NoError(t, err)

	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 11))
	require.NoError(t, err)
	_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, 11, "CAPTAIN"))
	require.NoError(t, err)
	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleGuest, drawPayload(t, 13))
	require.NoError(t, err)
	_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleGuest, placePayload(t, 13, "TANK"))
	require.NoError(t, err)

	live, err := store.Get(ctx, "AAAAAA")
	require.NoError(t, err)

	// simulate a restart: fresh store over the same journal
	rebuiltStore := NewStore(NewMemoryKV(), log, &memContent{roleCount: 2}, 15*time.Minute)
	rebuilt, err := rebuiltStore.Rebuild(ctx, "AAAAAA")
	require.NoError(t, err)

	assert.Equal(t, mustJSON(t, live), mustJSON(t, rebuilt))
}

func TestRebuildWithoutStart(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Rebuild(context.Background(), "AAAAAA")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestResetKeepsJournalAndSequence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)
	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 11))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, "AAAAAA"))
	_, err = store.Get(ctx, "AAAAAA")
	assert.ErrorIs(t, err, ErrStateNotFound)

	// a new game continues the journal without reusing sequence numbers
	st, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.SequenceNumber)
	assert.Empty(t, st.DrawnCharacters)

	// replay after the reset lands on the new game, not the old one
	rebuilt, err := store.Rebuild(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, mustJSON(t, st), mustJSON(t, rebuilt))
}

func TestSnapshotExpiry(t *testing.T) {
	log := newMemLog()
	content := &memContent{characterIDs: []int64{11}, roleCount: 1}
	store := NewStore(NewMemoryKV(), log, content, time.Millisecond)
	ctx := context.Background()

	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = store.Get(ctx, "AAAAAA")
	assert.ErrorIs(t, err, ErrStateNotFound)

	// the journal still rebuilds the expired snapshot
	rebuilt, err := store.Rebuild(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, rebuilt.RemainingCharacterIDs)
}

type flakySetKV struct {
	*MemoryKV
	failNext bool
}

func (k *flakySetKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if k.failNext {
		k.failNext = false
		return assert.AnError
	}
	return k.MemoryKV.Set(ctx, key, val, ttl)
}

func TestApplyRecoversFromFailedSnapshotWrite(t *testing.T) {
	kv := &flakySetKV{MemoryKV: NewMemoryKV()}
	log := newMemLog()
	content := &memContent{characterIDs: []int64{11, 12, 13, 14}, roleCount: 2}
	store := NewStore(kv, log, content, 15*time.Minute)
	ctx := context.Background()

	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	// the action is journaled but the snapshot write fails
	kv.failNext = true
	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 11))
	require.Error(t, err)

	// the next accepted action folds the journaled entry back in instead of
	// reusing its sequence number
	st, err := store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleHost, drawPayload(t, 12))
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.SequenceNumber)
	assert.Len(t, st.DrawnCharacters, 2)

	entries, err := log.ListSince(ctx, "AAAAAA", 0)
	require.NoError(t, err)
	seen := map[int64]bool{}
	var prev int64
	for _, a := range entries {
		assert.False(t, seen[a.SequenceNumber], "sequence %d repeated in the journal", a.SequenceNumber)
		assert.Greater(t, a.SequenceNumber, prev)
		seen[a.SequenceNumber] = true
		prev = a.SequenceNumber
	}

	// replay from the journal matches the live snapshot
	rebuilt, err := store.Rebuild(ctx, "AAAAAA")
	require.NoError(t, err)
	live, err := store.Get(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, mustJSON(t, live), mustJSON(t, rebuilt))
}

func TestApplyRejectsOutOfTurn(t *testing.T) {
	store, log := newTestStore(t)
	ctx := context.Background()
	_, err := store.Initialize(ctx, "AAAAAA", 7, []int64{1})
	require.NoError(t, err)

	// host turn: guest actions bounce
	_, err = store.Apply(ctx, "AAAAAA", model.ActionDrawCharacter, model.RoleGuest, drawPayload(t, 11))
	assert.ErrorIs(t, err, ErrNotYourTurn)

	// a placement flips the turn; a second host placement right behind the
	// first is no longer the host's to make
	_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, 11, "CAPTAIN"))
	require.NoError(t, err)
	_, err = store.Apply(ctx, "AAAAAA", model.ActionPlaceCharacter, model.RoleHost, placePayload(t, 12, "TANK"))
	assert.ErrorIs(t, err, ErrNotYourTurn)

	// rejected actions leave no journal entries
	entries, err := log.ListSince(ctx, "AAAAAA", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
