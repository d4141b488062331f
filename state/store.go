package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saeki-dev/anifight/model"
)

// ErrStateNotFound means no snapshot exists for the room: either the game
// never started or the snapshot's TTL lapsed. Inside an active match it is a
// timeout; for an idle room it is not an error condition.
var ErrStateNotFound = errors.New("game state not found")

// ErrNotYourTurn rejects a turn-gated action from the player whose turn it
// is not. Validated under the room lock, against the reconciled snapshot.
var ErrNotYourTurn = errors.New("not your turn")

const statePrefix = "game_state:"

// KV is a keyed ephemeral store with per-key expiry.
type KV interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ActionLog is the durable, strictly ordered journal of a room's actions.
type ActionLog interface {
	Append(ctx context.Context, roomCode string, a *model.GameAction) error
	ListSince(ctx context.Context, roomCode string, after int64) ([]model.GameAction, error)
}

// Content resolves the anime pool and template configuration at game start.
type Content interface {
	CharacterIDsByAnime(ctx context.Context, animeIDs []int64) ([]int64, error)
	TemplateRoleCount(ctx context.Context, templateID uint) (int, error)
}

// Store is the sole writer of game state. Every mutation for a room runs
// under that room's lock, so two concurrent applies can never interleave
// their read-modify-write cycles.
type Store struct {
	kv      KV
	log     ActionLog
	content Content
	ttl     time.Duration

	locks sync.Map // room code -> *sync.Mutex
}

func NewStore(kv KV, log ActionLog, content Content, ttl time.Duration) *Store {
	return &Store{kv: kv, log: log, content: content, ttl: ttl}
}

func (s *Store) roomLock(code string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(code, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func stateKey(code string) string {
	return statePrefix + code
}

func turnGated(typ model.ActionType) bool {
	return typ == model.ActionDrawCharacter || typ == model.ActionPlaceCharacter
}

func (s *Store) load(ctx context.Context, code string) (*GameState, error) {
	raw, ok, err := s.kv.Get(ctx, stateKey(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateNotFound
	}
	var st GameState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	return &st, nil
}

func (s *Store) save(ctx context.Context, code string, st *GameState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, stateKey(code), raw, s.ttl)
}

func (s *Store) lastSequence(ctx context.Context, code string) (int64, error) {
	list, err := s.log.ListSince(ctx, code, 0)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].SequenceNumber, nil
}

// Initialize starts a new game: resolves the anime pool into the fixed set
// of eligible character ids, journals a START_GAME entry and persists the
// fresh snapshot. After a reset the sequence continues from the last logged
// entry so the journal stays gapless.
func (s *Store) Initialize(ctx context.Context, code string, templateID uint, animePoolIDs []int64) (*GameState, error) {
	mu := s.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	characterIDs, err := s.content.CharacterIDsByAnime(ctx, animePoolIDs)
	if err != nil {
		return nil, err
	}
	last, err := s.lastSequence(ctx, code)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(StartPayload{
		TemplateID:   templateID,
		AnimePoolIDs: animePoolIDs,
		CharacterIDs: characterIDs,
	})
	if err != nil {
		return nil, err
	}
	action := &model.GameAction{
		ActionType:     model.ActionStartGame,
		PlayerRole:     model.RoleHost,
		Payload:        model.Payload(payload),
		SequenceNumber: last + 1,
	}

	st := &GameState{}
	if err := st.apply(action); err != nil {
		return nil, err
	}
	if err := s.log.Append(ctx, code, action); err != nil {
		return nil, err
	}
	if err := s.save(ctx, code, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, code string) (*GameState, error) {
	mu := s.roomLock(code)
	mu.Lock()
	defer mu.Unlock()
	return s.load(ctx, code)
}

// Apply accepts one action: assigns the next sequence number, folds it into
// the snapshot, appends it to the durable log and persists the result. A
// failed append or save rejects the action entirely so state and journal
// never diverge by an accepted-but-unlogged entry.
//
// Turn gating for draw/place happens here, under the room lock: a check done
// outside the lock could pass on a stale snapshot while another action is in
// flight.
func (s *Store) Apply(ctx context.Context, code string, typ model.ActionType, role model.Role, payload []byte) (*GameState, error) {
	mu := s.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	// A snapshot write can fail after its action was journaled; fold any
	// entries the snapshot missed so sequence numbers never repeat.
	missed, err := s.log.ListSince(ctx, code, st.SequenceNumber)
	if err != nil {
		return nil, err
	}
	for i := range missed {
		if err := st.apply(&missed[i]); err != nil {
			return nil, err
		}
	}

	if turnGated(typ) && st.CurrentTurn != role {
		return nil, ErrNotYourTurn
	}

	action := &model.GameAction{
		ActionType:     typ,
		PlayerRole:     role,
		Payload:        model.Payload(payload),
		SequenceNumber: st.SequenceNumber + 1,
	}
	if err := st.apply(action); err != nil {
		return nil, err
	}
	if err := s.log.Append(ctx, code, action); err != nil {
		return nil, err
	}
	if err := s.save(ctx, code, st); err != nil {
		return nil, err
	}
	return st, nil
}

// IsComplete reports whether both players have filled every template role.
func (s *Store) IsComplete(ctx context.Context, code string) (bool, error) {
	st, err := s.Get(ctx, code)
	if err != nil {
		return false, err
	}
	roleCount, err := s.content.TemplateRoleCount(ctx, st.TemplateID)
	if err != nil {
		return false, err
	}
	return st.Complete(roleCount), nil
}

// Reset drops the snapshot. The journal is kept; a later START_GAME entry
// supersedes everything before it during replay.
func (s *Store) Reset(ctx context.Context, code string) error {
	mu := s.roomLock(code)
	mu.Lock()
	defer mu.Unlock()
	return s.kv.Del(ctx, stateKey(code))
}

// Rebuild folds the full journal from sequence zero into a fresh snapshot
// and persists it. Used after a process restart or snapshot expiry during an
// active match.
func (s *Store) Rebuild(ctx context.Context, code string) (*GameState, error) {
	mu := s.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	list, err := s.log.ListSince(ctx, code, 0)
	if err != nil {
		return nil, err
	}
	st := &GameState{}
	started := false
	for i := range list {
		if list[i].ActionType == model.ActionStartGame {
			started = true
		}
		if !started {
			continue
		}
		if err := st.apply(&list[i]); err != nil {
			return nil, err
		}
	}
	if !started {
		return nil, ErrStateNotFound
	}
	if err := s.save(ctx, code, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ActionsSince exposes the journal for client resynchronization.
func (s *Store) ActionsSince(ctx context.Context, code string, after int64) ([]model.GameAction, error) {
	return s.log.ListSince(ctx, code, after)
}
