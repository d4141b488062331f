// Package game hosts the per-connection coordinator for multiplayer draft
// rooms: handshake and role assignment, heartbeat, disconnect grace handling
// and the translation between protocol messages and game state operations.
package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/saeki-dev/anifight/config"
	"github.com/saeki-dev/anifight/db"
	"github.com/saeki-dev/anifight/model"
	"github.com/saeki-dev/anifight/state"
	"github.com/topfreegames/pitaya/v2"
	"github.com/topfreegames/pitaya/v2/component"
	"github.com/topfreegames/pitaya/v2/constants"
	"github.com/topfreegames/pitaya/v2/session"
	"go.uber.org/zap"
)

// RoomStore is the slice of room persistence the coordinator needs.
type RoomStore interface {
	GetByCode(ctx context.Context, code string) (*model.Room, error)
	Save(ctx context.Context, room *model.Room) error
	SetStatus(ctx context.Context, code string, status model.RoomStatus) (*model.Room, error)
	Start(ctx context.Context, code string, templateID uint, poolIDs model.Int64List) (*model.Room, error)
	SetConnected(ctx context.Context, code string, role model.Role, connected bool) (*model.Room, error)
	Touch(ctx context.Context, code string, role model.Role) error
}

// ContentStore resolves templates and characters for scoring and draw tiers.
type ContentStore interface {
	Template(ctx context.Context, id uint) (*model.GameTemplate, error)
	TemplateRoleCount(ctx context.Context, id uint) (int, error)
	Characters(ctx context.Context, ids []int64) ([]model.Character, error)
	CharactersByAnime(ctx context.Context, animeIDs []int64) ([]model.Character, error)
}

type Room struct {
	component.Base
	app     pitaya.Pitaya
	cfg     *config.Config
	rooms   RoomStore
	content ContentStore
	store   *state.Store
	reg     *registry
}

func RegistRoom(app pitaya.Pitaya, database *db.Client, store *state.Store, cfg *config.Config) *Room {
	r := &Room{
		app:     app,
		cfg:     cfg,
		rooms:   database.Rooms,
		content: database.Content,
		store:   store,
		reg:     newRegistry(),
	}
	app.Register(r,
		component.WithName(config.RoomComponentName),
		component.WithNameFunc(strings.ToLower),
	)
	return r
}

func groupName(roomCode string) string {
	return config.RoomGroupPrefix + roomCode
}

func (r *Room) heartbeatInterval() time.Duration {
	return time.Duration(r.cfg.HeartbeatSeconds) * time.Second
}

func (r *Room) gracePeriod() time.Duration {
	return time.Duration(r.cfg.DisconnectGraceSecs) * time.Second
}

// Join is the realtime handshake: resolve the caller's role, subscribe it to
// the room's broadcast group and hand back the current snapshot.
func (r *Room) Join(ctx context.Context, msg []byte) (*JoinResponse, error) {
	var req JoinRequest
	if err := decodeStrict(msg, &req); err != nil {
		return nil, pitaya.Error(err, codeBadRequest, map[string]string{"failed": "decode"})
	}
	if req.RoomCode == "" || req.SessionID == "" {
		return nil, pitaya.Error(errors.New("room_code and session_id are required"), codeBadRequest)
	}

	room, err := r.rooms.GetByCode(ctx, req.RoomCode)
	if errors.Is(err, db.ErrRoomNotFound) {
		return nil, pitaya.Error(err, codeNotFound)
	}
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}

	identity := model.Identity{SessionID: req.SessionID, UserID: req.UserID}
	role, mutated, ok := room.ResolveRole(identity)
	if !ok {
		return nil, pitaya.Error(errors.New("room is full"), codeRoomFull)
	}
	if mutated {
		if err := r.rooms.Save(ctx, room); err != nil {
			return nil, pitaya.Error(err, codeInternal)
		}
	}

	s := r.app.GetSessionFromCtx(ctx)
	if err := s.Bind(ctx, req.SessionID); err != nil && !errors.Is(err, constants.ErrSessionAlreadyBound) {
		return nil, pitaya.Error(err, codeInternal, map[string]string{"failed": "bind"})
	}

	if err := r.ensureGroup(ctx, room.RoomCode); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	if err := r.app.GroupAddMember(ctx, groupName(room.RoomCode), s.UID()); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}

	// first-ever join vs reconnection, decided before touching liveness
	firstJoin := room.LastSeen(role) == nil

	if _, err := r.rooms.SetConnected(ctx, room.RoomCode, role, true); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	r.reg.cancelGrace(room.RoomCode, role)

	hbCtx, cancel := context.WithCancel(context.Background())
	r.reg.bind(s.UID(), &conn{roomCode: room.RoomCode, role: role, cancelHeartbeat: cancel})
	go r.heartbeat(hbCtx, s)

	uid := s.UID()
	s.OnClose(func() {
		r.onSessionClose(uid)
	})

	current, err := r.currentState(ctx, room)
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}

	event := PlayerEvent{PlayerRole: role}
	if firstJoin {
		r.pushToOthers(ctx, room.RoomCode, s.UID(), routePlayerJoined, event)
	} else {
		r.pushToOthers(ctx, room.RoomCode, s.UID(), routePlayerReconnected, event)
	}

	zap.L().Info("player joined room",
		zap.String("room", room.RoomCode),
		zap.String("role", string(role)),
		zap.Bool("first_join", firstJoin),
	)

	return &JoinResponse{
		PlayerRole:   role,
		RoomCode:     room.RoomCode,
		CurrentState: current,
	}, nil
}

// StartGame begins the match. Host only; the room must be ready.
func (r *Room) StartGame(ctx context.Context, msg []byte) (*AckResponse, error) {
	c, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, c)

	var req StartGameRequest
	if err := decodeStrict(msg, &req); err != nil {
		return nil, pitaya.Error(err, codeBadRequest, map[string]string{"failed": "decode"})
	}
	if c.role != model.RoleHost {
		return nil, pitaya.Error(errors.New("only the host can start the game"), codeUnauthorized)
	}
	if req.TemplateID == 0 || len(req.AnimePoolIDs) == 0 {
		return nil, pitaya.Error(errors.New("template_id and anime_pool_ids are required"), codeBadRequest)
	}

	if _, err := r.content.Template(ctx, req.TemplateID); err != nil {
		if errors.Is(err, db.ErrTemplateNotFound) {
			return nil, pitaya.Error(err, codeNotFound)
		}
		return nil, pitaya.Error(err, codeInternal)
	}

	room, err := r.rooms.GetByCode(ctx, c.roomCode)
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	if !room.Status.CanTransition(model.StatusInProgress) {
		return nil, pitaya.Error(errors.New("room is not ready to start"), codeUnavailable)
	}

	if _, err := r.store.Initialize(ctx, c.roomCode, req.TemplateID, req.AnimePoolIDs); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	if _, err := r.rooms.Start(ctx, c.roomCode, req.TemplateID, model.Int64List(req.AnimePoolIDs)); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}

	r.broadcast(ctx, c.roomCode, routeGameStarted, GameStartedEvent{
		TemplateID:   req.TemplateID,
		AnimePoolIDs: req.AnimePoolIDs,
	})
	return &AckResponse{Result: "success"}, nil
}

// Draw reveals one character from the remaining pool.
func (r *Room) Draw(ctx context.Context, msg []byte) (*AckResponse, error) {
	c, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, c)

	var req DrawRequest
	if err := decodeStrict(msg, &req); err != nil {
		return nil, pitaya.Error(err, codeBadRequest, map[string]string{"failed": "decode"})
	}
	if req.Character.ID == 0 {
		return nil, pitaya.Error(errors.New("character is required"), codeBadRequest)
	}

	payload, err := encodePayload(state.DrawPayload{Character: req.Character})
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	st, err := r.store.Apply(ctx, c.roomCode, model.ActionDrawCharacter, c.role, payload)
	if err != nil {
		return nil, r.applyError(err)
	}

	event := CharacterDrawnEvent{Character: req.Character, PlayerRole: c.role}
	event.Tier, event.TierLabel = r.drawTier(ctx, st, req.Character.ID)

	r.broadcast(ctx, c.roomCode, routeCharacterDrawn, event)
	return &AckResponse{Result: "success"}, nil
}

// Place assigns a drawn character to a role slot and flips the turn. When
// the placement completes both lineups the match is scored and ended.
func (r *Room) Place(ctx context.Context, msg []byte) (*AckResponse, error) {
	c, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, c)

	var req PlaceRequest
	if err := decodeStrict(msg, &req); err != nil {
		return nil, pitaya.Error(err, codeBadRequest, map[string]string{"failed": "decode"})
	}
	if req.CharacterID == 0 || req.RoleName == "" {
		return nil, pitaya.Error(errors.New("character_id and role_name are required"), codeBadRequest)
	}

	payload, err := encodePayload(state.PlacePayload{CharacterID: req.CharacterID, RoleName: req.RoleName})
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	st, err := r.store.Apply(ctx, c.roomCode, model.ActionPlaceCharacter, c.role, payload)
	if err != nil {
		return nil, r.applyError(err)
	}

	roleCount, err := r.content.TemplateRoleCount(ctx, st.TemplateID)
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	complete := st.Complete(roleCount)

	r.broadcast(ctx, c.roomCode, routeCharacterPlaced, CharacterPlacedEvent{
		CharacterID: req.CharacterID,
		RoleName:    req.RoleName,
		PlayerRole:  c.role,
		IsComplete:  complete,
	})

	if complete {
		if err := r.finishGame(ctx, c.roomCode, "Game completed"); err != nil {
			zap.L().Error("finish game failed", zap.String("room", c.roomCode), zap.Error(err))
			return nil, pitaya.Error(err, codeInternal)
		}
	}
	return &AckResponse{Result: "success"}, nil
}

// Reset clears the snapshot and moves the room back to ready.
func (r *Room) Reset(ctx context.Context, msg []byte) (*AckResponse, error) {
	c, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, c)

	if err := r.store.Reset(ctx, c.roomCode); err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	if _, err := r.rooms.SetStatus(ctx, c.roomCode, model.StatusReady); err != nil && !errors.Is(err, db.ErrInvalidTransition) {
		return nil, pitaya.Error(err, codeInternal)
	}
	r.broadcast(ctx, c.roomCode, routeGameReset, GameResetEvent{})
	return &AckResponse{Result: "success"}, nil
}

// Sync returns the full authoritative snapshot, rebuilding it from the
// journal when the cached copy expired mid-match.
func (r *Room) Sync(ctx context.Context, msg []byte) (*SyncResponse, error) {
	c, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, c)

	room, err := r.rooms.GetByCode(ctx, c.roomCode)
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	st, err := r.currentState(ctx, room)
	if err != nil {
		return nil, pitaya.Error(err, codeInternal)
	}
	return &SyncResponse{State: st}, nil
}

// Pong is the client's heartbeat reply. No observable effect beyond
// refreshing liveness.
func (r *Room) Pong(ctx context.Context, msg []byte) {
	c, err := r.conn(ctx)
	if err != nil {
		return
	}
	r.touch(ctx, c)
}

func (r *Room) conn(ctx context.Context) (*conn, error) {
	s := r.app.GetSessionFromCtx(ctx)
	c, ok := r.reg.get(s.UID())
	if !ok {
		return nil, pitaya.Error(errors.New("join the room before sending actions"), codeUnauthorized)
	}
	return c, nil
}

// touch refreshes liveness: any inbound message cancels a pending grace
// timer for the sender's role.
func (r *Room) touch(ctx context.Context, c *conn) {
	r.reg.cancelGrace(c.roomCode, c.role)
	if err := r.rooms.Touch(ctx, c.roomCode, c.role); err != nil {
		zap.L().Warn("update last seen failed", zap.String("room", c.roomCode), zap.Error(err))
	}
}

func (r *Room) applyError(err error) error {
	if errors.Is(err, state.ErrStateNotFound) {
		return pitaya.Error(errors.New("no active game in this room"), codeUnavailable)
	}
	if errors.Is(err, state.ErrNotYourTurn) {
		return pitaya.Error(err, codeUnauthorized)
	}
	return pitaya.Error(err, codeInternal)
}

func (r *Room) ensureGroup(ctx context.Context, roomCode string) error {
	err := r.app.GroupCreate(ctx, groupName(roomCode))
	if err != nil && !errors.Is(err, constants.ErrGroupAlreadyExists) {
		return err
	}
	return nil
}

// currentState loads the snapshot for a join or sync. A missing snapshot on
// an idle room is normal; during a live match it is rebuilt from the log.
func (r *Room) currentState(ctx context.Context, room *model.Room) (*state.GameState, error) {
	st, err := r.store.Get(ctx, room.RoomCode)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, state.ErrStateNotFound) {
		return nil, err
	}
	if room.Status != model.StatusInProgress {
		return nil, nil
	}
	st, err = r.store.Rebuild(ctx, room.RoomCode)
	if errors.Is(err, state.ErrStateNotFound) {
		return nil, nil
	}
	return st, err
}

func (r *Room) broadcast(ctx context.Context, roomCode, route string, v interface{}) {
	if err := r.app.GroupBroadcast(ctx, r.cfg.FrontendType, groupName(roomCode), route, v); err != nil {
		zap.L().Error("broadcast failed",
			zap.String("room", roomCode),
			zap.String("route", route),
			zap.Error(err),
		)
	}
}

// pushToOthers notifies every room member except the acting connection.
func (r *Room) pushToOthers(ctx context.Context, roomCode, selfUID, route string, v interface{}) {
	members, err := r.app.GroupMembers(ctx, groupName(roomCode))
	if err != nil {
		zap.L().Error("list group members failed", zap.String("room", roomCode), zap.Error(err))
		return
	}
	others := make([]string, 0, len(members))
	for _, uid := range members {
		if uid != selfUID {
			others = append(others, uid)
		}
	}
	if len(others) == 0 {
		return
	}
	if _, err := r.app.SendPushToUsers(route, v, others, r.cfg.FrontendType); err != nil {
		zap.L().Error("push failed", zap.String("route", route), zap.Error(err))
	}
}

// heartbeat probes the client at a fixed interval until the connection is
// torn down. Client silence is fine; only a socket close ends the loop.
func (r *Room) heartbeat(ctx context.Context, s session.Session) {
	ticker := time.NewTicker(r.heartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Push(routePing, PingEvent{Timestamp: time.Now().UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// onSessionClose handles a socket close: liveness bookkeeping, notifying the
// peer and arming the grace timer that decides between reconnection,
// abandonment and a forced finish.
func (r *Room) onSessionClose(uid string) {
	c, ok := r.reg.remove(uid)
	if !ok {
		return
	}
	ctx := context.Background()

	if err := r.app.GroupRemoveMember(ctx, groupName(c.roomCode), uid); err != nil {
		zap.L().Debug("group remove failed", zap.String("room", c.roomCode), zap.Error(err))
	}

	room, err := r.rooms.SetConnected(ctx, c.roomCode, c.role, false)
	if err != nil {
		zap.L().Error("mark disconnected failed", zap.String("room", c.roomCode), zap.Error(err))
		return
	}

	r.broadcast(ctx, c.roomCode, routePlayerDisconnect, PlayerEvent{PlayerRole: c.role})

	zap.L().Info("player disconnected",
		zap.String("room", c.roomCode),
		zap.String("role", string(c.role)),
	)

	if room.Status.Terminal() {
		return
	}
	role := c.role
	roomCode := c.roomCode
	r.reg.armGrace(roomCode, role, r.gracePeriod(), func() {
		r.onGraceExpired(roomCode, role)
	})
}

// onGraceExpired fires when a disconnected role did not come back in time.
func (r *Room) onGraceExpired(roomCode string, role model.Role) {
	ctx := context.Background()
	room, err := r.rooms.GetByCode(ctx, roomCode)
	if err != nil {
		zap.L().Error("grace expiry lookup failed", zap.String("room", roomCode), zap.Error(err))
		return
	}
	if room.Status.Terminal() || room.Connected(role) {
		return
	}

	if !room.HostConnected && !room.GuestConnected {
		if _, err := r.rooms.SetStatus(ctx, roomCode, model.StatusAbandoned); err != nil {
			zap.L().Error("abandon room failed", zap.String("room", roomCode), zap.Error(err))
			return
		}
		zap.L().Info("room abandoned, both players disconnected", zap.String("room", roomCode))
		return
	}

	reason := "Host disconnected"
	if role == model.RoleGuest {
		reason = "Guest disconnected"
	}
	if err := r.finishGame(ctx, roomCode, reason); err != nil {
		zap.L().Error("forced game end failed", zap.String("room", roomCode), zap.Error(err))
	}
}
