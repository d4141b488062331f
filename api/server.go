// Package api exposes the synchronous room management surface clients use
// before opening the realtime channel: create a room, join it, poll its
// status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/saeki-dev/anifight/db"
	"github.com/saeki-dev/anifight/model"
	"go.uber.org/zap"
)

// RoomStore is the slice of the session registry the HTTP surface needs.
// BindGuest must claim the guest slot atomically: two concurrent joins may
// not both win it.
type RoomStore interface {
	Create(ctx context.Context, room *model.Room) error
	GetByCode(ctx context.Context, code string) (*model.Room, error)
	BindGuest(ctx context.Context, code string, id model.Identity, nickname string) (*model.Room, error)
}

type Server struct {
	rooms   RoomStore
	joinURL string
	mux     *http.ServeMux
}

func NewServer(rooms RoomStore, joinURL string) *Server {
	s := &Server{rooms: rooms, joinURL: joinURL, mux: http.NewServeMux()}
	s.mux.HandleFunc("/api/rooms", s.handleCreate)
	s.mux.HandleFunc("/api/rooms/", s.handleRoom)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type createRoomRequest struct {
	HostNickname string  `json:"host_nickname"`
	TemplateID   uint    `json:"template_id"`
	AnimePoolIDs []int64 `json:"anime_pool_ids"`
	SessionID    string  `json:"session_id"`
	UserID       *uint   `json:"user_id"`
}

type createRoomResponse struct {
	RoomCode  string `json:"room_code"`
	JoinURL   string `json:"join_url"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == 0 || len(req.AnimePoolIDs) == 0 {
		writeError(w, http.StatusBadRequest, "template_id and anime_pool_ids are required")
		return
	}
	if req.HostNickname == "" {
		req.HostNickname = "Player 1"
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	room := &model.Room{
		HostNickname:  req.HostNickname,
		GuestNickname: "Player 2",
		HostSessionID: req.SessionID,
		HostUserID:    req.UserID,
		TemplateID:    req.TemplateID,
		AnimePoolIDs:  model.Int64List(req.AnimePoolIDs),
		Status:        model.StatusWaiting,
	}
	if err := s.rooms.Create(r.Context(), room); err != nil {
		zap.L().Error("create room failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomCode:  room.RoomCode,
		JoinURL:   room.JoinURL(s.joinURL),
		SessionID: req.SessionID,
		Status:    string(room.Status),
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "join" && r.Method == http.MethodPost:
		s.handleJoin(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, code string) {
	room, err := s.rooms.GetByCode(r.Context(), code)
	if errors.Is(err, db.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		zap.L().Error("room status failed", zap.String("room", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type joinRoomRequest struct {
	GuestNickname string `json:"guest_nickname"`
	SessionID     string `json:"session_id"`
	UserID        *uint  `json:"user_id"`
}

type joinRoomResponse struct {
	RoomCode      string `json:"room_code"`
	HostNickname  string `json:"host_nickname"`
	GuestNickname string `json:"guest_nickname"`
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, code string) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	identity := model.Identity{SessionID: req.SessionID, UserID: req.UserID}
	room, err := s.rooms.BindGuest(r.Context(), code, identity, req.GuestNickname)
	switch {
	case errors.Is(err, db.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return
	case errors.Is(err, db.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "room is not available")
		return
	case errors.Is(err, db.ErrRoomFull):
		writeError(w, http.StatusConflict, "room is full")
		return
	case err != nil:
		zap.L().Error("join room failed", zap.String("room", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not join room")
		return
	}

	writeJSON(w, http.StatusOK, joinRoomResponse{
		RoomCode:      room.RoomCode,
		HostNickname:  room.HostNickname,
		GuestNickname: room.GuestNickname,
		SessionID:     req.SessionID,
		Status:        string(room.Status),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
