package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/saeki-dev/anifight/model"
	"gorm.io/gorm"
)

type rooms db

const codeAttempts = 10

// postgres error class 23505: unique_violation
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Create persists a new room under a freshly generated code, retrying on
// the (unlikely) collision with an existing room.
func (r *rooms) Create(ctx context.Context, room *model.Room) error {
	for i := 0; i < codeAttempts; i++ {
		code := model.NewRoomCode()
		var count int64
		if err := r.DB.WithContext(ctx).Model(&model.Room{}).
			Where("room_code = ?", code).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		room.RoomCode = code
		if err := r.DB.WithContext(ctx).Create(room).Error; err != nil {
			// lost a race on the unique index, try another code
			if isUniqueViolation(err) {
				continue
			}
			return err
		}
		return nil
	}
	return ErrCodeExhausted
}

func (r *rooms) GetByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := r.DB.WithContext(ctx).First(&room, "room_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *rooms) Save(ctx context.Context, room *model.Room) error {
	return r.DB.WithContext(ctx).Save(room).Error
}

// BindGuest claims the guest slot with a single guarded update, so two
// concurrent joins cannot both win the slot. Zero rows affected means the
// guard lost: the slot is taken, the room is past joining, or it is gone.
func (r *rooms) BindGuest(ctx context.Context, code string, id model.Identity, nickname string) (*model.Room, error) {
	values := map[string]interface{}{
		"guest_session_id": id.SessionID,
		"guest_user_id":    id.UserID,
		"status":           model.StatusReady,
	}
	if nickname != "" {
		values["guest_nickname"] = nickname
	}
	res := r.DB.WithContext(ctx).Model(&model.Room{}).
		Where("room_code = ?", code).
		Where("guest_session_id = '' AND guest_user_id IS NULL").
		Where("status IN ?", []model.RoomStatus{model.StatusWaiting, model.StatusReady}).
		Updates(values)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		room, err := r.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if room.Status != model.StatusWaiting && room.Status != model.StatusReady {
			return nil, ErrInvalidTransition
		}
		return nil, ErrRoomFull
	}
	return r.GetByCode(ctx, code)
}

// SetStatus moves a room through the lifecycle state machine, stamping
// started/completed timestamps the first time those states are reached.
func (r *rooms) SetStatus(ctx context.Context, code string, status model.RoomStatus) (*model.Room, error) {
	room, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Status == status {
		return room, nil
	}
	if !room.Status.CanTransition(status) {
		return nil, ErrInvalidTransition
	}
	now := time.Now()
	room.Status = status
	if status == model.StatusInProgress && room.StartedAt == nil {
		room.StartedAt = &now
	}
	if status == model.StatusCompleted && room.CompletedAt == nil {
		room.CompletedAt = &now
	}
	if err := r.Save(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Start freezes the game configuration onto the room and moves it to
// in_progress. Template and pool are immutable from here on.
func (r *rooms) Start(ctx context.Context, code string, templateID uint, poolIDs model.Int64List) (*model.Room, error) {
	room, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !room.Status.CanTransition(model.StatusInProgress) {
		return nil, ErrInvalidTransition
	}
	now := time.Now()
	room.TemplateID = templateID
	room.AnimePoolIDs = poolIDs
	room.Status = model.StatusInProgress
	if room.StartedAt == nil {
		room.StartedAt = &now
	}
	if err := r.Save(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *rooms) SetConnected(ctx context.Context, code string, role model.Role, connected bool) (*model.Room, error) {
	room, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if role == model.RoleHost {
		room.HostConnected = connected
		room.HostLastSeen = &now
	} else {
		room.GuestConnected = connected
		room.GuestLastSeen = &now
	}
	if err := r.Save(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *rooms) Touch(ctx context.Context, code string, role model.Role) error {
	now := time.Now()
	col := "host_last_seen"
	if role == model.RoleGuest {
		col = "guest_last_seen"
	}
	return r.DB.WithContext(ctx).Model(&model.Room{}).
		Where("room_code = ?", code).Update(col, now).Error
}

// DeleteExpired garbage-collects rooms past the retention window together
// with their action journals. Rooms with a live match are kept.
func (r *rooms) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var expired []model.Room
	err := r.DB.WithContext(ctx).
		Where("status <> ?", model.StatusInProgress).
		Where("(completed_at IS NOT NULL AND completed_at < ?) OR (completed_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Find(&expired).Error
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	ids := make([]uint, 0, len(expired))
	for _, room := range expired {
		ids = append(ids, room.ID)
	}
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id IN ?", ids).Delete(&model.GameAction{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("id IN ?", ids).Delete(&model.Room{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
