package db

import (
	"context"

	"github.com/saeki-dev/anifight/model"
)

type actions db

// Append records one journal entry for a room. Entries are immutable;
// sequence numbers are assigned by the state store's serialization point.
func (a *actions) Append(ctx context.Context, roomCode string, action *model.GameAction) error {
	room, err := (*rooms)(a).GetByCode(ctx, roomCode)
	if err != nil {
		return err
	}
	action.RoomID = room.ID
	return a.DB.WithContext(ctx).Create(action).Error
}

// ListSince returns every action recorded after the given sequence number,
// in ascending sequence order.
func (a *actions) ListSince(ctx context.Context, roomCode string, after int64) ([]model.GameAction, error) {
	room, err := (*rooms)(a).GetByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	var list []model.GameAction
	err = a.DB.WithContext(ctx).
		Where("room_id = ? AND sequence_number > ?", room.ID, after).
		Order("sequence_number ASC").
		Find(&list).Error
	return list, err
}
