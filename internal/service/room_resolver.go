package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/repository"
)

// RoomResolver decides whether a physical room can hold a stay. Only
// confirmed and checked-in reservations occupy a room; stays are half-open
// so a checkout and a checkin on the same day do not collide.
type RoomResolver struct {
	store repository.Store
}

// NewRoomResolver returns a resolver over the given store.
func NewRoomResolver(store repository.Store) *RoomResolver {
	return &RoomResolver{store: store}
}

// FindConflict returns the id of a reservation occupying roomID during
// stay, ignoring excludeID. It must run inside a transaction that holds
// the room lock for the answer to stay valid.
func (r *RoomResolver) FindConflict(ctx context.Context, tx repository.Tx, roomID uint64, stay model.DateRange, excludeID uint64) (uint64, bool, error) {
	return tx.FindRoomConflict(ctx, roomID, stay, excludeID)
}

// Reserve locks roomID and assigns it to res when no occupying
// reservation overlaps. res is modified in place; the caller persists it.
func (r *RoomResolver) Reserve(ctx context.Context, tx repository.Tx, res *model.Reservation, roomID uint64) error {
	room, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.PropertyID != res.PropertyID {
		return fmt.Errorf("%w: room %d belongs to property %d", apperr.ErrPreconditionFailed, roomID, room.PropertyID)
	}
	if room.RoomTypeID != res.RoomTypeID {
		return fmt.Errorf("%w: room %d is not of room type %d", apperr.ErrPreconditionFailed, roomID, res.RoomTypeID)
	}
	other, found, err := r.FindConflict(ctx, tx, roomID, res.Stay(), res.ID)
	if err != nil {
		return err
	}
	if found {
		return &apperr.RoomConflictError{RoomID: roomID, ReservationID: other}
	}
	id := roomID
	res.AssignedRoomID = &id
	return nil
}

// Check reports whether roomID is free for stay, outside of any assignment.
func (r *RoomResolver) Check(ctx context.Context, roomID uint64, stay model.DateRange) (bool, error) {
	free := false
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockRoom(ctx, roomID); err != nil {
			return err
		}
		_, found, err := r.FindConflict(ctx, tx, roomID, stay, 0)
		if err != nil {
			return err
		}
		free = !found
		return nil
	})
	return free, err
}
