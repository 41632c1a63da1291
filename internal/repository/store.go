package repository

import (
	"context"

	"github.com/iliyamo/hotel-settlement/internal/model"
)

// Store is the reservation backend used by the state machine. Every
// mutation happens inside InTx; fn's error rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	GetByConfirmationCode(ctx context.Context, code string) (*model.Reservation, error)
	GetByOrderCode(ctx context.Context, orderCode string) (*model.Reservation, error)
	RatePlan(ctx context.Context, ratePlanID uint64) (*model.RatePlan, error)
}

// Tx is a unit of work against the reservation backend.
type Tx interface {
	// Insert stores a new reservation, populating ID, Version, CreatedAt
	// and UpdatedAt. It returns ErrDuplicateCode on a code collision.
	Insert(ctx context.Context, res *model.Reservation) error
	// GetForUpdate loads a reservation and locks it for the rest of the tx.
	GetForUpdate(ctx context.Context, id uint64) (*model.Reservation, error)
	// Update writes all mutable fields when the stored version equals
	// res.Version, then increments res.Version. ErrVersionConflict otherwise.
	Update(ctx context.Context, res *model.Reservation) error
	// LockRoom loads a room and serializes concurrent assignments of it.
	LockRoom(ctx context.Context, roomID uint64) (*model.Room, error)
	// FindRoomConflict returns the id of an occupying reservation on roomID
	// whose stay overlaps the given range, skipping excludeID.
	FindRoomConflict(ctx context.Context, roomID uint64, stay model.DateRange, excludeID uint64) (uint64, bool, error)
}
