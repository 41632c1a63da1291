// Package memory is an in-process repository.Store. Transactions are
// serialized by a single mutex and roll back by restoring a snapshot,
// which mirrors the row locking of the MySQL store closely enough for
// tests and for running the service without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/repository"
)

// Store keeps reservations, rooms and rate plans in maps.
type Store struct {
	mu           sync.Mutex
	nextID       uint64
	reservations map[uint64]*model.Reservation
	rooms        map[uint64]model.Room
	ratePlans    map[uint64]model.RatePlan
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		reservations: map[uint64]*model.Reservation{},
		rooms:        map[uint64]model.Room{},
		ratePlans:    map[uint64]model.RatePlan{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddRoom registers a room so it can be assigned.
func (s *Store) AddRoom(room model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
}

// AddRatePlan registers a rate plan so reservations can be priced.
func (s *Store) AddRatePlan(rp model.RatePlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratePlans[rp.ID] = rp
}

// Count returns the number of stored reservations.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

func (s *Store) GetByID(_ context.Context, id uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, id)
	}
	return res.Clone(), nil
}

func (s *Store) GetByConfirmationCode(_ context.Context, code string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.reservations {
		if res.ConfirmationCode == code {
			return res.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: confirmation code %s", apperr.ErrNotFound, code)
}

func (s *Store) GetByOrderCode(_ context.Context, orderCode string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.reservations {
		if res.OrderCode != nil && *res.OrderCode == orderCode {
			return res.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: order code %s", apperr.ErrNotFound, orderCode)
}

func (s *Store) RatePlan(_ context.Context, ratePlanID uint64) (*model.RatePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.ratePlans[ratePlanID]
	if !ok {
		return nil, fmt.Errorf("%w: rate plan %d", apperr.ErrNotFound, ratePlanID)
	}
	return &rp, nil
}

// InTx holds the store lock for the duration of fn. fn must only use the
// Tx it is given; calling Store methods from inside fn deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[uint64]*model.Reservation, len(s.reservations))
	for id, res := range s.reservations {
		snapshot[id] = res.Clone()
	}
	nextID := s.nextID

	if err := fn(&tx{s: s}); err != nil {
		s.reservations = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

type tx struct {
	s *Store
}

func (t *tx) Insert(_ context.Context, res *model.Reservation) error {
	for _, existing := range t.s.reservations {
		if existing.ConfirmationCode == res.ConfirmationCode {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateCode, res.ConfirmationCode)
		}
		if res.OrderCode != nil && existing.OrderCode != nil && *existing.OrderCode == *res.OrderCode {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateOrder, *res.OrderCode)
		}
	}
	now := t.s.now()
	res.ID = t.s.nextID
	t.s.nextID++
	res.Version = 1
	res.CreatedAt = now
	res.UpdatedAt = now
	t.s.reservations[res.ID] = res.Clone()
	return nil
}

func (t *tx) GetForUpdate(_ context.Context, id uint64) (*model.Reservation, error) {
	res, ok := t.s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, id)
	}
	return res.Clone(), nil
}

func (t *tx) Update(_ context.Context, res *model.Reservation) error {
	stored, ok := t.s.reservations[res.ID]
	if !ok {
		return fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, res.ID)
	}
	if stored.Version != res.Version {
		return fmt.Errorf("%w: reservation %d at version %d", repository.ErrVersionConflict, res.ID, res.Version)
	}
	res.Version++
	res.UpdatedAt = t.s.now()
	t.s.reservations[res.ID] = res.Clone()
	return nil
}

func (t *tx) LockRoom(_ context.Context, roomID uint64) (*model.Room, error) {
	room, ok := t.s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %d", apperr.ErrNotFound, roomID)
	}
	return &room, nil
}

func (t *tx) FindRoomConflict(_ context.Context, roomID uint64, stay model.DateRange, excludeID uint64) (uint64, bool, error) {
	var hits []*model.Reservation
	for _, res := range t.s.reservations {
		if res.ID == excludeID || res.AssignedRoomID == nil || *res.AssignedRoomID != roomID {
			continue
		}
		if !res.Status.Occupying() {
			continue
		}
		if res.Stay().Overlaps(stay) {
			hits = append(hits, res)
		}
	}
	if len(hits) == 0 {
		return 0, false, nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CheckIn.Before(hits[j].CheckIn.Time) })
	return hits[0].ID, true, nil
}
