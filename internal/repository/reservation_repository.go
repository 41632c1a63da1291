package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// orderCodeIndex is the unique index on reservations.order_code; see database/schema.go.
const orderCodeIndex = "uq_reservations_order_code"

// ReservationRepo is the MySQL Store. All timestamps are stored in UTC and
// dates as DATE columns; the DSN built by database.Open sets parseTime.
type ReservationRepo struct {
	db *sql.DB
}

var _ Store = (*ReservationRepo)(nil)

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const reservationColumns = `id, property_id, guest_id, room_type_id, rate_plan_id, assigned_room_id,
       check_in, check_out, adults, children, status, payment_status,
       base_amount, total_amount, tax_amount, discount_amount, service_amount, amount_paid,
       currency, confirmation_code, service_underflow, order_code,
       check_in_time, check_out_time, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res              model.Reservation
		roomID           sql.NullInt64
		orderCode        sql.NullString
		checkIn, out     time.Time
		inTime, outTime  sql.NullTime
		status, payState string
	)
	err := row.Scan(
		&res.ID, &res.PropertyID, &res.GuestID, &res.RoomTypeID, &res.RatePlanID, &roomID,
		&checkIn, &out, &res.Adults, &res.Children, &status, &payState,
		&res.BaseAmount, &res.TotalAmount, &res.TaxAmount, &res.DiscountAmount, &res.ServiceAmount, &res.AmountPaid,
		&res.Currency, &res.ConfirmationCode, &res.ServiceUnderflow, &orderCode,
		&inTime, &outTime, &res.Version, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.CheckIn = model.NewDate(checkIn)
	res.CheckOut = model.NewDate(out)
	res.Status = model.ReservationStatus(status)
	res.PaymentStatus = model.PaymentStatus(payState)
	if roomID.Valid {
		id := uint64(roomID.Int64)
		res.AssignedRoomID = &id
	}
	if orderCode.Valid {
		oc := orderCode.String
		res.OrderCode = &oc
	}
	if inTime.Valid {
		t := inTime.Time.UTC()
		res.CheckInTime = &t
	}
	if outTime.Valid {
		t := outTime.Time.UTC()
		res.CheckOutTime = &t
	}
	return &res, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return err
}

// GetByID loads a reservation without locking it.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("reservation %d", id))
	}
	return res, nil
}

// GetByConfirmationCode loads a reservation by its guest-facing code.
func (r *ReservationRepo) GetByConfirmationCode(ctx context.Context, code string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE confirmation_code = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, code))
	if err != nil {
		return nil, notFound(err, "confirmation code "+code)
	}
	return res, nil
}

// GetByOrderCode loads the reservation settled by a gateway order code.
func (r *ReservationRepo) GetByOrderCode(ctx context.Context, orderCode string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE order_code = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, orderCode))
	if err != nil {
		return nil, notFound(err, "order code "+orderCode)
	}
	return res, nil
}

// RatePlan loads a rate plan.
func (r *ReservationRepo) RatePlan(ctx context.Context, ratePlanID uint64) (*model.RatePlan, error) {
	const q = `SELECT id, room_type_id, nightly_rate, currency FROM rate_plans WHERE id = ?`
	var rp model.RatePlan
	err := r.db.QueryRowContext(ctx, q, ratePlanID).Scan(&rp.ID, &rp.RoomTypeID, &rp.NightlyRate, &rp.Currency)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("rate plan %d", ratePlanID))
	}
	return &rp, nil
}

// InTx runs fn in a database transaction. fn's error, or a panic, rolls back.
func (r *ReservationRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// insertError maps ER_DUP_ENTRY onto the sentinel for the violated index.
func insertError(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return err
	}
	if strings.Contains(me.Message, orderCodeIndex) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, me.Message)
	}
	return fmt.Errorf("%w: %s", ErrDuplicateCode, me.Message)
}

func (t *sqlTx) Insert(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (property_id, guest_id, room_type_id, rate_plan_id, assigned_room_id,
	               check_in, check_out, adults, children, status, payment_status,
	               base_amount, total_amount, tax_amount, discount_amount, service_amount, amount_paid,
	               currency, confirmation_code, service_underflow, order_code, version)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := t.tx.ExecContext(ctx, q,
		res.PropertyID, res.GuestID, res.RoomTypeID, res.RatePlanID, nullable(res.AssignedRoomID),
		res.CheckIn.Format(model.DateLayout), res.CheckOut.Format(model.DateLayout), res.Adults, res.Children,
		string(res.Status), string(res.PaymentStatus),
		res.BaseAmount, res.TotalAmount, res.TaxAmount, res.DiscountAmount, res.ServiceAmount, res.AmountPaid,
		res.Currency, res.ConfirmationCode, res.ServiceUnderflow, nullable(res.OrderCode),
	)
	if err != nil {
		return insertError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps and defaults
	q2 := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	stored, err := scanReservation(t.tx.QueryRowContext(ctx, q2, id))
	if err != nil {
		return err
	}
	*res = *stored
	return nil
}

func (t *sqlTx) GetForUpdate(ctx context.Context, id uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("reservation %d", id))
	}
	return res, nil
}

func (t *sqlTx) Update(ctx context.Context, res *model.Reservation) error {
	const q = `UPDATE reservations SET
	               assigned_room_id = ?, status = ?, payment_status = ?,
	               base_amount = ?, total_amount = ?, tax_amount = ?, discount_amount = ?,
	               service_amount = ?, amount_paid = ?, service_underflow = ?, order_code = ?,
	               check_in_time = ?, check_out_time = ?,
	               version = version + 1, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND version = ?`
	result, err := t.tx.ExecContext(ctx, q,
		nullable(res.AssignedRoomID), string(res.Status), string(res.PaymentStatus),
		res.BaseAmount, res.TotalAmount, res.TaxAmount, res.DiscountAmount,
		res.ServiceAmount, res.AmountPaid, res.ServiceUnderflow, nullable(res.OrderCode),
		nullable(res.CheckInTime), nullable(res.CheckOutTime),
		res.ID, res.Version,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: reservation %d at version %d", ErrVersionConflict, res.ID, res.Version)
	}
	res.Version++
	res.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *sqlTx) LockRoom(ctx context.Context, roomID uint64) (*model.Room, error) {
	const q = `SELECT id, property_id, room_type_id, number FROM rooms WHERE id = ? FOR UPDATE`
	var room model.Room
	err := t.tx.QueryRowContext(ctx, q, roomID).Scan(&room.ID, &room.PropertyID, &room.RoomTypeID, &room.Number)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("room %d", roomID))
	}
	return &room, nil
}

// FindRoomConflict uses the half-open overlap test check_in < end AND start < check_out.
func (t *sqlTx) FindRoomConflict(ctx context.Context, roomID uint64, stay model.DateRange, excludeID uint64) (uint64, bool, error) {
	const q = `SELECT id FROM reservations
	           WHERE assigned_room_id = ? AND id <> ?
	             AND status IN (?, ?)
	             AND check_in < ? AND ? < check_out
	           ORDER BY check_in LIMIT 1`
	var id uint64
	err := t.tx.QueryRowContext(ctx, q,
		roomID, excludeID,
		string(model.StatusConfirmed), string(model.StatusCheckedIn),
		stay.End.Format(model.DateLayout), stay.Start.Format(model.DateLayout),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
