// Package repository persists reservations. Store and Tx describe what
// the state machine needs from a backend; ReservationRepo implements
// them on MySQL and the memory subpackage implements them in process.
// Lookups that find nothing return errors wrapping apperr.ErrNotFound.
package repository

import "errors"

// ErrDuplicateCode is returned by Tx.Insert when the confirmation code
// collides with an existing reservation. Callers regenerate and retry.
var ErrDuplicateCode = errors.New("duplicate confirmation code")

// ErrVersionConflict is returned by Tx.Update when the stored version no
// longer matches the version the caller loaded.
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicateOrder is returned by Tx.Insert when another reservation was
// already created for the same gateway order code.
var ErrDuplicateOrder = errors.New("duplicate order code")
