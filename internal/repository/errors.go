package repository

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested record does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing unique key.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when a transaction lost a serialization race or a
// deadlock and may succeed if run again.
var ErrConflict = errors.New("transaction conflict")

// ErrUnavailable is returned when the database cannot be reached.
var ErrUnavailable = errors.New("database unavailable")

// PostgreSQL SQLSTATE codes we react to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the repository sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case sqlStateUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	// Dial failures surface as *net.OpError inside pgconn's connect error.
	var netErr *net.OpError
	if errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
