package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by lookups that miss. It is an ordinary
	// result, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a unique
	// constraint (payment_id, key_email).
	ErrDuplicate = errors.New("duplicate key")
)

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
