package sqlstore

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/card-ledger/cards"
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the cards error contract.
// sql.ErrNoRows is returned untouched so callers can turn it into a
// NotFoundError naming the key.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return err
	case isCardNumberViolation(err):
		return &cards.StorageError{Op: op, Err: errors.Join(cards.ErrDuplicateCardNumber, err)}
	case isConflict(err):
		return &cards.StorageError{Op: op, Err: errors.Join(cards.ErrConflict, err)}
	}
	return &cards.StorageError{Op: op, Err: err}
}

func isConflict(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func isCardNumberViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(se.Error(), sqliteCardNumberCol)
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code) == pgUniqueViolation && pe.Constraint == constraintCardNumber
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return pgerr.Code == pgUniqueViolation && pgerr.ConstraintName == constraintCardNumber
	}
	return false
}

func pgCode(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return pgerr.Code
	}
	return ""
}
