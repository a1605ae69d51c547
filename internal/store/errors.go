package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when a unique email constraint is violated.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrUnknownFlag is returned for feature flags that have no column.
	ErrUnknownFlag = errors.New("unknown feature flag")
	// ErrStorageTimeout is returned when a round-trip exceeds its deadline.
	ErrStorageTimeout = errors.New("storage timeout")
	// ErrStorageUnavailable wraps every other connection or statement failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// mapError maps driver errors onto the package sentinels. The original error
// stays in the chain for logging.
func mapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicateEmail, pgErr.ConstraintName)
		case pgerrcode.QueryCanceled:
			return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
		}
		return fmt.Errorf("%s: %w: postgres error [%s]: %s: %w", op, ErrStorageUnavailable, pgErr.Code, pgErr.Message, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE constraint failed")) {
			return fmt.Errorf("%s: %w", op, ErrDuplicateEmail)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// isDuplicateColumn reports whether err says an added column already exists.
func isDuplicateColumn(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.DuplicateColumn
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
