package database

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/uptrace/bun/driver/pgdriver"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PostgreSQL error codes that mean another transaction won the race.
var pgConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// PostgreSQL integrity violations. Retrying cannot fix them.
var pgConstraintCodes = map[string]bool{
	"23502": true, // not_null_violation
	"23503": true, // foreign_key_violation
	"23505": true, // unique_violation
	"23514": true, // check_violation
}

// classify wraps driver errors in the matching feed error so that callers can
// decide whether to retry. Lock contention is a conflict; a violated
// constraint is invalid input. Toggle inserts use ON CONFLICT DO NOTHING and
// report their own races.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch code := pgErr.Field('C'); {
		case pgConflictCodes[code]:
			return fmt.Errorf("%w: %w", feed.ErrConflict, err)
		case pgConstraintCodes[code]:
			return fmt.Errorf("%w: %w", feed.ErrValidation, err)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", feed.ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", feed.ErrValidation, err)
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", feed.ErrStorageUnavailable, err)
	}
	return err
}
