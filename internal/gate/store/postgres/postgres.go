// Package postgres implements store.Store on PostgreSQL via lib/pq. Unlike the
// SQLite store it runs with a connection pool, so per-identity atomicity
// comes from row locks on the identities table instead of a single writer.
package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/campusgate/server/internal/gate/store"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
)

// Store implements store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func pqCode(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return ""
}

// isUniqueViolation matches a unique violation on the named constraint, or
// any unique violation when constraint is empty.
func isUniqueViolation(err error, constraint string) bool {
	var pe *pq.Error
	if !errors.As(err, &pe) || string(pe.Code) != codeUniqueViolation {
		return false
	}
	return constraint == "" || pe.Constraint == constraint
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
