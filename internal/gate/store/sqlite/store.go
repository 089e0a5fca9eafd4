package sqlite

import (
	"database/sql"

	dbpkg "github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/store"
)

// Store combines the SQLite-backed record stores. Reads use db directly;
// every write goes through writer.
type Store struct {
	*IdentityStore
	*AccessEventStore
	*CredentialStore
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{
		IdentityStore:    NewIdentityStore(db, writer),
		AccessEventStore: NewAccessEventStore(db, writer),
		CredentialStore:  NewCredentialStore(db, writer),
	}
}
