package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/campusgate/server/internal/db"
	sqlitestore "github.com/campusgate/server/internal/gate/store/sqlite"
	"github.com/campusgate/server/internal/gate/types"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production. The connection is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own named in-memory database. Shared cache keeps it
	// alive while the pool holds a connection.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed on cleanup.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.New(conn, newTestWriter(t, conn)), conn
}

var t0 = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

// seedIdentity inserts an ACTIVE identity through the store.
func seedIdentity(t *testing.T, s *sqlitestore.Store, id, doc string, kind types.IdentityKind, role types.Role) types.Identity {
	t.Helper()

	ident, created, err := s.UpsertByDocument(context.Background(), types.Identity{
		ID:              id,
		Kind:            kind,
		DisplayName:     "Seed " + doc,
		DocumentNumber:  doc,
		DocumentType:    "CC",
		Role:            role,
		LifecycleState:  types.StateActive,
		CredentialToken: "MEMBER-1-" + doc,
		CreatedAt:       t0,
	})
	if err != nil {
		t.Fatalf("seed identity %s: %v", id, err)
	}
	if !created {
		t.Fatalf("seed identity %s: already existed", id)
	}
	return ident
}

// appendEvent appends a fixed-direction event at the given time.
func appendEvent(t *testing.T, s *sqlitestore.Store, id string, dir types.Direction, at time.Time) types.AccessEvent {
	t.Helper()

	ev, err := s.AppendNext(context.Background(), id, func(*types.AccessEvent) (types.AccessEvent, error) {
		return types.AccessEvent{Direction: dir, OccurredAt: at, RecordedVia: types.ViaScan}, nil
	})
	if err != nil {
		t.Fatalf("append event for %s: %v", id, err)
	}
	return ev
}
