package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/store/postgres"
	"github.com/campusgate/server/internal/gate/types"
)

// openTestDB connects to CAMPUSGATE_TEST_POSTGRES_URL and migrates a fresh
// schema that is dropped when the test finishes. The test is skipped when
// the variable is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	base := strings.TrimSpace(os.Getenv("CAMPUSGATE_TEST_POSTGRES_URL"))
	if base == "" {
		t.Skip("CAMPUSGATE_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	admin, err := sql.Open("postgres", base)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+schema); err != nil {
		t.Fatalf("openTestDB: create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
	})

	conn, err := sql.Open("postgres", withSearchPath(base, schema))
	if err != nil {
		t.Fatalf("openTestDB: sql.Open schema: %v", err)
	}
	conn.SetMaxOpenConns(10)
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate(ctx, conn, db.Postgres); err != nil {
		t.Fatalf("openTestDB: migrate: %v", err)
	}
	return conn
}

// withSearchPath adds search_path as a startup parameter to either DSN form
// lib/pq accepts.
func withSearchPath(dsn, schema string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return fmt.Sprintf("%s search_path=%s", dsn, schema)
}

func newTestStore(t *testing.T) (*postgres.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	return postgres.New(conn), conn
}

var t0 = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func seedIdentity(t *testing.T, s *postgres.Store, id, doc string, kind types.IdentityKind, role types.Role) types.Identity {
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

func appendEvent(t *testing.T, s *postgres.Store, id string, dir types.Direction, at time.Time) types.AccessEvent {
	t.Helper()

	ev, err := s.AppendNext(context.Background(), id, func(*types.AccessEvent) (types.AccessEvent, error) {
		return types.AccessEvent{Direction: dir, OccurredAt: at, RecordedVia: types.ViaScan}, nil
	})
	if err != nil {
		t.Fatalf("append event for %s: %v", id, err)
	}
	return ev
}
