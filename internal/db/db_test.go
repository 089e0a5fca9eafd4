package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/campusgate/server/internal/db"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Config{
		Path: filepath.Join(t.TempDir(), "gate.db"),
		Env:  "dev",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ═══════════════════════════════════════════════════════════════════════════════
// Migrate
// ═══════════════════════════════════════════════════════════════════════════════

func TestMigrate_Idempotent(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, conn, db.SQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied migration, got %d", n)
	}

	for _, table := range []string{"identities", "access_events", "visitor_credentials"} {
		var name string
		err := conn.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Worker
// ═══════════════════════════════════════════════════════════════════════════════

func TestWorker_SerializesWrites(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE counter (n INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO counter (n) VALUES (0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
				var n int
				if err := tx.QueryRowContext(ctx, `SELECT n FROM counter`).Scan(&n); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `UPDATE counter SET n = ?`, n+1)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT n FROM counter`).Scan(&n); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != writers {
		t.Errorf("expected %d, got %d (lost update)", writers, n)
	}
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE things (v TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO things (v) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestWorker_ClosedRejectsJobs(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SeedDev
// ═══════════════════════════════════════════════════════════════════════════════

func TestSeedDev_InsertsOnce(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()
	opt := db.SeedDevOptions{DocumentNumbers: []string{"1014983221", " ", "1014983222"}}

	for i := 0; i < 2; i++ {
		if err := db.SeedDev(ctx, conn, opt); err != nil {
			t.Fatalf("seed #%d: %v", i+1, err)
		}
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 identities (instructor + 2 trainees), got %d", n)
	}
}
