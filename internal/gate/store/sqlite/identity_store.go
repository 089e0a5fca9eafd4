package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	dbpkg "github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

const identityColumns = `identity_id, kind, display_name, document_number, document_type,
  program_affiliation, role, lifecycle_state, credential_token, created_at_ms`

type IdentityStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewIdentityStore(db *sql.DB, writer *dbpkg.Worker) *IdentityStore {
	return &IdentityStore{db: db, writer: writer}
}

func (s *IdentityStore) GetIdentity(ctx context.Context, id string) (types.Identity, error) {
	return s.findOne(ctx, "identity_id", id)
}

func (s *IdentityStore) FindByToken(ctx context.Context, token string) (types.Identity, error) {
	return s.findOne(ctx, "credential_token", token)
}

func (s *IdentityStore) FindByDocument(ctx context.Context, documentNumber string) (types.Identity, error) {
	return s.findOne(ctx, "document_number", documentNumber)
}

func (s *IdentityStore) findOne(ctx context.Context, column, value string) (types.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE `+column+` = ?;`, value)
	ident, err := scanIdentity(row)
	if err != nil {
		return types.Identity{}, fmt.Errorf("find identity by %s: %w", column, err)
	}
	return ident, nil
}

// UpsertByDocument relies on the document_number unique index: the insert is
// a no-op on conflict and the existing row is re-selected in the same
// transaction.
func (s *IdentityStore) UpsertByDocument(ctx context.Context, ident types.Identity) (types.Identity, bool, error) {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	createdMs := ident.CreatedAt.UTC().UnixMilli()

	var (
		out     types.Identity
		created bool
	)
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO identities(
  identity_id, kind, display_name, document_number, document_type,
  program_affiliation, role, lifecycle_state, credential_token,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_number) DO NOTHING;
`,
			ident.ID, string(ident.Kind), ident.DisplayName, ident.DocumentNumber, ident.DocumentType,
			nullString(ident.ProgramAffiliation), string(ident.Role), string(ident.LifecycleState),
			nullString(ident.CredentialToken), createdMs, createdMs,
		)
		if err != nil {
			if isUniqueViolation(err, "credential_token") {
				return store.ErrTokenConflict
			}
			return fmt.Errorf("UpsertByDocument insert: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("UpsertByDocument rows: %w", err)
		}
		created = n == 1

		row := tx.QueryRowContext(ctx,
			`SELECT `+identityColumns+` FROM identities WHERE document_number = ?;`, ident.DocumentNumber)
		out, err = scanIdentity(row)
		if err != nil {
			return fmt.Errorf("UpsertByDocument reselect: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Identity{}, false, err
	}
	return out, created, nil
}

func (s *IdentityStore) SetCredentialToken(ctx context.Context, id, token string) error {
	return s.update(ctx, `UPDATE identities SET credential_token = ?, updated_at_ms = ? WHERE identity_id = ?;`, token, id)
}

func (s *IdentityStore) SetLifecycleState(ctx context.Context, id string, state types.LifecycleState) error {
	return s.update(ctx, `UPDATE identities SET lifecycle_state = ?, updated_at_ms = ? WHERE identity_id = ?;`, string(state), id)
}

func (s *IdentityStore) update(ctx context.Context, query string, value any, id string) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, nowMs, id)
		if err != nil {
			if isUniqueViolation(err, "credential_token") {
				return store.ErrTokenConflict
			}
			return fmt.Errorf("update identity %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (types.Identity, error) {
	var (
		ident     types.Identity
		kind      string
		role      string
		state     string
		program   sql.NullString
		token     sql.NullString
		createdMs int64
	)
	err := row.Scan(&ident.ID, &kind, &ident.DisplayName, &ident.DocumentNumber, &ident.DocumentType,
		&program, &role, &state, &token, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Identity{}, store.ErrNotFound
	}
	if err != nil {
		return types.Identity{}, err
	}
	ident.Kind = types.IdentityKind(kind)
	ident.Role = types.Role(role)
	ident.LifecycleState = types.LifecycleState(state)
	ident.ProgramAffiliation = program.String
	ident.CredentialToken = token.String
	ident.CreatedAt = time.UnixMilli(createdMs).UTC()
	return ident, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports a UNIQUE constraint failure, optionally on a
// specific column (SQLite names it in the message as "table.column").
func isUniqueViolation(err error, column string) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE && se.Code() != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return false
	}
	return column == "" || strings.Contains(se.Error(), "."+column)
}
