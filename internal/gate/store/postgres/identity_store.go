package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

const identityColumns = `identity_id, kind, display_name, document_number, document_type,
  program_affiliation, role, lifecycle_state, credential_token, created_at`

// Postgres names UNIQUE column constraints <table>_<column>_key.
const tokenConstraint = "identities_credential_token_key"

func (s *Store) GetIdentity(ctx context.Context, id string) (types.Identity, error) {
	return s.findOne(ctx, "identity_id", id)
}

func (s *Store) FindByToken(ctx context.Context, token string) (types.Identity, error) {
	return s.findOne(ctx, "credential_token", token)
}

func (s *Store) FindByDocument(ctx context.Context, documentNumber string) (types.Identity, error) {
	return s.findOne(ctx, "document_number", documentNumber)
}

func (s *Store) findOne(ctx context.Context, column, value string) (types.Identity, error) {
	ident, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE `+column+` = $1`, value))
	if err != nil {
		return types.Identity{}, fmt.Errorf("find identity by %s: %w", column, err)
	}
	return ident, nil
}

// UpsertByDocument inserts with ON CONFLICT DO NOTHING. When the insert loses
// the race, the competing transaction has committed by the time ON CONFLICT
// resolves, so the re-select sees its row.
func (s *Store) UpsertByDocument(ctx context.Context, ident types.Identity) (types.Identity, bool, error) {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO identities(
  identity_id, kind, display_name, document_number, document_type,
  program_affiliation, role, lifecycle_state, credential_token,
  created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (document_number) DO NOTHING
RETURNING identity_id`,
		ident.ID, string(ident.Kind), ident.DisplayName, ident.DocumentNumber, ident.DocumentType,
		nullString(ident.ProgramAffiliation), string(ident.Role), string(ident.LifecycleState),
		nullString(ident.CredentialToken), ident.CreatedAt.UTC(),
	).Scan(&id)

	created := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
	case isUniqueViolation(err, tokenConstraint):
		return types.Identity{}, false, store.ErrTokenConflict
	case err != nil:
		return types.Identity{}, false, fmt.Errorf("UpsertByDocument insert: %w", err)
	}

	out, err := s.FindByDocument(ctx, ident.DocumentNumber)
	if err != nil {
		return types.Identity{}, false, fmt.Errorf("UpsertByDocument reselect: %w", err)
	}
	return out, created, nil
}

func (s *Store) SetCredentialToken(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET credential_token = $1, updated_at = now() WHERE identity_id = $2`, token, id)
	if err != nil {
		if isUniqueViolation(err, tokenConstraint) {
			return store.ErrTokenConflict
		}
		return fmt.Errorf("SetCredentialToken: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetLifecycleState(ctx context.Context, id string, state types.LifecycleState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET lifecycle_state = $1, updated_at = now() WHERE identity_id = $2`, string(state), id)
	if err != nil {
		return fmt.Errorf("SetLifecycleState: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanIdentity(row rowScanner) (types.Identity, error) {
	var (
		ident   types.Identity
		kind    string
		role    string
		state   string
		program sql.NullString
		token   sql.NullString
	)
	err := row.Scan(&ident.ID, &kind, &ident.DisplayName, &ident.DocumentNumber, &ident.DocumentType,
		&program, &role, &state, &token, &ident.CreatedAt)
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
	ident.CreatedAt = ident.CreatedAt.UTC()
	return ident, nil
}
