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

const credentialColumns = `credential_id, identity_id, token, issued_at, expires_at, status, issued_by, warned_at`

func (s *Store) CreateCredential(ctx context.Context, cred types.VisitorCredential) error {
	var warned any
	if cred.WarnedAt != nil {
		warned = cred.WarnedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO visitor_credentials(`+credentialColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cred.ID, cred.IdentityID, cred.Token, cred.IssuedAt.UTC(), cred.ExpiresAt.UTC(),
		string(cred.Status), nullString(cred.IssuedBy), warned,
	)
	if err != nil {
		if isUniqueViolation(err, "visitor_credentials_token_key") {
			return store.ErrTokenConflict
		}
		return fmt.Errorf("CreateCredential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (types.VisitorCredential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM visitor_credentials WHERE credential_id = $1`, id))
	if err != nil {
		return types.VisitorCredential{}, fmt.Errorf("GetCredential: %w", err)
	}
	return cred, nil
}

func (s *Store) FindCredentialByToken(ctx context.Context, token string) (types.VisitorCredential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM visitor_credentials WHERE token = $1`, token))
	if err != nil {
		return types.VisitorCredential{}, fmt.Errorf("FindCredentialByToken: %w", err)
	}
	return cred, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to types.CredentialStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE visitor_credentials SET status = $1 WHERE credential_id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("TransitionStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.GetCredential(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListActiveExpired(ctx context.Context, now time.Time) ([]types.VisitorCredential, error) {
	return s.list(ctx, `
SELECT `+credentialColumns+` FROM visitor_credentials
WHERE status = 'ACTIVE' AND expires_at <= $1
ORDER BY expires_at ASC`, now.UTC())
}

func (s *Store) ActiveCredentials(ctx context.Context, identityID string) ([]types.VisitorCredential, error) {
	return s.list(ctx, `
SELECT `+credentialColumns+` FROM visitor_credentials
WHERE identity_id = $1 AND status = 'ACTIVE'
ORDER BY issued_at DESC`, identityID)
}

// ClaimExpiryWarnings claims in a single UPDATE, so two instances sweeping at
// once never both receive the same credential.
func (s *Store) ClaimExpiryWarnings(ctx context.Context, now, until time.Time) ([]types.VisitorCredential, error) {
	return s.list(ctx, `
UPDATE visitor_credentials SET warned_at = $1
WHERE status = 'ACTIVE' AND warned_at IS NULL
  AND expires_at > $1 AND expires_at <= $2
RETURNING `+credentialColumns, now.UTC(), until.UTC())
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]types.VisitorCredential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []types.VisitorCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("list credentials scan: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func scanCredential(row rowScanner) (types.VisitorCredential, error) {
	var (
		cred     types.VisitorCredential
		status   string
		issuedBy sql.NullString
		warned   sql.NullTime
	)
	err := row.Scan(&cred.ID, &cred.IdentityID, &cred.Token, &cred.IssuedAt, &cred.ExpiresAt,
		&status, &issuedBy, &warned)
	if errors.Is(err, sql.ErrNoRows) {
		return types.VisitorCredential{}, store.ErrNotFound
	}
	if err != nil {
		return types.VisitorCredential{}, err
	}
	cred.IssuedAt = cred.IssuedAt.UTC()
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	cred.Status = types.CredentialStatus(status)
	cred.IssuedBy = issuedBy.String
	if warned.Valid {
		w := warned.Time.UTC()
		cred.WarnedAt = &w
	}
	return cred, nil
}
