package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

const credentialColumns = `credential_id, identity_id, token, issued_at_ms, expires_at_ms, status, issued_by, warned_at_ms`

type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker) *CredentialStore {
	return &CredentialStore{db: db, writer: writer}
}

func (s *CredentialStore) CreateCredential(ctx context.Context, cred types.VisitorCredential) error {
	var warned any
	if cred.WarnedAt != nil {
		warned = cred.WarnedAt.UTC().UnixMilli()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO visitor_credentials(`+credentialColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			cred.ID, cred.IdentityID, cred.Token,
			cred.IssuedAt.UTC().UnixMilli(), cred.ExpiresAt.UTC().UnixMilli(),
			string(cred.Status), nullString(cred.IssuedBy), warned,
		); err != nil {
			if isUniqueViolation(err, "token") {
				return store.ErrTokenConflict
			}
			return fmt.Errorf("CreateCredential insert: %w", err)
		}
		return nil
	})
}

func (s *CredentialStore) GetCredential(ctx context.Context, id string) (types.VisitorCredential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM visitor_credentials WHERE credential_id = ?;`, id))
	if err != nil {
		return types.VisitorCredential{}, fmt.Errorf("GetCredential: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) FindCredentialByToken(ctx context.Context, token string) (types.VisitorCredential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM visitor_credentials WHERE token = ?;`, token))
	if err != nil {
		return types.VisitorCredential{}, fmt.Errorf("FindCredentialByToken: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) TransitionStatus(ctx context.Context, id string, from, to types.CredentialStatus) (bool, error) {
	var changed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE visitor_credentials SET status = ?
WHERE credential_id = ? AND status = ?;`, string(to), id, string(from))
		if err != nil {
			return fmt.Errorf("TransitionStatus: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 1 {
			changed = true
			return nil
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM visitor_credentials WHERE credential_id = ?;`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	})
	return changed, err
}

func (s *CredentialStore) ListActiveExpired(ctx context.Context, now time.Time) ([]types.VisitorCredential, error) {
	return s.list(ctx, `
SELECT `+credentialColumns+` FROM visitor_credentials
WHERE status = 'ACTIVE' AND expires_at_ms <= ?
ORDER BY expires_at_ms ASC;`, now.UTC().UnixMilli())
}

func (s *CredentialStore) ActiveCredentials(ctx context.Context, identityID string) ([]types.VisitorCredential, error) {
	return s.list(ctx, `
SELECT `+credentialColumns+` FROM visitor_credentials
WHERE identity_id = ? AND status = 'ACTIVE'
ORDER BY issued_at_ms DESC;`, identityID)
}

func (s *CredentialStore) ClaimExpiryWarnings(ctx context.Context, now, until time.Time) ([]types.VisitorCredential, error) {
	nowMs := now.UTC().UnixMilli()

	var out []types.VisitorCredential
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT `+credentialColumns+` FROM visitor_credentials
WHERE status = 'ACTIVE' AND warned_at_ms IS NULL
  AND expires_at_ms > ? AND expires_at_ms <= ?
ORDER BY expires_at_ms ASC;`, nowMs, until.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("ClaimExpiryWarnings select: %w", err)
		}
		var due []types.VisitorCredential
		for rows.Next() {
			cred, err := scanCredential(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("ClaimExpiryWarnings scan: %w", err)
			}
			due = append(due, cred)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, cred := range due {
			res, err := tx.ExecContext(ctx, `
UPDATE visitor_credentials SET warned_at_ms = ?
WHERE credential_id = ? AND warned_at_ms IS NULL;`, nowMs, cred.ID)
			if err != nil {
				return fmt.Errorf("ClaimExpiryWarnings update: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				warned := time.UnixMilli(nowMs).UTC()
				cred.WarnedAt = &warned
				out = append(out, cred)
			}
		}
		return nil
	})
	return out, err
}

func (s *CredentialStore) list(ctx context.Context, query string, args ...any) ([]types.VisitorCredential, error) {
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
		cred      types.VisitorCredential
		issuedMs  int64
		expiresMs int64
		status    string
		issuedBy  sql.NullString
		warnedMs  sql.NullInt64
	)
	err := row.Scan(&cred.ID, &cred.IdentityID, &cred.Token, &issuedMs, &expiresMs, &status, &issuedBy, &warnedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return types.VisitorCredential{}, store.ErrNotFound
	}
	if err != nil {
		return types.VisitorCredential{}, err
	}
	cred.IssuedAt = time.UnixMilli(issuedMs).UTC()
	cred.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	cred.Status = types.CredentialStatus(status)
	cred.IssuedBy = issuedBy.String
	if warnedMs.Valid {
		w := time.UnixMilli(warnedMs.Int64).UTC()
		cred.WarnedAt = &w
	}
	return cred, nil
}
