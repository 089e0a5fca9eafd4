package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SeedDevOptions struct {
	// DocumentNumbers pre-creates one ACTIVE trainee per entry so a scanner
	// can be exercised against a fresh dev database.
	DocumentNumbers []string
}

// SeedDev inserts a demo instructor plus the optional trainees. Rows that
// already exist (same document number) are left untouched.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	if err := seedMember(ctx, db, "1000000001", "Instructor Demo", "INSTRUCTOR", now); err != nil {
		return err
	}

	for _, doc := range opt.DocumentNumbers {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			continue
		}
		if err := seedMember(ctx, db, doc, "Aprendiz "+doc, "TRAINEE", now); err != nil {
			return err
		}
	}

	return nil
}

func seedMember(ctx context.Context, db *sql.DB, doc, name, role string, nowMs int64) error {
	token := fmt.Sprintf("MEMBER-%d-%s", nowMs, doc)
	if _, err := db.ExecContext(ctx, `
INSERT INTO identities(
  identity_id, kind, display_name, document_number, document_type,
  role, lifecycle_state, credential_token, created_at_ms, updated_at_ms
) VALUES (?, 'ENROLLED_MEMBER', ?, ?, 'CC', ?, 'ACTIVE', ?, ?, ?)
ON CONFLICT DO NOTHING;
`, uuid.NewString(), name, doc, role, token, nowMs, nowMs); err != nil {
		return fmt.Errorf("seed member %s: %w", doc, err)
	}
	return nil
}
