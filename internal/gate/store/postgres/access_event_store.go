package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

const eventColumns = `event_id, identity_id, direction, occurred_at, recorded_via, location_label`

const latestEventQuery = `
SELECT ` + eventColumns + `
FROM access_events
WHERE identity_id = $1
ORDER BY occurred_at DESC, event_id DESC
LIMIT 1`

// AppendNext locks the identity row with FOR UPDATE NOWAIT for the duration
// of the read-decide-write. A held lock surfaces as store.ErrConflict.
func (s *Store) AppendNext(ctx context.Context, identityID string, decide store.DecideFunc) (types.AccessEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.AccessEvent{}, fmt.Errorf("AppendNext begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT identity_id FROM identities WHERE identity_id = $1 FOR UPDATE NOWAIT`, identityID,
	).Scan(&locked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return types.AccessEvent{}, store.ErrNotFound
	case pqCode(err) == codeLockNotAvailable:
		return types.AccessEvent{}, store.ErrConflict
	case err != nil:
		return types.AccessEvent{}, fmt.Errorf("AppendNext lock: %w", err)
	}

	last, err := scanEvent(tx.QueryRowContext(ctx, latestEventQuery, identityID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.AccessEvent{}, fmt.Errorf("AppendNext latest: %w", err)
	}
	var lastPtr *types.AccessEvent
	if err == nil {
		lastPtr = &last
	}

	ev, err := decide(lastPtr)
	if err != nil {
		return types.AccessEvent{}, err
	}
	ev.IdentityID = identityID
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, `
INSERT INTO access_events(identity_id, direction, occurred_at, recorded_via, location_label)
VALUES ($1, $2, $3, $4, $5)
RETURNING event_id, occurred_at`,
		identityID, string(ev.Direction), ev.OccurredAt.UTC(), string(ev.RecordedVia), nullString(ev.LocationLabel),
	).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return types.AccessEvent{}, fmt.Errorf("AppendNext insert: %w", err)
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	if err := tx.Commit(); err != nil {
		return types.AccessEvent{}, fmt.Errorf("AppendNext commit: %w", err)
	}
	return ev, nil
}

func (s *Store) LatestEvent(ctx context.Context, identityID string) (*types.AccessEvent, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, latestEventQuery, identityID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestEvent: %w", err)
	}
	return &ev, nil
}

func (s *Store) ListEvents(ctx context.Context, identityID string) ([]types.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+eventColumns+`
FROM access_events
WHERE identity_id = $1
ORDER BY occurred_at ASC, event_id ASC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var out []types.AccessEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_events WHERE occurred_at >= $1 AND occurred_at < $2`,
		from.UTC(), to.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountBetween: %w", err)
	}
	return n, nil
}

func (s *Store) CountInside(ctx context.Context, allowed []types.LifecycleState) (map[types.Role]int, error) {
	states := make([]string, 0, len(allowed))
	for _, st := range allowed {
		states = append(states, string(st))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT i.kind, i.role, COUNT(*)
FROM (
  SELECT DISTINCT ON (identity_id) identity_id, direction
  FROM access_events
  ORDER BY identity_id, occurred_at DESC, event_id DESC
) latest
JOIN identities i ON i.identity_id = latest.identity_id
WHERE latest.direction = 'ENTRY'
  AND i.lifecycle_state = ANY($1)
GROUP BY i.kind, i.role`, pq.Array(states))
	if err != nil {
		return nil, fmt.Errorf("CountInside: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Role]int)
	for rows.Next() {
		var (
			kind, role string
			n          int
		)
		if err := rows.Scan(&kind, &role, &n); err != nil {
			return nil, fmt.Errorf("CountInside scan: %w", err)
		}
		ident := types.Identity{Kind: types.IdentityKind(kind), Role: types.Role(role)}
		counts[ident.Category()] += n
	}
	return counts, rows.Err()
}

func scanEvent(row rowScanner) (types.AccessEvent, error) {
	var (
		ev       types.AccessEvent
		dir      string
		via      string
		location sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.IdentityID, &dir, &ev.OccurredAt, &via, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessEvent{}, store.ErrNotFound
	}
	if err != nil {
		return types.AccessEvent{}, err
	}
	ev.Direction = types.Direction(dir)
	ev.RecordedVia = types.RecordedVia(via)
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.LocationLabel = location.String
	return ev, nil
}
