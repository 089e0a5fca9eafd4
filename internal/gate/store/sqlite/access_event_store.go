package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

const latestEventQuery = `
SELECT event_id, identity_id, direction, occurred_at_ms, recorded_via, location_label
FROM access_events
WHERE identity_id = ?
ORDER BY occurred_at_ms DESC, event_id DESC
LIMIT 1;`

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

// AppendNext runs inside a Worker transaction; the Worker executes one
// transaction at a time, so no other write can interleave between the read
// of the latest event and the insert.
func (s *AccessEventStore) AppendNext(ctx context.Context, identityID string, decide store.DecideFunc) (types.AccessEvent, error) {
	var out types.AccessEvent

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		last, err := scanEvent(tx.QueryRowContext(ctx, latestEventQuery, identityID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("AppendNext latest: %w", err)
		}
		var lastPtr *types.AccessEvent
		if err == nil {
			lastPtr = &last
		}

		ev, err := decide(lastPtr)
		if err != nil {
			return err
		}
		ev.IdentityID = identityID
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		ms := ev.OccurredAt.UTC().UnixMilli()

		res, err := tx.ExecContext(ctx, `
INSERT INTO access_events(identity_id, direction, occurred_at_ms, recorded_via, location_label)
VALUES (?, ?, ?, ?, ?);
`, identityID, string(ev.Direction), ms, string(ev.RecordedVia), nullString(ev.LocationLabel))
		if err != nil {
			return fmt.Errorf("AppendNext insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("AppendNext id: %w", err)
		}

		ev.ID = id
		ev.OccurredAt = time.UnixMilli(ms).UTC()
		out = ev
		return nil
	})
	if err != nil {
		return types.AccessEvent{}, err
	}
	return out, nil
}

func (s *AccessEventStore) LatestEvent(ctx context.Context, identityID string) (*types.AccessEvent, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, latestEventQuery, identityID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestEvent: %w", err)
	}
	return &ev, nil
}

func (s *AccessEventStore) ListEvents(ctx context.Context, identityID string) ([]types.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, identity_id, direction, occurred_at_ms, recorded_via, location_label
FROM access_events
WHERE identity_id = ?
ORDER BY occurred_at_ms ASC, event_id ASC;`, identityID)
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

func (s *AccessEventStore) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM access_events
WHERE occurred_at_ms >= ? AND occurred_at_ms < ?;`,
		from.UTC().UnixMilli(), to.UTC().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountBetween: %w", err)
	}
	return n, nil
}

func (s *AccessEventStore) CountInside(ctx context.Context, allowed []types.LifecycleState) (map[types.Role]int, error) {
	counts := make(map[types.Role]int)
	if len(allowed) == 0 {
		return counts, nil
	}

	args := make([]any, 0, len(allowed))
	for _, st := range allowed {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allowed)), ",")

	rows, err := s.db.QueryContext(ctx, `
SELECT i.kind, i.role, COUNT(*)
FROM identities i
JOIN access_events e ON e.event_id = (
  SELECT event_id FROM access_events
  WHERE identity_id = i.identity_id
  ORDER BY occurred_at_ms DESC, event_id DESC
  LIMIT 1
)
WHERE e.direction = 'ENTRY'
  AND i.lifecycle_state IN (`+placeholders+`)
GROUP BY i.kind, i.role;`, args...)
	if err != nil {
		return nil, fmt.Errorf("CountInside: %w", err)
	}
	defer rows.Close()

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
		ms       int64
		location sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.IdentityID, &dir, &ms, &via, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessEvent{}, store.ErrNotFound
	}
	if err != nil {
		return types.AccessEvent{}, err
	}
	ev.Direction = types.Direction(dir)
	ev.RecordedVia = types.RecordedVia(via)
	ev.OccurredAt = time.UnixMilli(ms).UTC()
	ev.LocationLabel = location.String
	return ev, nil
}
