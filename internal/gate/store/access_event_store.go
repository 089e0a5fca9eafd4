package store

import (
	"context"
	"errors"
	"time"

	"github.com/campusgate/server/internal/gate/types"
)

// ErrSkip may be returned by a DecideFunc to finish AppendNext without
// writing an event.
var ErrSkip = errors.New("store: nothing to append")

// DecideFunc receives the identity's latest event (nil when it has none) and
// returns the event to append.
type DecideFunc func(last *types.AccessEvent) (types.AccessEvent, error)

// AccessEventStore persists access events as an append-only log.
type AccessEventStore interface {
	// AppendNext reads the latest event for identityID, calls decide and
	// appends its result, all in one unit of work. Implementations that use
	// row locks return ErrConflict when the identity row is already locked.
	// When decide returns ErrSkip, AppendNext returns ErrSkip and writes
	// nothing.
	AppendNext(ctx context.Context, identityID string, decide DecideFunc) (types.AccessEvent, error)

	// LatestEvent returns nil when the identity has no events. Ordering is by
	// OccurredAt, ties broken by insertion order.
	LatestEvent(ctx context.Context, identityID string) (*types.AccessEvent, error)

	// ListEvents returns the identity's events oldest first.
	ListEvents(ctx context.Context, identityID string) ([]types.AccessEvent, error)

	// CountBetween counts events with from <= OccurredAt < to.
	CountBetween(ctx context.Context, from, to time.Time) (int, error)

	// CountInside counts identities whose latest event is ENTRY and whose
	// lifecycle state is one of allowed, bucketed by category.
	CountInside(ctx context.Context, allowed []types.LifecycleState) (map[types.Role]int, error)
}
