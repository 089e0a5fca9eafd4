package memory

import (
	"context"
	"slices"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

func (s *Store) AppendNext(_ context.Context, identityID string, decide store.DecideFunc) (types.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := decide(s.latestLocked(identityID))
	if err != nil {
		return types.AccessEvent{}, err
	}

	s.nextSeq++
	ev.ID = s.nextSeq
	ev.IdentityID = identityID
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *Store) LatestEvent(_ context.Context, identityID string) (*types.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(identityID), nil
}

// latestLocked picks the event with the greatest OccurredAt; on ties the one
// appended last wins. Callers must hold mu.
func (s *Store) latestLocked(identityID string) *types.AccessEvent {
	var latest *types.AccessEvent
	for i := range s.events {
		ev := s.events[i]
		if ev.IdentityID != identityID {
			continue
		}
		if latest == nil || !ev.OccurredAt.Before(latest.OccurredAt) {
			cp := ev
			latest = &cp
		}
	}
	return latest
}

func (s *Store) ListEvents(_ context.Context, identityID string) ([]types.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.AccessEvent
	for _, ev := range s.events {
		if ev.IdentityID == identityID {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b types.AccessEvent) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	return out, nil
}

func (s *Store) CountBetween(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ev := range s.events {
		if !ev.OccurredAt.Before(from) && ev.OccurredAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountInside(_ context.Context, allowed []types.LifecycleState) (map[types.Role]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.Role]int)
	for id, ident := range s.identities {
		if !slices.Contains(allowed, ident.LifecycleState) {
			continue
		}
		latest := s.latestLocked(id)
		if latest != nil && latest.Direction == types.DirectionEntry {
			counts[ident.Category()]++
		}
	}
	return counts, nil
}

// Events returns a copy of all recorded events in insertion order.
// Test-only helper.
func (s *Store) Events() []types.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AccessEvent, len(s.events))
	copy(out, s.events)
	return out
}
