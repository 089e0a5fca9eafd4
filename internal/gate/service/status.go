package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

type Occupancy struct {
	Counts map[types.Role]int `json:"counts"`
	Total  int                `json:"total"`
	AsOf   time.Time          `json:"as_of"`
}

// StatusQuery derives presence and aggregate counts from stored events.
type StatusQuery struct {
	events   store.AccessEventStore
	policy   AccessPolicy
	location *time.Location
	clock    Clock
}

// NewStatusQuery counts days in loc (UTC when nil). Occupancy only includes
// identities whose lifecycle state policy allows.
func NewStatusQuery(events store.AccessEventStore, policy AccessPolicy, loc *time.Location, clock Clock) *StatusQuery {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock()
	}
	if len(policy.AllowedStates) == 0 {
		policy = DefaultAccessPolicy()
	}
	return &StatusQuery{events: events, policy: policy, location: loc, clock: clock}
}

func (q *StatusQuery) CurrentDirection(ctx context.Context, identityID string) (types.Presence, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", ErrInvalidIdentityID
	}
	last, err := q.events.LatestEvent(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("latest event: %w", err)
	}
	return PresenceOf(last), nil
}

// OccupancyCounts reports how many identities are inside per category. Every
// category is present in the result, zero when empty.
func (q *StatusQuery) OccupancyCounts(ctx context.Context) (Occupancy, error) {
	raw, err := q.events.CountInside(ctx, q.policy.AllowedStates)
	if err != nil {
		return Occupancy{}, fmt.Errorf("count inside: %w", err)
	}

	occ := Occupancy{
		Counts: make(map[types.Role]int, len(types.Categories)),
		AsOf:   q.clock.Now().UTC(),
	}
	for _, c := range types.Categories {
		occ.Counts[c] = raw[c]
		occ.Total += raw[c]
	}
	return occ, nil
}

// DailyEventCount counts events between local midnight today and local
// midnight tomorrow, so DST change days are 23 or 25 hours long.
func (q *StatusQuery) DailyEventCount(ctx context.Context) (int, error) {
	from := startOfDay(q.clock.Now(), q.location)
	n, err := q.events.CountBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
