package service_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/server/internal/gate/service"
	"github.com/campusgate/server/internal/gate/types"
)

func TestCurrentDirection_DefaultsToOutside(t *testing.T) {
	g := newGate(t)

	presence, err := g.status.CurrentDirection(context.Background(), "never-scanned")
	require.NoError(t, err)
	assert.Equal(t, types.Outside, presence)

	_, err = g.status.CurrentDirection(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrInvalidIdentityID)
}

func TestOccupancyCounts_PerCategory(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	occ, err := g.status.OccupancyCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, occ.Total)
	for _, c := range types.Categories {
		v, ok := occ.Counts[c]
		assert.True(t, ok, "category %s present", c)
		assert.Zero(t, v)
	}

	g.scan(t, g.enroll(t, "10000001", types.RoleTrainee).ID)
	g.scan(t, g.enroll(t, "10000002", types.RoleTrainee).ID)
	g.scan(t, g.enroll(t, "10000003", types.RoleInstructor).ID)
	staff := g.enroll(t, "10000004", types.RoleStaff)
	g.scan(t, staff.ID)
	g.scan(t, staff.ID)
	g.scan(t, g.visitor(t, "52123456", 30).Identity.ID)

	occ, err = g.status.OccupancyCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[types.Role]int{
		types.RoleTrainee:    2,
		types.RoleInstructor: 1,
		types.RoleStaff:      0,
		types.RoleVisitor:    1,
	}, occ.Counts)
	assert.Equal(t, 4, occ.Total)
	assert.True(t, occ.AsOf.Equal(baseTime))
}

func TestDailyEventCount_UsesConfiguredZone(t *testing.T) {
	bogota := time.FixedZone("COT", -5*60*60)
	g := newGate(t, withLocation(bogota))
	ident := g.enroll(t, "1014983221", types.RoleTrainee)

	// 14:30 UTC is 09:30 local; local midnight is 05:00 UTC.
	g.clock.Advance(-10 * time.Hour) // 04:30 UTC, previous local day
	g.scan(t, ident.ID)
	g.clock.Advance(time.Hour) // 05:30 UTC
	g.scan(t, ident.ID)
	g.clock.Advance(9 * time.Hour) // 14:30 UTC
	g.scan(t, ident.ID)

	n, err := g.status.DailyEventCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDailyEventCount_ShortDSTDay(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	g := newGate(t, withLocation(newYork))
	ctx := context.Background()

	// 2026-03-08 is 23 hours long in New York: midnight EST is 05:00 UTC,
	// the next midnight (EDT) is 04:00 UTC on 2026-03-09.
	nextDay := g.enroll(t, "1014983221", types.RoleTrainee)
	g.clock.Advance(-10 * time.Hour) // 04:30 UTC, 00:30 EDT on 2026-03-09
	g.scan(t, nextDay.ID)

	sameDay := g.enroll(t, "1014983222", types.RoleTrainee)
	g.clock.Advance(-4*time.Hour - 30*time.Minute) // 00:00 UTC, 20:00 EDT on 2026-03-08
	g.scan(t, sameDay.ID)

	n, err := g.status.DailyEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g.clock.Advance(4*time.Hour + 30*time.Minute)
	n, err = g.status.DailyEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
