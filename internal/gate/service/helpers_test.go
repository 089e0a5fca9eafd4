package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/server/internal/gate/lock"
	"github.com/campusgate/server/internal/gate/service"
	"github.com/campusgate/server/internal/gate/store/memory"
	"github.com/campusgate/server/internal/gate/types"
)

// fakeClock is a settable service.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)

type gate struct {
	store    *memory.Store
	clock    *fakeClock
	logs     *logtest.Hook
	issuer   *service.Issuer
	resolver *service.Resolver
	recorder *service.Recorder
	expirer  *service.Expirer
	status   *service.StatusQuery
}

type gateOption func(*gateOptions)

type gateOptions struct {
	autoProvision bool
	location      *time.Location
}

func withoutAutoProvision() gateOption {
	return func(o *gateOptions) { o.autoProvision = false }
}

func withLocation(loc *time.Location) gateOption {
	return func(o *gateOptions) { o.location = loc }
}

// newGate wires every service over one in-memory store and a fake clock.
func newGate(t *testing.T, opts ...gateOption) *gate {
	t.Helper()

	o := gateOptions{autoProvision: true, location: time.UTC}
	for _, fn := range opts {
		fn(&o)
	}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ms := memory.New()
	clock := newFakeClock(baseTime)
	policy := service.DefaultAccessPolicy()

	issuer := service.NewIssuer(ms, ms, clock, logger)
	recorder := service.NewRecorder(ms, lock.NewKeyedMutex(2*time.Second), policy, clock, logger)
	expirer := service.NewExpirer(ms, recorder, clock, logger)
	resolver := service.NewResolver(ms, issuer, expirer, service.ResolverConfig{AutoProvision: o.autoProvision}, clock, logger)
	status := service.NewStatusQuery(ms, policy, o.location, clock)

	return &gate{
		store:    ms,
		clock:    clock,
		logs:     hook,
		issuer:   issuer,
		resolver: resolver,
		recorder: recorder,
		expirer:  expirer,
		status:   status,
	}
}

func (g *gate) enroll(t *testing.T, doc string, role types.Role) types.Identity {
	t.Helper()
	ident, created, err := g.issuer.EnrollMember(context.Background(), types.NewMember{
		DisplayName:    "Test Member " + doc,
		DocumentNumber: doc,
		Role:           role,
	})
	require.NoError(t, err)
	require.True(t, created)
	return ident
}

func (g *gate) visitor(t *testing.T, doc string, minutes int) types.VisitorPass {
	t.Helper()
	pass, err := g.issuer.RegisterVisitor(context.Background(), types.NewVisitor{
		DisplayName:     "Guest " + doc,
		DocumentNumber:  doc,
		ValidityMinutes: minutes,
		IssuedBy:        "front-desk",
	})
	require.NoError(t, err)
	return pass
}

func (g *gate) scan(t *testing.T, identityID string) types.ScanOutcome {
	t.Helper()
	out, err := g.recorder.RecordScan(context.Background(), types.ScanRequest{
		IdentityID:    identityID,
		LocationLabel: "main-gate",
	})
	require.NoError(t, err)
	return out
}

func (g *gate) occupancy(t *testing.T, role types.Role) int {
	t.Helper()
	occ, err := g.status.OccupancyCounts(context.Background())
	require.NoError(t, err)
	return occ.Counts[role]
}
