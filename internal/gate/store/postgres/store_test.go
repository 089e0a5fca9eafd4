package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identities
// ═══════════════════════════════════════════════════════════════════════════

func TestIdentityStore_UpsertByDocument_ReturnsStoredRow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)
	if !first.CreatedAt.Equal(t0) {
		t.Errorf("created_at: want %v, got %v", t0, first.CreatedAt)
	}

	again, created, err := s.UpsertByDocument(ctx, types.Identity{
		ID:             "id-2",
		Kind:           types.KindMember,
		DisplayName:    "Other Name",
		DocumentNumber: "1014983221",
		DocumentType:   "CC",
		Role:           types.RoleStaff,
		LifecycleState: types.StateActive,
	})
	if err != nil {
		t.Fatalf("UpsertByDocument: %v", err)
	}
	if created || again.ID != "id-1" {
		t.Errorf("expected stored row id-1, got created=%v %+v", created, again)
	}

	_, _, err = s.UpsertByDocument(ctx, types.Identity{
		ID:              "id-3",
		Kind:            types.KindMember,
		DisplayName:     "Third",
		DocumentNumber:  "52123456",
		DocumentType:    "CC",
		Role:            types.RoleTrainee,
		LifecycleState:  types.StateActive,
		CredentialToken: "MEMBER-1-1014983221",
	})
	if !errors.Is(err, store.ErrTokenConflict) {
		t.Fatalf("expected ErrTokenConflict, got %v", err)
	}
}

func TestIdentityStore_UpsertByDocument_ConcurrentSameDocument(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	created := make([]bool, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ident, c, err := s.UpsertByDocument(ctx, types.Identity{
				ID:             "racer-" + string(rune('a'+i)),
				Kind:           types.KindMember,
				DisplayName:    "Racer",
				DocumentNumber: "1014983221",
				DocumentType:   "CC",
				Role:           types.RoleTrainee,
				LifecycleState: types.StateActive,
			})
			ids[i], created[i], errs[i] = ident.ID, c, err
		}()
	}
	wg.Wait()

	winners := 0
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("racer %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("racer %d got %s, racer 0 got %s", i, ids[i], ids[0])
		}
		if created[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one insert, got %d", winners)
	}
}

func TestIdentityStore_SetTokenAndLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)
	seedIdentity(t, s, "id-2", "1014983222", types.KindMember, types.RoleTrainee)

	if err := s.SetCredentialToken(ctx, "id-1", "MEMBER-2-1014983221"); err != nil {
		t.Fatalf("SetCredentialToken: %v", err)
	}
	if got, err := s.FindByToken(ctx, "MEMBER-2-1014983221"); err != nil || got.ID != "id-1" {
		t.Fatalf("FindByToken: %+v, %v", got, err)
	}
	if err := s.SetCredentialToken(ctx, "id-2", "MEMBER-2-1014983221"); !errors.Is(err, store.ErrTokenConflict) {
		t.Errorf("expected ErrTokenConflict, got %v", err)
	}
	if err := s.SetLifecycleState(ctx, "missing", types.StateSuspended); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Access events
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_AppendNext_Alternates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)

	decide := func(last *types.AccessEvent) (types.AccessEvent, error) {
		dir := types.DirectionEntry
		at := t0
		if last != nil {
			at = last.OccurredAt.Add(time.Minute)
			if last.Direction == types.DirectionEntry {
				dir = types.DirectionExit
			}
		}
		return types.AccessEvent{Direction: dir, OccurredAt: at, RecordedVia: types.ViaScan}, nil
	}

	for i := 0; i < 4; i++ {
		if _, err := s.AppendNext(ctx, "id-1", decide); err != nil {
			t.Fatalf("AppendNext %d: %v", i, err)
		}
	}

	events, err := s.ListEvents(ctx, "id-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := []types.Direction{types.DirectionEntry, types.DirectionExit, types.DirectionEntry, types.DirectionExit}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Direction != want[i] {
			t.Errorf("event %d: want %s, got %s", i, want[i], ev.Direction)
		}
	}

	latest, err := s.LatestEvent(ctx, "id-1")
	if err != nil || latest == nil || latest.ID != events[3].ID {
		t.Errorf("LatestEvent: %+v, %v", latest, err)
	}
}

func TestAccessEventStore_AppendNext_UnknownIdentity(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendNext(context.Background(), "missing", func(*types.AccessEvent) (types.AccessEvent, error) {
		t.Error("decide must not run for an unknown identity")
		return types.AccessEvent{}, nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccessEventStore_AppendNext_LockedRowIsConflict(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM identities WHERE identity_id = 'id-1' FOR UPDATE`); err != nil {
		t.Fatalf("lock row: %v", err)
	}

	_, err = s.AppendNext(ctx, "id-1", func(*types.AccessEvent) (types.AccessEvent, error) {
		t.Error("decide must not run while the row is locked")
		return types.AccessEvent{}, nil
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	appendEvent(t, s, "id-1", types.DirectionEntry, t0)
}

func TestAccessEventStore_AppendNext_SkipWritesNothing(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)

	_, err := s.AppendNext(ctx, "id-1", func(*types.AccessEvent) (types.AccessEvent, error) {
		return types.AccessEvent{}, store.ErrSkip
	})
	if !errors.Is(err, store.ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no events, got %d", count)
	}
}

func TestAccessEventStore_CountBetween_HalfOpen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "id-1", "1014983221", types.KindMember, types.RoleTrainee)

	appendEvent(t, s, "id-1", types.DirectionEntry, t0)
	appendEvent(t, s, "id-1", types.DirectionExit, t0.Add(time.Hour))
	appendEvent(t, s, "id-1", types.DirectionEntry, t0.Add(2*time.Hour))

	n, err := s.CountBetween(ctx, t0, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("CountBetween: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestAccessEventStore_CountInside(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seedIdentity(t, s, "trainee", "10000001", types.KindMember, types.RoleTrainee)
	seedIdentity(t, s, "left", "10000002", types.KindMember, types.RoleTrainee)
	seedIdentity(t, s, "instructor", "10000003", types.KindMember, types.RoleInstructor)
	seedIdentity(t, s, "visitor", "52123456", types.KindVisitor, types.RoleVisitor)
	seedIdentity(t, s, "suspended", "10000004", types.KindMember, types.RoleTrainee)

	appendEvent(t, s, "trainee", types.DirectionEntry, t0)
	appendEvent(t, s, "left", types.DirectionEntry, t0)
	appendEvent(t, s, "left", types.DirectionExit, t0.Add(time.Minute))
	appendEvent(t, s, "instructor", types.DirectionEntry, t0)
	appendEvent(t, s, "visitor", types.DirectionEntry, t0)
	appendEvent(t, s, "suspended", types.DirectionEntry, t0)
	if err := s.SetLifecycleState(ctx, "suspended", types.StateSuspended); err != nil {
		t.Fatalf("SetLifecycleState: %v", err)
	}

	counts, err := s.CountInside(ctx, []types.LifecycleState{types.StateActive})
	if err != nil {
		t.Fatalf("CountInside: %v", err)
	}
	want := map[types.Role]int{types.RoleTrainee: 1, types.RoleInstructor: 1, types.RoleVisitor: 1}
	for role, n := range want {
		if counts[role] != n {
			t.Errorf("%s: want %d, got %d", role, n, counts[role])
		}
	}
	if counts[types.RoleStaff] != 0 {
		t.Errorf("staff: want 0, got %d", counts[types.RoleStaff])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Visitor credentials
// ═══════════════════════════════════════════════════════════════════════════

func newCredential(id, identityID string, issued time.Time, validity time.Duration) types.VisitorCredential {
	return types.VisitorCredential{
		ID:         id,
		IdentityID: identityID,
		Token:      "VISITOR_52123456_" + id,
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(validity),
		Status:     types.CredentialActive,
		IssuedBy:   "front-desk",
	}
}

func TestCredentialStore_LifecycleAndClaims(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedIdentity(t, s, "visitor", "52123456", types.KindVisitor, types.RoleVisitor)

	short := newCredential("c1", "visitor", t0, 10*time.Minute)
	long := newCredential("c2", "visitor", t0, 2*time.Hour)
	for _, c := range []types.VisitorCredential{short, long} {
		if err := s.CreateCredential(ctx, c); err != nil {
			t.Fatalf("CreateCredential %s: %v", c.ID, err)
		}
	}
	dup := newCredential("c3", "visitor", t0, time.Hour)
	dup.Token = short.Token
	if err := s.CreateCredential(ctx, dup); !errors.Is(err, store.ErrTokenConflict) {
		t.Errorf("expected ErrTokenConflict, got %v", err)
	}

	got, err := s.FindCredentialByToken(ctx, short.Token)
	if err != nil || got.ID != "c1" || !got.ExpiresAt.Equal(short.ExpiresAt) {
		t.Fatalf("FindCredentialByToken: %+v, %v", got, err)
	}

	claimed, err := s.ClaimExpiryWarnings(ctx, t0, t0.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("ClaimExpiryWarnings: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "c1" || claimed[0].WarnedAt == nil {
		t.Fatalf("expected c1 claimed once, got %+v", claimed)
	}
	claimed, err = s.ClaimExpiryWarnings(ctx, t0, t0.Add(15*time.Minute))
	if err != nil || len(claimed) != 0 {
		t.Errorf("second claim: %+v, %v", claimed, err)
	}

	expired, err := s.ListActiveExpired(ctx, t0.Add(30*time.Minute))
	if err != nil || len(expired) != 1 || expired[0].ID != "c1" {
		t.Fatalf("ListActiveExpired: %+v, %v", expired, err)
	}

	ok, err := s.TransitionStatus(ctx, "c1", types.CredentialActive, types.CredentialExpired)
	if err != nil || !ok {
		t.Fatalf("TransitionStatus: %v, %v", ok, err)
	}
	ok, err = s.TransitionStatus(ctx, "c1", types.CredentialActive, types.CredentialRevoked)
	if err != nil || ok {
		t.Errorf("second transition should not apply: %v, %v", ok, err)
	}
	if _, err := s.TransitionStatus(ctx, "missing", types.CredentialActive, types.CredentialRevoked); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	active, err := s.ActiveCredentials(ctx, "visitor")
	if err != nil || len(active) != 1 || active[0].ID != "c2" {
		t.Errorf("ActiveCredentials: %+v, %v", active, err)
	}
}
