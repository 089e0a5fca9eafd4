package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/lock"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

// AccessPolicy lists the lifecycle states allowed through the gate.
type AccessPolicy struct {
	AllowedStates []types.LifecycleState
}

// DefaultAccessPolicy admits ACTIVE, IN_TRAINING, AWAITING_CERTIFICATION and
// CERTIFIED identities.
func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{AllowedStates: slices.Clone(types.DefaultAllowedStates)}
}

func (p AccessPolicy) Allows(state types.LifecycleState) bool {
	return slices.Contains(p.AllowedStates, state)
}

// Recorder appends access events. For every identity it decides ENTRY or EXIT
// from the latest stored event and writes exactly one event per scan.
type Recorder struct {
	identities  store.IdentityStore
	events      store.AccessEventStore
	credentials store.CredentialStore
	locker      lock.Locker
	policy      AccessPolicy
	clock       Clock
	log         logrus.FieldLogger
}

func NewRecorder(s store.Store, locker lock.Locker, policy AccessPolicy, clock Clock, log logrus.FieldLogger) *Recorder {
	if clock == nil {
		clock = SystemClock()
	}
	if len(policy.AllowedStates) == 0 {
		policy = DefaultAccessPolicy()
	}
	return &Recorder{
		identities:  s,
		events:      s,
		credentials: s,
		locker:      locker,
		policy:      policy,
		clock:       clock,
		log:         orNop(log),
	}
}

// Policy returns the lifecycle allow-list in force.
func (r *Recorder) Policy() AccessPolicy { return r.policy }

// RecordScan persists the next event for req.IdentityID. The direction is
// always derived from the stored history; req.DirectionHint is ignored.
func (r *Recorder) RecordScan(ctx context.Context, req types.ScanRequest) (types.ScanOutcome, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	if identityID == "" {
		return types.ScanOutcome{}, ErrInvalidIdentityID
	}
	via := req.Via
	if via == "" {
		via = types.ViaScan
	}

	var ev types.AccessEvent
	err := r.withIdentityLock(ctx, identityID, func() error {
		var err error
		ev, err = r.recordLocked(ctx, identityID, via, strings.TrimSpace(req.LocationLabel))
		return err
	})
	if err != nil {
		return types.ScanOutcome{}, err
	}

	fields := logrus.Fields{
		"identity_id": identityID,
		"direction":   ev.Direction,
		"event_id":    ev.ID,
		"via":         ev.RecordedVia,
	}
	if req.DirectionHint != "" && req.DirectionHint != ev.Direction {
		fields["hint"] = req.DirectionHint
		r.log.WithFields(fields).Warn("direction hint disagrees with history, ignored")
	} else {
		r.log.WithFields(fields).Info("access event recorded")
	}

	return types.ScanOutcome{
		Status:    types.StatusConfirmed,
		Direction: ev.Direction,
		Presence:  PresenceOf(&ev),
		Event:     ev,
	}, nil
}

func (r *Recorder) recordLocked(ctx context.Context, identityID string, via types.RecordedVia, location string) (types.AccessEvent, error) {
	ident, err := r.identities.GetIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		return types.AccessEvent{}, ErrIdentityNotFound
	}
	if err != nil {
		return types.AccessEvent{}, fmt.Errorf("load identity: %w", err)
	}
	if !r.policy.Allows(ident.LifecycleState) {
		return types.AccessEvent{}, &DeniedError{IdentityID: ident.ID, Reason: string(ident.LifecycleState)}
	}

	now := r.clock.Now().UTC().Truncate(time.Millisecond)

	// Computed before AppendNext: the decide func must not touch the store.
	mayEnter := true
	if ident.Kind == types.KindVisitor {
		mayEnter, err = r.hasUsableCredential(ctx, ident.ID, now)
		if err != nil {
			return types.AccessEvent{}, err
		}
	}

	return r.events.AppendNext(ctx, ident.ID, func(last *types.AccessEvent) (types.AccessEvent, error) {
		dir := NextDirection(last)
		if dir == types.DirectionEntry && !mayEnter {
			return types.AccessEvent{}, &DeniedError{IdentityID: ident.ID, Reason: ReasonNoActiveCredential}
		}
		return types.AccessEvent{
			IdentityID:    ident.ID,
			Direction:     dir,
			OccurredAt:    nextOccurredAt(now, last),
			RecordedVia:   via,
			LocationLabel: location,
		}, nil
	})
}

func (r *Recorder) hasUsableCredential(ctx context.Context, identityID string, now time.Time) (bool, error) {
	creds, err := r.credentials.ActiveCredentials(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("load visitor credentials: %w", err)
	}
	for _, c := range creds {
		if !c.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

// CloseVisit appends a system EXIT for identityID at max(at, latest event)
// if the identity is currently inside. It returns nil when there was nothing
// to close.
func (r *Recorder) CloseVisit(ctx context.Context, identityID string, at time.Time, location string) (*types.AccessEvent, error) {
	at = at.UTC().Truncate(time.Millisecond)

	var closed *types.AccessEvent
	err := r.withIdentityLock(ctx, identityID, func() error {
		ev, err := r.events.AppendNext(ctx, identityID, func(last *types.AccessEvent) (types.AccessEvent, error) {
			if PresenceOf(last) != types.Inside {
				return types.AccessEvent{}, store.ErrSkip
			}
			return types.AccessEvent{
				IdentityID:    identityID,
				Direction:     types.DirectionExit,
				OccurredAt:    nextOccurredAt(at, last),
				RecordedVia:   types.ViaSystem,
				LocationLabel: location,
			}, nil
		})
		if errors.Is(err, store.ErrSkip) {
			return nil
		}
		if err != nil {
			return err
		}
		closed = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed != nil {
		r.log.WithFields(logrus.Fields{
			"identity_id": identityID,
			"event_id":    closed.ID,
		}).Info("visit closed by system exit")
	}
	return closed, nil
}

// withIdentityLock runs fn while holding the identity's lock. Contention and
// row-lock conflicts are retried once before ErrConcurrentConflict.
func (r *Recorder) withIdentityLock(ctx context.Context, identityID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = r.lockedOnce(ctx, identityID, fn)
		if !isConflict(err) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"identity_id": identityID,
			"attempt":     attempt,
		}).Debug("identity busy")
	}
	return fmt.Errorf("%w: %v", ErrConcurrentConflict, err)
}

func (r *Recorder) lockedOnce(ctx context.Context, identityID string, fn func() error) error {
	release, err := r.locker.Acquire(ctx, identityID)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			return err
		}
		return fmt.Errorf("acquire identity lock: %w", err)
	}
	defer release()
	return fn()
}

func isConflict(err error) bool {
	return errors.Is(err, lock.ErrContended) || errors.Is(err, store.ErrConflict)
}
