package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

// VisitCloser appends a closing EXIT for an identity that is still inside.
// *Recorder implements it.
type VisitCloser interface {
	CloseVisit(ctx context.Context, identityID string, at time.Time, location string) (*types.AccessEvent, error)
}

type SweepReport struct {
	Expired      int `json:"expired"`
	ClosedVisits int `json:"closed_visits"`
}

// Expirer moves visitor credentials past their validity window to EXPIRED
// and closes the visits they left open.
type Expirer struct {
	credentials store.CredentialStore
	visits      VisitCloser
	clock       Clock
	log         logrus.FieldLogger
}

func NewExpirer(credentials store.CredentialStore, visits VisitCloser, clock Clock, log logrus.FieldLogger) *Expirer {
	if clock == nil {
		clock = SystemClock()
	}
	return &Expirer{
		credentials: credentials,
		visits:      visits,
		clock:       clock,
		log:         orNop(log),
	}
}

// Expire closes the visitor's visit at cred.ExpiresAt if they are inside and
// then marks the credential EXPIRED. The visit is left open when the visitor
// holds another ACTIVE credential that is still valid. Credentials that are
// not ACTIVE or not yet expired at now are left alone.
//
// The EXIT goes first so that a failure leaves the credential ACTIVE and the
// next sweep retries both steps.
func (e *Expirer) Expire(ctx context.Context, cred types.VisitorCredential, now time.Time) (closedVisit bool, err error) {
	if cred.Status != types.CredentialActive || !cred.IsExpired(now) {
		return false, nil
	}

	covered, err := e.coveredByOther(ctx, cred, now)
	if err != nil {
		return false, err
	}
	if !covered {
		ev, err := e.visits.CloseVisit(ctx, cred.IdentityID, cred.ExpiresAt, "")
		if err != nil {
			return false, fmt.Errorf("close visit for credential %s: %w", cred.ID, err)
		}
		closedVisit = ev != nil
	}

	changed, err := e.credentials.TransitionStatus(ctx, cred.ID, types.CredentialActive, types.CredentialExpired)
	if err != nil {
		return closedVisit, fmt.Errorf("expire credential %s: %w", cred.ID, err)
	}
	if changed {
		e.log.WithFields(logrus.Fields{
			"credential_id": cred.ID,
			"identity_id":   cred.IdentityID,
			"closed_visit":  closedVisit,
		}).Info("visitor credential expired")
	}
	return closedVisit, nil
}

func (e *Expirer) coveredByOther(ctx context.Context, cred types.VisitorCredential, now time.Time) (bool, error) {
	active, err := e.credentials.ActiveCredentials(ctx, cred.IdentityID)
	if err != nil {
		return false, fmt.Errorf("load visitor credentials: %w", err)
	}
	for _, c := range active {
		if c.ID != cred.ID && !c.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Sweep expires every ACTIVE credential whose window has ended. Failures on
// individual credentials do not stop the sweep; they are joined into the
// returned error.
func (e *Expirer) Sweep(ctx context.Context) (SweepReport, error) {
	now := e.clock.Now().UTC()

	due, err := e.credentials.ListActiveExpired(ctx, now)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired credentials: %w", err)
	}

	var (
		report SweepReport
		errs   []error
	)
	for _, cred := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		closed, err := e.Expire(ctx, cred, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Expired++
		if closed {
			report.ClosedVisits++
		}
	}
	return report, errors.Join(errs...)
}

// ClaimExpiryWarnings returns the ACTIVE credentials that expire within lead
// and have not been warned about yet, marking them as warned.
func (e *Expirer) ClaimExpiryWarnings(ctx context.Context, lead time.Duration) ([]types.VisitorCredential, error) {
	if lead <= 0 {
		return nil, nil
	}
	now := e.clock.Now().UTC()
	claimed, err := e.credentials.ClaimExpiryWarnings(ctx, now, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("claim expiry warnings: %w", err)
	}
	return claimed, nil
}
