package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/types"
)

// ExpirySweeper periodically runs Expirer.Sweep and claims expiry warnings.
// It runs as a background goroutine and is stopped via its context or Stop.
//
// An interval of 0 disables the loop; the sweep can still be triggered over
// HTTP by an external scheduler.
type ExpirySweeper struct {
	expirer  *Expirer
	interval time.Duration
	lead     time.Duration
	onWarn   func(types.VisitorCredential)
	log      logrus.FieldLogger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type SweeperConfig struct {
	Interval time.Duration

	// WarningLead is how long before expiry a warning is claimed. 0 disables
	// warnings.
	WarningLead time.Duration

	// OnWarning receives each claimed credential. When nil the claim is only
	// logged.
	OnWarning func(types.VisitorCredential)
}

// NewExpirySweeper creates a sweeper but does not start it.
func NewExpirySweeper(e *Expirer, cfg SweeperConfig, log logrus.FieldLogger) *ExpirySweeper {
	return &ExpirySweeper{
		expirer:  e,
		interval: cfg.Interval,
		lead:     cfg.WarningLead,
		onWarn:   cfg.OnWarning,
		log:      orNop(log),
		done:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then repeats every interval until ctx is
// cancelled or Stop is called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("expiry sweeper disabled (interval=0)")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.log.WithFields(logrus.Fields{
		"interval":     s.interval.String(),
		"warning_lead": s.lead.String(),
	}).Info("expiry sweeper started")
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *ExpirySweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and warning pass, logging failures.
func (s *ExpirySweeper) RunOnce(ctx context.Context) {
	report, err := s.expirer.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("expiry sweep failed")
	}
	if report.Expired > 0 {
		s.log.WithFields(logrus.Fields{
			"expired":       report.Expired,
			"closed_visits": report.ClosedVisits,
		}).Info("expiry sweep")
	}

	warned, err := s.expirer.ClaimExpiryWarnings(ctx, s.lead)
	if err != nil {
		s.log.WithError(err).Error("expiry warning claim failed")
		return
	}
	for _, c := range warned {
		s.log.WithFields(logrus.Fields{
			"credential_id": c.ID,
			"identity_id":   c.IdentityID,
			"expires_at":    c.ExpiresAt.Format(time.RFC3339),
		}).Warn("visitor credential about to expire")
		if s.onWarn != nil {
			s.onWarn(c)
		}
	}
}
