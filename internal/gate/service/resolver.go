package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/extract"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

var (
	memberTokenPattern  = regexp.MustCompile(`^MEMBER-(\d+)-(\d+)(?:-([A-Za-z0-9]+))?$`)
	visitorTokenPattern = regexp.MustCompile(`^VISITOR_(\d+)_(\d+)$`)
)

// Strategy names the resolution step that produced the identity.
type Strategy string

const (
	StrategyMemberToken    Strategy = "member_token"
	StrategyVisitorToken   Strategy = "visitor_token"
	StrategyDocumentNumber Strategy = "document_number"
	StrategyDigitRun       Strategy = "digit_run"
	StrategyAutoProvision  Strategy = "auto_provision"
)

type Resolution struct {
	Identity        types.Identity           `json:"identity"`
	AutoProvisioned bool                     `json:"auto_provisioned"`
	Strategy        Strategy                 `json:"strategy"`
	Confidence      extract.Confidence       `json:"confidence"`
	Credential      *types.VisitorCredential `json:"credential,omitempty"`
}

type ResolverConfig struct {
	// AutoProvision creates a member for an unknown document number found in
	// the scan. When false such scans are unresolvable.
	AutoProvision bool
}

// Resolver maps a raw scanned string to an Identity.
type Resolver struct {
	identities    store.IdentityStore
	credentials   store.CredentialStore
	issuer        *Issuer
	expirer       *Expirer
	clock         Clock
	autoProvision bool
	log           logrus.FieldLogger
}

func NewResolver(s store.Store, issuer *Issuer, expirer *Expirer, cfg ResolverConfig, clock Clock, log logrus.FieldLogger) *Resolver {
	if clock == nil {
		clock = SystemClock()
	}
	return &Resolver{
		identities:    s,
		credentials:   s,
		issuer:        issuer,
		expirer:       expirer,
		clock:         clock,
		autoProvision: cfg.AutoProvision,
		log:           orNop(log),
	}
}

// Resolve tries, in order: the member token format, the visitor token
// format, the whole input as a document number, the first 8 to 15 digit run,
// and finally auto-provisioning for that run.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{}, ErrUnresolvable
	}

	if m := memberTokenPattern.FindStringSubmatch(raw); m != nil {
		ident, err := r.identities.FindByToken(ctx, raw)
		if err == nil {
			return Resolution{Identity: ident, Strategy: StrategyMemberToken, Confidence: extract.ConfidenceHigh}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Resolution{}, fmt.Errorf("lookup member token: %w", err)
		}
		// Stale or foreign token: fall back to the document number it carries.
		r.log.WithField("document_number", m[2]).Debug("unknown member token, trying embedded document")
		if n := len(m[2]); n < extract.MinDocumentDigits || n > extract.MaxDocumentDigits {
			return r.lookupOnly(ctx, m[2])
		}
		return r.resolveCandidate(ctx, extract.Result{
			DocumentNumber: m[2],
			Role:           types.RoleTrainee,
			DocumentType:   extract.DefaultDocumentType,
			Confidence:     extract.ConfidenceHigh,
		})
	}

	if visitorTokenPattern.MatchString(raw) {
		return r.resolveVisitorToken(ctx, raw)
	}

	if digits := extract.DigitsOnly(raw); digits != "" {
		ident, err := r.identities.FindByDocument(ctx, digits)
		if err == nil {
			return Resolution{Identity: ident, Strategy: StrategyDocumentNumber, Confidence: extract.ConfidenceHigh}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Resolution{}, fmt.Errorf("lookup document: %w", err)
		}
	}

	parsed := extract.Parse(raw)
	if !parsed.Found() {
		return Resolution{}, ErrUnresolvable
	}
	return r.resolveCandidate(ctx, parsed)
}

// lookupOnly matches an existing identity but never provisions one; used for
// document numbers outside the accepted length.
func (r *Resolver) lookupOnly(ctx context.Context, doc string) (Resolution, error) {
	ident, err := r.identities.FindByDocument(ctx, doc)
	if errors.Is(err, store.ErrNotFound) {
		return Resolution{}, ErrUnresolvable
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup document: %w", err)
	}
	return Resolution{Identity: ident, Strategy: StrategyDocumentNumber, Confidence: extract.ConfidenceLow}, nil
}

func (r *Resolver) resolveCandidate(ctx context.Context, parsed extract.Result) (Resolution, error) {
	ident, err := r.identities.FindByDocument(ctx, parsed.DocumentNumber)
	if err == nil {
		return Resolution{Identity: ident, Strategy: StrategyDigitRun, Confidence: parsed.Confidence}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Resolution{}, fmt.Errorf("lookup document: %w", err)
	}

	if !r.autoProvision {
		return Resolution{}, ErrUnresolvable
	}

	ident, created, err := r.issuer.ProvisionMember(ctx, types.Identity{
		DisplayName:    parsed.DisplayName(),
		DocumentNumber: parsed.DocumentNumber,
		DocumentType:   parsed.DocumentType,
		Role:           parsed.Role,
		LifecycleState: types.StateActive,
	})
	if err != nil {
		return Resolution{}, err
	}

	entry := r.log.WithFields(logrus.Fields{
		"identity_id":     ident.ID,
		"document_number": ident.DocumentNumber,
		"confidence":      parsed.Confidence,
	})
	if created {
		entry.Info("identity auto-provisioned from scan")
	} else {
		entry.Debug("auto-provision lost race, using existing identity")
	}

	return Resolution{
		Identity:        ident,
		AutoProvisioned: created,
		Strategy:        StrategyAutoProvision,
		Confidence:      parsed.Confidence,
	}, nil
}

func (r *Resolver) resolveVisitorToken(ctx context.Context, token string) (Resolution, error) {
	cred, err := r.credentials.FindCredentialByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return Resolution{}, ErrUnresolvable
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup visitor token: %w", err)
	}

	switch cred.Status {
	case types.CredentialExpired:
		return Resolution{}, ErrCredentialExpired
	case types.CredentialRevoked:
		return Resolution{}, ErrCredentialRevoked
	}

	now := r.clock.Now()
	if cred.IsExpired(now) {
		if _, err := r.expirer.Expire(ctx, cred, now); err != nil {
			return Resolution{}, err
		}
		return Resolution{}, ErrCredentialExpired
	}

	ident, err := r.identities.GetIdentity(ctx, cred.IdentityID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.WithField("credential_id", cred.ID).Warn("visitor credential has no identity")
		return Resolution{}, ErrUnresolvable
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load visitor identity: %w", err)
	}
	return Resolution{
		Identity:   ident,
		Strategy:   StrategyVisitorToken,
		Confidence: extract.ConfidenceHigh,
		Credential: &cred,
	}, nil
}
