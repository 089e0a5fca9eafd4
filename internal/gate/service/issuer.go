package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/extract"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

// maxTokenAttempts bounds regeneration after token uniqueness collisions.
const maxTokenAttempts = 5

// MintMemberToken formats MEMBER-<epochMillis>-<documentNumber>[-<suffix>].
// Printed codes depend on this exact layout.
func MintMemberToken(at time.Time, documentNumber, suffix string) string {
	token := "MEMBER-" + strconv.FormatInt(at.UnixMilli(), 10) + "-" + documentNumber
	if suffix != "" {
		token += "-" + suffix
	}
	return token
}

// MintVisitorToken formats VISITOR_<documentNumber>_<epochMillis>.
func MintVisitorToken(documentNumber string, epochMillis int64) string {
	return "VISITOR_" + documentNumber + "_" + strconv.FormatInt(epochMillis, 10)
}

// randomSuffix returns 8 uppercase hex characters from a random uuid.
func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type Issuer struct {
	identities  store.IdentityStore
	credentials store.CredentialStore
	clock       Clock
	log         logrus.FieldLogger

	newSuffix func() string
}

func NewIssuer(identities store.IdentityStore, credentials store.CredentialStore, clock Clock, log logrus.FieldLogger) *Issuer {
	if clock == nil {
		clock = SystemClock()
	}
	return &Issuer{
		identities:  identities,
		credentials: credentials,
		clock:       clock,
		log:         orNop(log),
		newSuffix:   randomSuffix,
	}
}

// IssueMemberToken mints a fresh member token for an existing identity and
// stores it, replacing the previous one.
func (i *Issuer) IssueMemberToken(ctx context.Context, identityID string) (string, error) {
	ident, err := i.getIdentity(ctx, identityID)
	if err != nil {
		return "", err
	}

	now := i.clock.Now()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token := MintMemberToken(now, ident.DocumentNumber, i.suffixFor(attempt))
		err := i.identities.SetCredentialToken(ctx, ident.ID, token)
		if errors.Is(err, store.ErrTokenConflict) {
			i.log.WithFields(logrus.Fields{"identity_id": ident.ID, "attempt": attempt + 1}).
				Warn("member token collision, regenerating")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store member token: %w", err)
		}
		i.log.WithField("identity_id", ident.ID).Info("member token issued")
		return token, nil
	}
	return "", ErrTokenExhausted
}

// EnrollMember creates an enrolled member with a member token. An existing
// member with the same document number is returned unchanged.
func (i *Issuer) EnrollMember(ctx context.Context, m types.NewMember) (types.Identity, bool, error) {
	doc := extract.DigitsOnly(m.DocumentNumber)
	if doc == "" {
		return types.Identity{}, false, ErrInvalidDocument
	}

	ident := types.Identity{
		Kind:               types.KindMember,
		DisplayName:        strings.TrimSpace(m.DisplayName),
		DocumentNumber:     doc,
		DocumentType:       m.DocumentType,
		ProgramAffiliation: strings.TrimSpace(m.ProgramAffiliation),
		Role:               m.Role,
		LifecycleState:     m.LifecycleState,
	}
	if ident.DisplayName == "" {
		ident.DisplayName = extract.PlaceholderName
	}
	if ident.Role == "" || ident.Role == types.RoleVisitor {
		ident.Role = types.RoleTrainee
	}
	if ident.LifecycleState == "" {
		ident.LifecycleState = types.StateActive
	}
	return i.ProvisionMember(ctx, ident)
}

// ProvisionMember inserts a member identity keyed by document number with a
// freshly minted token in the same write. When another writer already owns
// the document number the stored identity is returned with created=false.
func (i *Issuer) ProvisionMember(ctx context.Context, ident types.Identity) (types.Identity, bool, error) {
	now := i.clock.Now()
	ident.Kind = types.KindMember
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	if ident.DocumentType == "" {
		ident.DocumentType = extract.DefaultDocumentType
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now.UTC()
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		ident.CredentialToken = MintMemberToken(now, ident.DocumentNumber, i.suffixFor(attempt))

		out, created, err := i.identities.UpsertByDocument(ctx, ident)
		if errors.Is(err, store.ErrTokenConflict) {
			i.log.WithFields(logrus.Fields{"document_number": ident.DocumentNumber, "attempt": attempt + 1}).
				Warn("member token collision during provisioning, regenerating")
			continue
		}
		if err != nil {
			return types.Identity{}, false, fmt.Errorf("provision member: %w", err)
		}
		return out, created, nil
	}
	return types.Identity{}, false, ErrTokenExhausted
}

// IssueVisitorToken persists an ACTIVE credential valid for validityMinutes.
func (i *Issuer) IssueVisitorToken(ctx context.Context, identityID string, validityMinutes int, issuedBy string) (types.VisitorPass, error) {
	if validityMinutes <= 0 {
		return types.VisitorPass{}, ErrInvalidValidity
	}
	ident, err := i.getIdentity(ctx, identityID)
	if err != nil {
		return types.VisitorPass{}, err
	}
	if ident.Kind != types.KindVisitor {
		return types.VisitorPass{}, ErrNotVisitor
	}

	// Millisecond precision so the stored times match the token exactly.
	now := i.clock.Now().UTC().Truncate(time.Millisecond)
	validity := time.Duration(validityMinutes) * time.Minute
	cred := types.VisitorCredential{
		IdentityID: ident.ID,
		Status:     types.CredentialActive,
		IssuedBy:   strings.TrimSpace(issuedBy),
	}

	// The visitor format has no suffix; a collision bumps the millisecond,
	// and IssuedAt moves with it.
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		issuedAt := now.Add(time.Duration(attempt) * time.Millisecond)
		cred.ID = uuid.NewString()
		cred.IssuedAt = issuedAt
		cred.ExpiresAt = issuedAt.Add(validity)
		cred.Token = MintVisitorToken(ident.DocumentNumber, issuedAt.UnixMilli())

		err := i.credentials.CreateCredential(ctx, cred)
		if errors.Is(err, store.ErrTokenConflict) {
			continue
		}
		if err != nil {
			return types.VisitorPass{}, fmt.Errorf("store visitor credential: %w", err)
		}

		i.log.WithFields(logrus.Fields{
			"identity_id":   ident.ID,
			"credential_id": cred.ID,
			"expires_at":    cred.ExpiresAt.Format(time.RFC3339),
		}).Info("visitor credential issued")

		return types.VisitorPass{
			Identity:   ident,
			Credential: cred,
			Token:      cred.Token,
			ExpiresAt:  cred.ExpiresAt,
		}, nil
	}
	return types.VisitorPass{}, ErrTokenExhausted
}

// RegisterVisitor upserts the visitor identity by document number and issues
// a credential for it.
func (i *Issuer) RegisterVisitor(ctx context.Context, v types.NewVisitor) (types.VisitorPass, error) {
	if v.ValidityMinutes <= 0 {
		return types.VisitorPass{}, ErrInvalidValidity
	}
	doc := extract.DigitsOnly(v.DocumentNumber)
	if doc == "" {
		return types.VisitorPass{}, ErrInvalidDocument
	}

	ident := types.Identity{
		ID:             uuid.NewString(),
		Kind:           types.KindVisitor,
		DisplayName:    strings.TrimSpace(v.DisplayName),
		DocumentNumber: doc,
		DocumentType:   v.DocumentType,
		Role:           types.RoleVisitor,
		LifecycleState: types.StateActive,
		CreatedAt:      i.clock.Now().UTC(),
	}
	if ident.DisplayName == "" {
		ident.DisplayName = "Visitor " + doc
	}
	if ident.DocumentType == "" {
		ident.DocumentType = extract.DefaultDocumentType
	}

	stored, _, err := i.identities.UpsertByDocument(ctx, ident)
	if err != nil {
		return types.VisitorPass{}, fmt.Errorf("register visitor: %w", err)
	}
	return i.IssueVisitorToken(ctx, stored.ID, v.ValidityMinutes, v.IssuedBy)
}

// RevokeVisitorCredential moves an ACTIVE credential to REVOKED. Revoking an
// already revoked credential is a no-op; an expired one cannot be revoked.
func (i *Issuer) RevokeVisitorCredential(ctx context.Context, credentialID string) error {
	changed, err := i.credentials.TransitionStatus(ctx, credentialID, types.CredentialActive, types.CredentialRevoked)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCredentialNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if changed {
		i.log.WithField("credential_id", credentialID).Info("visitor credential revoked")
		return nil
	}

	cred, err := i.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if cred.Status == types.CredentialExpired {
		return ErrCredentialExpired
	}
	return nil
}

func (i *Issuer) getIdentity(ctx context.Context, identityID string) (types.Identity, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return types.Identity{}, ErrInvalidIdentityID
	}
	ident, err := i.identities.GetIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return types.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	return ident, nil
}

func (i *Issuer) suffixFor(attempt int) string {
	if attempt == 0 {
		return ""
	}
	return i.newSuffix()
}
