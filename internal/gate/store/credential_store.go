package store

import (
	"context"
	"time"

	"github.com/campusgate/server/internal/gate/types"
)

// CredentialStore persists visitor credentials.
type CredentialStore interface {
	// CreateCredential returns ErrTokenConflict when the token is taken.
	CreateCredential(ctx context.Context, cred types.VisitorCredential) error
	GetCredential(ctx context.Context, id string) (types.VisitorCredential, error)
	FindCredentialByToken(ctx context.Context, token string) (types.VisitorCredential, error)

	// TransitionStatus moves the credential from one status to another only
	// if it is still in from. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id string, from, to types.CredentialStatus) (bool, error)

	// ListActiveExpired returns ACTIVE credentials with ExpiresAt <= now.
	ListActiveExpired(ctx context.Context, now time.Time) ([]types.VisitorCredential, error)

	// ActiveCredentials returns the identity's ACTIVE credentials, newest
	// first, regardless of ExpiresAt.
	ActiveCredentials(ctx context.Context, identityID string) ([]types.VisitorCredential, error)

	// ClaimExpiryWarnings marks every ACTIVE, unwarned credential with
	// now < ExpiresAt <= until as warned at now and returns the claimed rows.
	ClaimExpiryWarnings(ctx context.Context, now, until time.Time) ([]types.VisitorCredential, error)
}
