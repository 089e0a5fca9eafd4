package store

import (
	"context"
	"errors"

	"github.com/campusgate/server/internal/gate/types"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrTokenConflict is returned when a credential token is already taken.
	ErrTokenConflict = errors.New("store: credential token already in use")

	// ErrConflict is returned when a row needed for a read-decide-write is
	// locked by another transaction.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// IdentityStore persists Identity records. Document numbers and credential
// tokens are unique.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (types.Identity, error)
	FindByToken(ctx context.Context, token string) (types.Identity, error)
	FindByDocument(ctx context.Context, documentNumber string) (types.Identity, error)

	// UpsertByDocument inserts ident unless an identity with the same document
	// number already exists, in which case the stored row is returned and
	// created is false. It never pre-checks: the unique constraint decides.
	// A taken CredentialToken yields ErrTokenConflict.
	UpsertByDocument(ctx context.Context, ident types.Identity) (out types.Identity, created bool, err error)

	SetCredentialToken(ctx context.Context, id, token string) error
	SetLifecycleState(ctx context.Context, id string, state types.LifecycleState) error
}

// Store bundles the three record stores a gate deployment needs.
type Store interface {
	IdentityStore
	AccessEventStore
	CredentialStore
}
