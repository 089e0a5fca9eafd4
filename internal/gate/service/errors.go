package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnresolvable       = errors.New("no identity could be determined from the scanned payload")
	ErrAccessDenied       = errors.New("access denied")
	ErrCredentialExpired  = errors.New("visitor credential expired")
	ErrCredentialRevoked  = errors.New("visitor credential revoked")
	ErrConcurrentConflict = errors.New("concurrent scan of the same identity")

	ErrIdentityNotFound   = errors.New("identity not found")
	ErrCredentialNotFound = errors.New("visitor credential not found")
	ErrInvalidIdentityID  = errors.New("identity_id is required")
	ErrInvalidDocument    = errors.New("document_number must contain digits")
	ErrInvalidValidity    = errors.New("validity_minutes must be greater than zero")
	ErrNotVisitor         = errors.New("identity is not a visitor")
	ErrTokenExhausted     = errors.New("could not mint a unique credential token")
)

// Denial reasons that are not lifecycle states.
const ReasonNoActiveCredential = "NO_ACTIVE_CREDENTIAL"

// DeniedError is returned when an identity was found but may not pass.
// Reason is the identity's lifecycle state or one of the Reason constants.
type DeniedError struct {
	IdentityID string
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied for identity %s: %s", e.IdentityID, e.Reason)
}

func (e *DeniedError) Is(target error) bool { return target == ErrAccessDenied }
