package types

import "time"

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "ACTIVE"
	CredentialExpired CredentialStatus = "EXPIRED"
	CredentialRevoked CredentialStatus = "REVOKED"
)

type VisitorCredential struct {
	ID         string           `json:"id"`
	IdentityID string           `json:"identity_id"`
	Token      string           `json:"token"`
	IssuedAt   time.Time        `json:"issued_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	Status     CredentialStatus `json:"status"`
	IssuedBy   string           `json:"issued_by,omitempty"`
	// WarnedAt is set once an expiry warning has been claimed for this
	// credential, so the warning is raised at most once across restarts.
	WarnedAt *time.Time `json:"warned_at,omitempty"`
}

// IsExpired reports whether the credential's validity window has ended at now.
func (c VisitorCredential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NewMember is the enrollment input for a member identity.
type NewMember struct {
	DisplayName        string         `json:"display_name"`
	DocumentNumber     string         `json:"document_number"`
	DocumentType       string         `json:"document_type,omitempty"`
	ProgramAffiliation string         `json:"program_affiliation,omitempty"`
	Role               Role           `json:"role,omitempty"`
	LifecycleState     LifecycleState `json:"lifecycle_state,omitempty"`
}

// NewVisitor is the registration input for a visitor identity.
type NewVisitor struct {
	DisplayName     string `json:"display_name"`
	DocumentNumber  string `json:"document_number"`
	DocumentType    string `json:"document_type,omitempty"`
	ValidityMinutes int    `json:"validity_minutes"`
	IssuedBy        string `json:"issued_by,omitempty"`
}

// VisitorPass is what the issuer hands back for a visitor credential.
type VisitorPass struct {
	Identity   Identity          `json:"identity"`
	Credential VisitorCredential `json:"credential"`
	Token      string            `json:"token"`
	ExpiresAt  time.Time         `json:"expires_at"`
}
