package types

import "time"

type IdentityKind string

const (
	KindMember  IdentityKind = "ENROLLED_MEMBER"
	KindVisitor IdentityKind = "VISITOR"
)

type LifecycleState string

const (
	StateActive                LifecycleState = "ACTIVE"
	StateSuspended             LifecycleState = "SUSPENDED"
	StateInTraining            LifecycleState = "IN_TRAINING"
	StateAwaitingCertification LifecycleState = "AWAITING_CERTIFICATION"
	StateCertified             LifecycleState = "CERTIFIED"
	StateWithdrawn             LifecycleState = "WITHDRAWN"
)

// DefaultAllowedStates are the lifecycle states that may pass the gate.
var DefaultAllowedStates = []LifecycleState{
	StateActive,
	StateInTraining,
	StateAwaitingCertification,
	StateCertified,
}

// Role is the member subtype used to bucket occupancy.
type Role string

const (
	RoleTrainee    Role = "TRAINEE"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStaff      Role = "STAFF"
	RoleVisitor    Role = "VISITOR"
)

// Categories lists every occupancy bucket, in display order.
var Categories = []Role{RoleTrainee, RoleInstructor, RoleStaff, RoleVisitor}

type Identity struct {
	ID                 string         `json:"id"`
	Kind               IdentityKind   `json:"kind"`
	DisplayName        string         `json:"display_name"`
	DocumentNumber     string         `json:"document_number"`
	DocumentType       string         `json:"document_type"`
	ProgramAffiliation string         `json:"program_affiliation,omitempty"`
	Role               Role           `json:"role"`
	LifecycleState     LifecycleState `json:"lifecycle_state"`
	CredentialToken    string         `json:"credential_token,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Category is the occupancy bucket the identity counts towards.
func (i Identity) Category() Role {
	if i.Kind == KindVisitor {
		return RoleVisitor
	}
	if i.Role == "" {
		return RoleTrainee
	}
	return i.Role
}
