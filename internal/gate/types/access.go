package types

import "time"

type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

type RecordedVia string

const (
	ViaScan   RecordedVia = "scan"
	ViaManual RecordedVia = "manual"
	// ViaSystem marks events synthesized by the server, e.g. the closing
	// EXIT written when a visitor credential expires.
	ViaSystem RecordedVia = "system"
)

// Presence is the per-identity occupancy state derived from the latest event.
type Presence string

const (
	Outside Presence = "OUTSIDE"
	Inside  Presence = "INSIDE"
)

type AccessEvent struct {
	ID            int64       `json:"id"`
	IdentityID    string      `json:"identity_id"`
	Direction     Direction   `json:"direction"`
	OccurredAt    time.Time   `json:"occurred_at"`
	RecordedVia   RecordedVia `json:"recorded_via"`
	LocationLabel string      `json:"location_label,omitempty"`
}

// ScanRequest is the input to the recorder. DirectionHint is accepted for
// compatibility with older clients and never used to pick the direction.
type ScanRequest struct {
	IdentityID    string      `json:"identity_id"`
	LocationLabel string      `json:"location_label,omitempty"`
	Via           RecordedVia `json:"via,omitempty"`
	DirectionHint Direction   `json:"direction,omitempty"`
}

// Write outcomes reported back to scanning clients. A client shows a scan as
// pending until it receives StatusConfirmed.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

type ScanOutcome struct {
	Status    string      `json:"status"`
	Direction Direction   `json:"direction"`
	Presence  Presence    `json:"presence"`
	Event     AccessEvent `json:"event"`
}
