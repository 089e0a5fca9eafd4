package service

import (
	"time"

	"github.com/campusgate/server/internal/gate/types"
)

// PresenceOf maps an identity's latest event to its occupancy state.
// OUTSIDE is the initial state; ENTRY moves to INSIDE, EXIT back to OUTSIDE.
func PresenceOf(last *types.AccessEvent) types.Presence {
	if last != nil && last.Direction == types.DirectionEntry {
		return types.Inside
	}
	return types.Outside
}

// NextDirection is the only place the gate decides ENTRY vs EXIT: it always
// flips the latest observed state, so two consecutive events of the same
// direction cannot be produced.
func NextDirection(last *types.AccessEvent) types.Direction {
	if PresenceOf(last) == types.Inside {
		return types.DirectionExit
	}
	return types.DirectionEntry
}

// nextOccurredAt keeps a new event from sorting before the latest one when
// clocks of different instances disagree.
func nextOccurredAt(now time.Time, last *types.AccessEvent) time.Time {
	now = now.UTC()
	if last != nil && last.OccurredAt.After(now) {
		return last.OccurredAt
	}
	return now
}
