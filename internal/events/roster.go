// Package events defines the roster change payloads published to downstream consumers.
package events

import (
	"time"

	"github.com/google/uuid"

	"example.com/roster/internal/domain"
)

// Event types carried in the outbox event_type column and Kafka headers.
const (
	TypeParticipantEnrolled = "roster.participant_enrolled"
	TypeParticipantRemoved  = "roster.participant_removed"
)

// RosterChanged is emitted whenever a participant joins or leaves an activity.
type RosterChanged struct {
	EventID     string    `json:"event_id"`
	Activity    string    `json:"activity"`
	Participant string    `json:"participant"`
	Change      string    `json:"change"`
	RosterSize  int       `json:"roster_size"`
	Capacity    int       `json:"capacity"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// FromChange builds the payload for a roster change and returns it with its event type.
func FromChange(change domain.RosterChange) (string, RosterChanged) {
	eventType := TypeParticipantEnrolled
	if change.Kind == domain.ChangeRemoved {
		eventType = TypeParticipantRemoved
	}
	return eventType, RosterChanged{
		EventID:     uuid.NewString(),
		Activity:    change.Activity,
		Participant: change.Participant,
		Change:      string(change.Kind),
		RosterSize:  change.Roster,
		Capacity:    change.Capacity,
		OccurredAt:  change.OccurredAt.UTC(),
	}
}
