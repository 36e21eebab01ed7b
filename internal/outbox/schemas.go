package outbox

import "example.com/roster/internal/events"

// eventSchemas maps each roster event type to the JSON schema registered for it.
var eventSchemas = map[string]string{
	events.TypeParticipantEnrolled: rosterChangedSchema,
	events.TypeParticipantRemoved:  rosterChangedSchema,
}

const rosterChangedSchema = `{
  "type": "object",
  "title": "RosterChanged",
  "properties": {
    "event_id": {"type": "string"},
    "activity": {"type": "string"},
    "participant": {"type": "string"},
    "change": {"type": "string", "enum": ["enrolled", "removed"]},
    "roster_size": {"type": "integer", "minimum": 0},
    "capacity": {"type": "integer", "minimum": 1},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity", "participant", "change", "roster_size", "capacity", "occurred_at"],
  "additionalProperties": false
}`
