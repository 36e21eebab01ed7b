package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"example.com/roster/internal/events"
	"example.com/roster/internal/logging"
)

// LogHandler decodes roster events and writes them to a logger. It is used
// when no audit database is configured.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler constructs a LogHandler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logging.OrNop(logger)}
}

// Handle decodes the payload and logs the roster change. An undecodable
// payload is a permanent failure.
func (h *LogHandler) Handle(_ context.Context, msg Message) error {
	var change events.RosterChanged
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", msg.EventType, err))
	}
	h.logger.Info("roster event",
		zap.String("event_type", msg.EventType),
		zap.String("event_id", change.EventID),
		zap.String("activity", change.Activity),
		zap.String("participant", change.Participant),
		zap.Int("roster_size", change.RosterSize),
		zap.Int("capacity", change.Capacity),
	)
	return nil
}
