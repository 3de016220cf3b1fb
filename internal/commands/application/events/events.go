package events

import (
	"time"

	commands "groundcontrol/internal/commands/domain"
)

// CommandsEnqueued is emitted once per enqueue batch.
type CommandsEnqueued struct {
	EventID    string              `json:"event_id"`
	FlightID   string              `json:"flight_id"`
	Commands   []commands.Delivery `json:"commands"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// CommandsAcknowledged is emitted once per acknowledgment batch from the device.
type CommandsAcknowledged struct {
	EventID    string              `json:"event_id"`
	FlightID   string              `json:"flight_id"`
	Commands   []commands.Delivery `json:"commands"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Contains reports whether the batch acknowledges the command id.
func (e CommandsAcknowledged) Contains(commandID string) bool {
	for _, cmd := range e.Commands {
		if cmd.ID == commandID {
			return true
		}
	}
	return false
}
