package commands

import (
	"encoding/json"
	"errors"
	"time"
)

// State is the lifecycle state of a queued command.
type State string

const (
	StateQueued       State = "queued"
	StateDelivered    State = "delivered"
	StateAcknowledged State = "acknowledged"
	StateExpired      State = "expired"
)

var (
	// ErrEmptyFlightID is returned when a command has no flight.
	ErrEmptyFlightID = errors.New("commands: empty flight id")
	// ErrEmptyName is returned when a command has no name.
	ErrEmptyName = errors.New("commands: empty command name")
	// ErrInvalidArgs is returned when args are not valid JSON.
	ErrInvalidArgs = errors.New("commands: invalid args")
)

// Command is one instruction destined for a single flight's device.
type Command struct {
	ID          string          `json:"id"`
	FlightID    string          `json:"flightId"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args,omitempty"`
	State       State           `json:"state"`
	CreatedAt   time.Time       `json:"createdAt"`
	DeliveredAt *time.Time      `json:"deliveredAt,omitempty"`
}

// Validate checks the fields required to enqueue a command.
func (c Command) Validate() error {
	if c.FlightID == "" {
		return ErrEmptyFlightID
	}
	if c.Name == "" {
		return ErrEmptyName
	}
	if len(c.Args) > 0 && !json.Valid(c.Args) {
		return ErrInvalidArgs
	}
	return nil
}

// Ref identifies a command in an acknowledgment. ID wins when set;
// otherwise the oldest unacknowledged command with Name matches.
type Ref struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Matches reports whether the ref identifies cmd.
func (r Ref) Matches(cmd Command) bool {
	if r.ID != "" {
		return r.ID == cmd.ID
	}
	return r.Name != "" && r.Name == cmd.Name
}

// Delivery is the wire shape handed to the device.
type Delivery struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToDelivery strips queue bookkeeping from a command.
func (c Command) ToDelivery() Delivery {
	return Delivery{ID: c.ID, Name: c.Name, Args: c.Args}
}

// Deliveries converts commands to their wire shape, never returning nil.
func Deliveries(cmds []Command) []Delivery {
	out := make([]Delivery, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, cmd.ToDelivery())
	}
	return out
}
