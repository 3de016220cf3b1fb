package flights

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a flight does not exist.
	ErrNotFound = errors.New("flights: not found")
	// ErrEmptyID is returned when a flight has no id.
	ErrEmptyID = errors.New("flights: empty id")
)

// Flight is one tracked flight. Its id is the subject of the device token.
type Flight struct {
	ID        string    `json:"flightId"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks flight invariants.
func (f Flight) Validate() error {
	if f.ID == "" {
		return ErrEmptyID
	}
	if f.CreatedAt.IsZero() {
		return errors.New("flights: empty created at")
	}
	return nil
}

// Repository manages flight persistence.
type Repository interface {
	Save(ctx context.Context, flight Flight) error
	Get(ctx context.Context, id string) (*Flight, error)
	List(ctx context.Context, limit int) ([]Flight, error)
}
