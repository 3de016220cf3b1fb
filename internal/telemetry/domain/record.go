package telemetry

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrEmptyFlightID is returned when a record has no flight.
	ErrEmptyFlightID = errors.New("telemetry: empty flight id")
	// ErrEmptyBatch is returned when an ingest carries no records.
	ErrEmptyBatch = errors.New("telemetry: empty batch")
	// ErrInvalidData is returned when record data is not a JSON object.
	ErrInvalidData = errors.New("telemetry: data must be a json object")
)

// Record is one telemetry sample. Sent is the device clock and Received the
// server clock at ingest, both in epoch milliseconds. Data is opaque.
type Record struct {
	FlightID string          `json:"flightId"`
	Sent     int64           `json:"sent"`
	Received int64           `json:"received"`
	Data     json.RawMessage `json:"data"`
}

// Validate checks the fields a stored record must carry.
func (r Record) Validate() error {
	if r.FlightID == "" {
		return ErrEmptyFlightID
	}
	if len(r.Data) == 0 || r.Data[0] != '{' || !json.Valid(r.Data) {
		return ErrInvalidData
	}
	return nil
}

// Repository persists telemetry records.
type Repository interface {
	// Append stores the batch atomically, in order.
	Append(ctx context.Context, records []Record) error
	// ListByFlight returns up to limit records of a flight in insertion order.
	ListByFlight(ctx context.Context, flightID string, limit int) ([]Record, error)
}
