package memory

import (
	"context"
	"sync"

	telemetry "groundcontrol/internal/telemetry/domain"
)

// LogRepository keeps telemetry records in memory. It backs the service when
// no database is configured.
type LogRepository struct {
	mu      sync.RWMutex
	records map[string][]telemetry.Record
}

// NewLogRepository constructs an empty repository.
func NewLogRepository() *LogRepository {
	return &LogRepository{records: make(map[string][]telemetry.Record)}
}

// Append stores the batch.
func (r *LogRepository) Append(_ context.Context, records []telemetry.Record) error {
	for _, record := range records {
		if record.FlightID == "" {
			return telemetry.ErrEmptyFlightID
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range records {
		r.records[record.FlightID] = append(r.records[record.FlightID], record)
	}
	return nil
}

// ListByFlight returns up to limit records of a flight in insertion order.
func (r *LogRepository) ListByFlight(_ context.Context, flightID string, limit int) ([]telemetry.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.records[flightID]
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	return append([]telemetry.Record{}, stored...), nil
}
