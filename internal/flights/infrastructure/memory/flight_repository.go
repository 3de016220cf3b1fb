package memory

import (
	"context"
	"sort"
	"sync"

	flights "groundcontrol/internal/flights/domain"
)

// FlightRepository keeps flights in memory.
type FlightRepository struct {
	mu      sync.RWMutex
	flights map[string]flights.Flight
}

// NewFlightRepository constructs an empty repository.
func NewFlightRepository() *FlightRepository {
	return &FlightRepository{flights: make(map[string]flights.Flight)}
}

// Save stores a flight.
func (r *FlightRepository) Save(_ context.Context, flight flights.Flight) error {
	if err := flight.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.flights[flight.ID] = flight
	r.mu.Unlock()
	return nil
}

// Get loads a flight by id. It returns nil when the flight does not exist.
func (r *FlightRepository) Get(_ context.Context, id string) (*flights.Flight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flight, ok := r.flights[id]
	if !ok {
		return nil, nil
	}
	return &flight, nil
}

// List returns flights, newest first.
func (r *FlightRepository) List(_ context.Context, limit int) ([]flights.Flight, error) {
	r.mu.RLock()
	result := make([]flights.Flight, 0, len(r.flights))
	for _, flight := range r.flights {
		result = append(result, flight)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
