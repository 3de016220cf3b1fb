package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"groundcontrol/internal/observability/metrics"
	telemetry "groundcontrol/internal/telemetry/domain"
)

// Broadcaster pushes persisted records to connected live viewers.
type Broadcaster interface {
	Broadcast(records []telemetry.Record)
}

// IngestService persists telemetry batches and fans them out.
type IngestService struct {
	repo        telemetry.Repository
	broadcaster Broadcaster
	logger      *log.Logger
	now         func() time.Time
}

// NewIngestService constructs an ingest service.
func NewIngestService(repo telemetry.Repository, broadcaster Broadcaster, logger *log.Logger) (*IngestService, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if broadcaster == nil {
		return nil, errors.New("telemetry ingest: nil broadcaster")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestService{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Ingest stamps the batch with the flight and the server receive time,
// appends it to storage and broadcasts exactly the stored batch. Nothing is
// broadcast when storage fails.
func (s *IngestService) Ingest(ctx context.Context, flightID string, records []telemetry.Record) ([]telemetry.Record, error) {
	start := time.Now()
	if flightID == "" {
		return nil, telemetry.ErrEmptyFlightID
	}
	if len(records) == 0 {
		return nil, telemetry.ErrEmptyBatch
	}

	received := s.now().UnixMilli()
	batch := make([]telemetry.Record, len(records))
	for i, record := range records {
		record.FlightID = flightID
		record.Received = received
		if err := record.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		batch[i] = record
	}

	if err := s.repo.Append(ctx, batch); err != nil {
		metrics.ObserveIngest(metrics.ResultError, len(batch), time.Since(start))
		return nil, fmt.Errorf("telemetry ingest: append: %w", err)
	}
	metrics.ObserveIngest(metrics.ResultSuccess, len(batch), time.Since(start))

	s.broadcaster.Broadcast(batch)
	return batch, nil
}

// List returns stored records of a flight.
func (s *IngestService) List(ctx context.Context, flightID string, limit int) ([]telemetry.Record, error) {
	if flightID == "" {
		return nil, telemetry.ErrEmptyFlightID
	}
	return s.repo.ListByFlight(ctx, flightID, limit)
}
