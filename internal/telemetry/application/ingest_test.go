package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	telemetry "groundcontrol/internal/telemetry/domain"
	"groundcontrol/internal/telemetry/infrastructure/memory"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, []telemetry.Record) error {
	return errors.New("connection refused")
}

func (failingRepo) ListByFlight(context.Context, string, int) ([]telemetry.Record, error) {
	return nil, errors.New("connection refused")
}

type recordingBroadcaster struct {
	batches [][]telemetry.Record
}

func (b *recordingBroadcaster) Broadcast(records []telemetry.Record) {
	b.batches = append(b.batches, records)
}

func newRecords(sent ...int64) []telemetry.Record {
	records := make([]telemetry.Record, 0, len(sent))
	for _, s := range sent {
		records = append(records, telemetry.Record{Sent: s, Data: json.RawMessage(`{"pitch":1.5}`)})
	}
	return records
}

func TestIngest_StoresThenBroadcastsOnce(t *testing.T) {
	repo := memory.NewLogRepository()
	broadcaster := &recordingBroadcaster{}
	svc, err := NewIngestService(repo, broadcaster, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	received := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return received }

	batch, err := svc.Ingest(context.Background(), "F", newRecords(3, 1, 2))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(broadcaster.batches) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(broadcaster.batches))
	}
	sent := broadcaster.batches[0]
	if len(sent) != 3 || sent[0].Sent != 3 || sent[1].Sent != 1 || sent[2].Sent != 2 {
		t.Fatalf("expected insertion order kept, got %+v", sent)
	}
	for _, record := range batch {
		if record.FlightID != "F" || record.Received != received.UnixMilli() {
			t.Fatalf("expected stamped record, got %+v", record)
		}
	}

	stored, err := svc.List(context.Background(), "F", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored, got %d", len(stored))
	}
}

func TestIngest_StorageFailureSkipsBroadcast(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	svc, err := NewIngestService(failingRepo{}, broadcaster, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.Ingest(context.Background(), "F", newRecords(1)); err == nil {
		t.Fatalf("expected storage error")
	}
	if len(broadcaster.batches) != 0 {
		t.Fatalf("expected no broadcast after storage failure, got %d", len(broadcaster.batches))
	}
}

func TestIngest_RejectsInvalidBatch(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	svc, err := NewIngestService(memory.NewLogRepository(), broadcaster, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.Ingest(context.Background(), "F", nil); !errors.Is(err, telemetry.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	bad := []telemetry.Record{{Sent: 1, Data: json.RawMessage(`[1,2]`)}}
	if _, err := svc.Ingest(context.Background(), "F", bad); !errors.Is(err, telemetry.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
	if len(broadcaster.batches) != 0 {
		t.Fatalf("expected no broadcast for rejected batches")
	}
}
