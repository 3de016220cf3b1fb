package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	telemetry "groundcontrol/internal/telemetry/domain"
	telemetrypostgres "groundcontrol/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestFlightLogs_AppendListOrder(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "flight_logs") {
		t.Skip("flight_logs missing; run migrations")
	}

	ctx := context.Background()
	flightID := fmt.Sprintf("flight-it-%d", time.Now().UnixNano())
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM flight_logs WHERE flight_id = $1`, flightID)
	}()

	repo := telemetrypostgres.NewLogRepository(db)
	const batches = 20
	const perBatch = 50

	insertStart := time.Now()
	for b := 0; b < batches; b++ {
		records := make([]telemetry.Record, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			seq := b*perBatch + i
			records = append(records, telemetry.Record{
				FlightID: flightID,
				// Sent deliberately runs backwards; order must follow insertion.
				Sent:     int64(1_000_000 - seq),
				Received: time.Now().UnixMilli(),
				Data:     json.RawMessage(fmt.Sprintf(`{"seq":%d}`, seq)),
			})
		}
		if err := repo.Append(ctx, records); err != nil {
			t.Fatalf("append batch %d: %v", b, err)
		}
	}
	insertElapsed := time.Since(insertStart)

	queryStart := time.Now()
	stored, err := repo.ListByFlight(ctx, flightID, batches*perBatch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	queryElapsed := time.Since(queryStart)

	if len(stored) != batches*perBatch {
		t.Fatalf("expected %d records, got %d", batches*perBatch, len(stored))
	}
	for i, record := range stored {
		var data struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(record.Data, &data); err != nil {
			t.Fatalf("record %d data: %v", i, err)
		}
		if data.Seq != i {
			t.Fatalf("record %d out of order: seq=%d", i, data.Seq)
		}
	}

	t.Logf("perf insert rows=%d elapsed=%s", batches*perBatch, insertElapsed)
	t.Logf("perf list rows=%d elapsed=%s", len(stored), queryElapsed)
}

func TestFlightLogs_FailedBatchIsAtomic(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "flight_logs") {
		t.Skip("flight_logs missing; run migrations")
	}

	ctx := context.Background()
	flightID := fmt.Sprintf("flight-atomic-%d", time.Now().UnixNano())
	repo := telemetrypostgres.NewLogRepository(db)

	err = repo.Append(ctx, []telemetry.Record{
		{FlightID: flightID, Sent: 1, Received: 2, Data: json.RawMessage(`{"ok":true}`)},
		{FlightID: "", Sent: 1, Received: 2, Data: json.RawMessage(`{"ok":false}`)},
	})
	if err == nil {
		t.Fatalf("expected batch with invalid record to fail")
	}
	stored, err := repo.ListByFlight(ctx, flightID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected rollback, found %d records", len(stored))
	}
}

func TestFlightLogs_CustomTable(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "flight_logs") {
		t.Skip("flight_logs missing; run migrations")
	}

	ctx := context.Background()
	table := fmt.Sprintf("flight_logs_it_%d", time.Now().UnixNano())
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (LIKE flight_logs INCLUDING ALL)`, table)); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))
	}()

	repo := telemetrypostgres.NewLogRepository(db, telemetrypostgres.WithTable(table))
	if err := repo.Append(ctx, []telemetry.Record{
		{FlightID: "F", Sent: 1, Received: 2, Data: json.RawMessage(`{"a":1}`)},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE flight_id = 'F'`, table)).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row in %s, got %d", table, count)
	}
	stored, err := repo.ListByFlight(ctx, "F", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || stored[0].Sent != 1 {
		t.Fatalf("unexpected stored records: %+v", stored)
	}
}
