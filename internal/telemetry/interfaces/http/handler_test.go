package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	telemetryapp "groundcontrol/internal/telemetry/application"
	telemetry "groundcontrol/internal/telemetry/domain"
	"groundcontrol/internal/telemetry/infrastructure/memory"
)

type countingBroadcaster struct {
	batches int
	records int
}

func (b *countingBroadcaster) Broadcast(records []telemetry.Record) {
	b.batches++
	b.records += len(records)
}

type brokenRepo struct{}

func (brokenRepo) Append(context.Context, []telemetry.Record) error {
	return errors.New("disk full")
}

func (brokenRepo) ListByFlight(context.Context, string, int) ([]telemetry.Record, error) {
	return nil, errors.New("disk full")
}

func newMux(t *testing.T, repo telemetry.Repository) (*http.ServeMux, *countingBroadcaster) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	broadcaster := &countingBroadcaster{}
	svc, err := telemetryapp.NewIngestService(repo, broadcaster, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(svc, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, broadcaster
}

func do(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	return resp
}

func TestIngest_FlatRecord(t *testing.T) {
	repo := memory.NewLogRepository()
	mux, broadcaster := newMux(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/flights/F/logs",
		strings.NewReader(`{"sent":1700000000000,"altitude":120.5,"received":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp := do(mux, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	stored, _ := repo.ListByFlight(context.Background(), "F", 0)
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(stored))
	}
	if stored[0].Sent != 1700000000000 || stored[0].Received == 1 {
		t.Fatalf("unexpected timestamps: %+v", stored[0])
	}
	var data map[string]any
	if err := json.Unmarshal(stored[0].Data, &data); err != nil {
		t.Fatalf("data not json: %v", err)
	}
	if _, ok := data["sent"]; ok {
		t.Fatalf("expected sent stripped from data")
	}
	if data["altitude"] != 120.5 {
		t.Fatalf("expected altitude in data, got %v", data)
	}
	if broadcaster.batches != 1 {
		t.Fatalf("expected 1 broadcast, got %d", broadcaster.batches)
	}
}

func TestIngest_CBORBatch(t *testing.T) {
	repo := memory.NewLogRepository()
	mux, broadcaster := newMux(t, repo)

	payload, err := cbor.Marshal([]map[string]any{
		{"sent": 1, "data": map[string]any{"roll": 1}},
		{"sent": 2, "data": map[string]any{"roll": 2}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/flights/F/logs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/cbor")
	resp := do(mux, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body ingestResponse
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", body.Inserted)
	}
	if broadcaster.batches != 1 || broadcaster.records != 2 {
		t.Fatalf("expected one broadcast of 2 records, got %d/%d", broadcaster.batches, broadcaster.records)
	}
	stored, _ := repo.ListByFlight(context.Background(), "F", 0)
	if string(stored[1].Data) != `{"roll":2}` {
		t.Fatalf("expected nested data kept, got %s", stored[1].Data)
	}
}

func TestIngest_MissingSent(t *testing.T) {
	mux, broadcaster := newMux(t, memory.NewLogRepository())

	req := httptest.NewRequest(http.MethodPost, "/api/flights/F/logs", strings.NewReader(`[{"altitude":1}]`))
	resp := do(mux, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if broadcaster.batches != 0 {
		t.Fatalf("expected no broadcast")
	}
}

func TestIngest_StorageFailure(t *testing.T) {
	mux, broadcaster := newMux(t, brokenRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/flights/F/logs", strings.NewReader(`{"sent":1,"altitude":1}`))
	resp := do(mux, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "internal server error") {
		t.Fatalf("expected generic error, got %s", resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "disk full") {
		t.Fatalf("storage detail leaked to client")
	}
	if broadcaster.batches != 0 {
		t.Fatalf("expected no broadcast after storage failure")
	}
}

func TestList_AndCSVExport(t *testing.T) {
	repo := memory.NewLogRepository()
	_ = repo.Append(context.Background(), []telemetry.Record{
		{FlightID: "F", Sent: 1000, Received: 1250, Data: json.RawMessage(`{"a":1}`)},
		{FlightID: "F", Sent: 2000, Received: 2100, Data: json.RawMessage(`{"a":2}`)},
		{FlightID: "G", Sent: 3000, Received: 3100, Data: json.RawMessage(`{"a":3}`)},
	})
	mux, _ := newMux(t, repo)

	resp := do(mux, httptest.NewRequest(http.MethodGet, "/api/flights/F/logs", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var records []telemetry.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[0].Sent != 1000 {
		t.Fatalf("unexpected records: %+v", records)
	}

	resp = do(mux, httptest.NewRequest(http.MethodGet, "/api/flights/F/logs/export.csv", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][3] != "250" || rows[1][4] != `{"a":1}` {
		t.Fatalf("unexpected csv row: %v", rows[1])
	}

	resp = do(mux, httptest.NewRequest(http.MethodGet, "/api/flights/F/logs?limit=0", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.Code)
	}
}

func TestExport_BinaryFormats(t *testing.T) {
	records := []telemetry.Record{{FlightID: "F", Sent: 1000, Received: 1100, Data: json.RawMessage(`{"a":1}`)}}

	pdf, err := BuildLogsPDF("F", records)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("expected pdf header")
	}
	xlsx, err := BuildLogsXLSX("F", records)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	if !bytes.HasPrefix(xlsx, []byte("PK")) {
		t.Fatalf("expected zip container")
	}
}
