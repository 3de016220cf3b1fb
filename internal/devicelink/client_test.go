package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groundcontrol/internal/auth"
	commandsapp "groundcontrol/internal/commands/application"
	commands "groundcontrol/internal/commands/domain"
	commandshttp "groundcontrol/internal/commands/interfaces/http"
	"groundcontrol/internal/eventing"
	telemetryapp "groundcontrol/internal/telemetry/application"
	telemetry "groundcontrol/internal/telemetry/domain"
	"groundcontrol/internal/telemetry/infrastructure/memory"
	telemetryhttp "groundcontrol/internal/telemetry/interfaces/http"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast([]telemetry.Record) {}

var secret = []byte("devicelink-secret")

func newServer(t *testing.T) (*httptest.Server, *commandsapp.Service, *memory.LogRepository) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	svc, err := commandsapp.NewService(commandsapp.NewQueue(), eventing.NewInMemoryBus(),
		commandsapp.WithPollTimeout(100*time.Millisecond),
		commandsapp.WithAckTimeout(2*time.Second),
		commandsapp.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("commands service: %v", err)
	}
	cmdHandler, err := commandshttp.NewHandler(svc, nil, logger)
	if err != nil {
		t.Fatalf("commands handler: %v", err)
	}
	repo := memory.NewLogRepository()
	ingest, err := telemetryapp.NewIngestService(repo, nopBroadcaster{}, logger)
	if err != nil {
		t.Fatalf("ingest service: %v", err)
	}
	logHandler, err := telemetryhttp.NewHandler(ingest, logger)
	if err != nil {
		t.Fatalf("log handler: %v", err)
	}

	mux := http.NewServeMux()
	cmdHandler.Register(mux)
	logHandler.Register(mux)
	mw := auth.NewMiddleware(secret, auth.NewDefaultPolicy(nil, nil))
	server := httptest.NewServer(mw.Wrap(mux))
	t.Cleanup(server.Close)
	return server, svc, repo
}

func deviceToken(t *testing.T, flightID string) string {
	t.Helper()
	token, err := auth.IssueToken(secret, flightID, auth.RoleDevice, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestClient_PollExecuteAck(t *testing.T) {
	server, svc, _ := newServer(t)
	client, err := NewClient(server.URL, "F", deviceToken(t, "F"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	issued := make(chan error, 1)
	go func() {
		_, err := svc.Issue(context.Background(), "F", "test_tvc", json.RawMessage(`{"maxDegrees":10}`))
		issued <- err
	}()

	var deliveries []commands.Delivery
	deadline := time.Now().Add(2 * time.Second)
	for len(deliveries) == 0 && time.Now().Before(deadline) {
		deliveries, err = client.NextCommands(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if len(deliveries) != 1 || deliveries[0].Name != "test_tvc" {
		t.Fatalf("expected test_tvc, got %+v", deliveries)
	}

	acked, err := client.Ack(context.Background(), []commands.Ref{{ID: deliveries[0].ID, Name: deliveries[0].Name}})
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(acked) != 1 || acked[0] != deliveries[0].ID {
		t.Fatalf("unexpected ack: %v", acked)
	}
	select {
	case err := <-issued:
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("issuer not released by ack")
	}
}

func TestClient_SendLogsCBOR(t *testing.T) {
	server, _, repo := newServer(t)
	client, err := NewClient(server.URL, "F", deviceToken(t, "F"), WithCBOR(true))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	inserted, err := client.SendLogs(context.Background(), []LogEntry{
		{Sent: 10, Data: map[string]any{"altitude": 1.5}},
		{Sent: 20, Data: map[string]any{"altitude": 2.5}},
	})
	if err != nil {
		t.Fatalf("send logs: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}
	stored, _ := repo.ListByFlight(context.Background(), "F", 0)
	if len(stored) != 2 || stored[1].Sent != 20 {
		t.Fatalf("unexpected stored records: %+v", stored)
	}
}

func TestClient_WrongFlightToken(t *testing.T) {
	server, _, _ := newServer(t)
	client, err := NewClient(server.URL, "F", deviceToken(t, "other"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.NextCommands(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
