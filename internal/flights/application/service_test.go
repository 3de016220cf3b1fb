package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"groundcontrol/internal/auth"
	flights "groundcontrol/internal/flights/domain"
	"groundcontrol/internal/flights/infrastructure/memory"
)

func TestCreate_DeviceTokenScopedToFlight(t *testing.T) {
	secret := []byte("s")
	svc, err := NewService(memory.NewFlightRepository(), secret, time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	created, err := svc.Create(context.Background(), "hop", "ops@example")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.FlightID == "" || created.FlightID != created.Flight.ID {
		t.Fatalf("unexpected flight id: %+v", created)
	}
	claims, err := auth.ParseJWT(created.DeviceToken, secret)
	if err != nil {
		t.Fatalf("parse device token: %v", err)
	}
	if claims.Subject != created.FlightID || claims.Role != string(auth.RoleDevice) {
		t.Fatalf("expected device token for %s, got %+v", created.FlightID, claims)
	}

	loaded, err := svc.Get(context.Background(), created.FlightID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.CreatedBy != "ops@example" || loaded.Name != "hop" {
		t.Fatalf("unexpected flight: %+v", loaded)
	}
}

func TestCreate_ReturnsPublicURL(t *testing.T) {
	svc, err := NewService(memory.NewFlightRepository(), []byte("s"), 0, WithPublicURL("https://gc.example.com/"))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	created, err := svc.Create(context.Background(), "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.BaseURL != "https://gc.example.com" {
		t.Fatalf("expected trimmed public url, got %q", created.BaseURL)
	}

	plain, err := NewService(memory.NewFlightRepository(), []byte("s"), 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	created, err = plain.Create(context.Background(), "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.BaseURL != "" {
		t.Fatalf("expected no base url, got %q", created.BaseURL)
	}
}

func TestGet_Missing(t *testing.T) {
	svc, err := NewService(memory.NewFlightRepository(), []byte("s"), 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, flights.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, flights.ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestNewService_RequiresSecret(t *testing.T) {
	if _, err := NewService(memory.NewFlightRepository(), nil, 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
