package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"groundcontrol/internal/auth"
	flights "groundcontrol/internal/flights/domain"
)

// Created is the result of creating a flight.
type Created struct {
	Flight      flights.Flight `json:"flight"`
	FlightID    string         `json:"flightId"`
	DeviceToken string         `json:"deviceToken"`
	// BaseURL is the public API address devices connect to, when configured.
	BaseURL string `json:"baseUrl,omitempty"`
}

// Service creates flights and issues their device tokens.
type Service struct {
	repo      flights.Repository
	secret    []byte
	deviceTTL time.Duration
	publicURL string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublicURL sets the base URL returned to devices on flight creation.
func WithPublicURL(url string) Option {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(url, "/")
	}
}

// NewService constructs a flight service. A zero deviceTTL issues device
// tokens without expiry.
func NewService(repo flights.Repository, secret []byte, deviceTTL time.Duration, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("flights: nil repository")
	}
	if len(secret) == 0 {
		return nil, errors.New("flights: empty token secret")
	}
	s := &Service{
		repo:      repo,
		secret:    secret,
		deviceTTL: deviceTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create registers a new flight and returns a device token scoped to it.
func (s *Service) Create(ctx context.Context, name, createdBy string) (*Created, error) {
	flight := flights.Flight{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: s.now(),
	}
	if err := flight.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, flight); err != nil {
		return nil, fmt.Errorf("flights: save: %w", err)
	}
	token, err := s.DeviceToken(flight.ID)
	if err != nil {
		return nil, err
	}
	return &Created{Flight: flight, FlightID: flight.ID, DeviceToken: token, BaseURL: s.publicURL}, nil
}

// DeviceToken signs a device token for flightID.
func (s *Service) DeviceToken(flightID string) (string, error) {
	if flightID == "" {
		return "", flights.ErrEmptyID
	}
	return auth.IssueToken(s.secret, flightID, auth.RoleDevice, s.deviceTTL)
}

// Get loads one flight.
func (s *Service) Get(ctx context.Context, id string) (*flights.Flight, error) {
	if id == "" {
		return nil, flights.ErrEmptyID
	}
	flight, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if flight == nil {
		return nil, flights.ErrNotFound
	}
	return flight, nil
}

// List returns flights, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]flights.Flight, error) {
	return s.repo.List(ctx, limit)
}
