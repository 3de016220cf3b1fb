package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	flights "groundcontrol/internal/flights/domain"
)

const defaultFlightsTable = "flights"

// FlightRepository is a Postgres implementation for flights.
type FlightRepository struct {
	db    *sql.DB
	table string
}

// FlightOption configures the repository.
type FlightOption func(*FlightRepository)

// WithFlightTable overrides the default table name.
func WithFlightTable(table string) FlightOption {
	return func(repo *FlightRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewFlightRepository constructs a repository.
func NewFlightRepository(db *sql.DB, opts ...FlightOption) *FlightRepository {
	repo := &FlightRepository{db: db, table: defaultFlightsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save inserts a flight.
func (r *FlightRepository) Save(ctx context.Context, flight flights.Flight) error {
	if r == nil || r.db == nil {
		return errors.New("flight repo: nil db")
	}
	if err := flight.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, created_by, created_at)
VALUES ($1, $2, $3, $4)`, r.table)
	_, err := r.db.ExecContext(ctx, query, flight.ID, flight.Name, flight.CreatedBy, flight.CreatedAt)
	return err
}

// Get loads a flight by id. It returns nil when the flight does not exist.
func (r *FlightRepository) Get(ctx context.Context, id string) (*flights.Flight, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("flight repo: nil db")
	}
	if id == "" {
		return nil, flights.ErrEmptyID
	}
	query := fmt.Sprintf(`
SELECT id, name, created_by, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var flight flights.Flight
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&flight.ID,
		&flight.Name,
		&flight.CreatedBy,
		&flight.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	flight.CreatedAt = flight.CreatedAt.UTC()
	return &flight, nil
}

// List returns flights, newest first.
func (r *FlightRepository) List(ctx context.Context, limit int) ([]flights.Flight, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("flight repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, name, created_by, created_at
FROM %s
ORDER BY created_at DESC
LIMIT $1`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]flights.Flight, 0)
	for rows.Next() {
		var flight flights.Flight
		if err := rows.Scan(&flight.ID, &flight.Name, &flight.CreatedBy, &flight.CreatedAt); err != nil {
			return nil, err
		}
		flight.CreatedAt = flight.CreatedAt.UTC()
		result = append(result, flight)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
