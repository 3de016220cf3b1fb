package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "groundcontrol/internal/telemetry/domain"
)

const defaultLogsTable = "flight_logs"

// LogRepository is a Postgres implementation for flight telemetry records.
type LogRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*LogRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *LogRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewLogRepository constructs a repository with default table name.
func NewLogRepository(db *sql.DB, opts ...RepositoryOption) *LogRepository {
	repo := &LogRepository{db: db, table: defaultLogsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts the batch in one transaction, preserving order through the
// table's serial id.
func (r *LogRepository) Append(ctx context.Context, records []telemetry.Record) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	flight_id,
	sent,
	received,
	data
) VALUES (
	$1, $2, $3, $4
)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		if record.FlightID == "" {
			_ = tx.Rollback()
			return telemetry.ErrEmptyFlightID
		}
		if _, err := stmt.ExecContext(ctx, record.FlightID, record.Sent, record.Received, []byte(record.Data)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ListByFlight returns up to limit records of a flight in insertion order.
func (r *LogRepository) ListByFlight(ctx context.Context, flightID string, limit int) ([]telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
SELECT flight_id, sent, received, data
FROM %s
WHERE flight_id = $1
ORDER BY id ASC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, flightID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]telemetry.Record, 0)
	for rows.Next() {
		var (
			record telemetry.Record
			data   []byte
		)
		if err := rows.Scan(&record.FlightID, &record.Sent, &record.Received, &data); err != nil {
			return nil, err
		}
		record.Data = data
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
