package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
)

// Paging limits for recent-readings queries.
const (
	// DefaultRecentLimit is used when a caller passes limit <= 0.
	DefaultRecentLimit = 100

	// MaxRecentLimit caps a single page.
	MaxRecentLimit = 1000
)

// Querier is the subset of pgxpool.Pool the store uses. Narrowing the
// dependency keeps the query logic testable without a database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes device readings.
type Store struct {
	db     Querier
	logger log.Logger
}

// New creates a store over an existing connection pool (or any Querier).
func New(db Querier, logger log.Logger) *Store {
	return &Store{db: db, logger: log.OrNoop(logger)}
}

// Open connects a pool and returns a store over it. The caller owns the
// pool and must close it on shutdown.
func Open(ctx context.Context, connString string, logger log.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool, logger), pool, nil
}

// EnsureSchema creates the readings table, index, and notify trigger if
// they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const readingColumns = `device_id, recorded_at, carbon_monoxide_ppm,
	temperature_celcius, pm1_ug_m3, pm2_5_ug_m3, pm4_ug_m3, pm10_ug_m3`

// Insert persists one reading. The commit raises the notify trigger,
// which is what eventually wakes the dispatcher.
func (s *Store) Insert(ctx context.Context, r model.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r = r.Normalize()

	_, err := s.db.Exec(ctx, `INSERT INTO device_readings (`+readingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.DeviceID, r.RecordedAt, r.CarbonMonoxidePPM, r.TemperatureCelsius,
		r.PM1, r.PM25, r.PM4, r.PM10)
	if err != nil {
		s.logger.Log(log.NewEvent(log.SubsystemStore, log.CategoryError, "insert failed").
			WithDevice(r.DeviceID).WithError(err))
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns the most recent reading for a device, or nil when the
// device has none. Equal timestamps resolve to the most recent insert.
func (s *Store) Latest(ctx context.Context, deviceID string) (*model.Reading, error) {
	row := s.db.QueryRow(ctx, `SELECT `+readingColumns+` FROM device_readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`, deviceID)

	r, err := scanReading(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading: %w", err)
	}
	return &r, nil
}

// Recent returns up to limit readings for a device, newest first.
// limit <= 0 uses DefaultRecentLimit; larger values are capped at
// MaxRecentLimit.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]model.Reading, error) {
	rows, err := s.db.Query(ctx, `SELECT `+readingColumns+` FROM device_readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, deviceID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	return collectReadings(rows)
}

// RecentAll returns up to limit readings across all devices, newest
// first. This backs the plain history endpoint.
func (s *Store) RecentAll(ctx context.Context, limit int) ([]model.Reading, error) {
	rows, err := s.db.Query(ctx, `SELECT `+readingColumns+` FROM device_readings
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	return collectReadings(rows)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

// scanner covers both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanReading(sc scanner) (model.Reading, error) {
	var r model.Reading
	err := sc.Scan(&r.DeviceID, &r.RecordedAt, &r.CarbonMonoxidePPM,
		&r.TemperatureCelsius, &r.PM1, &r.PM25, &r.PM4, &r.PM10)
	// pgx decodes timestamptz into the process's local location; the
	// wire contract is RFC 3339 UTC text, so convert back here.
	r.RecordedAt = r.RecordedAt.UTC()
	return r, err
}

func collectReadings(rows pgx.Rows) ([]model.Reading, error) {
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return out, nil
}
