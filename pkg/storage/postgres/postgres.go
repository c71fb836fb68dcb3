// Package postgres stores records in a PostgreSQL table so several
// devicepulse instances can share one dataset.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS collected_data (
	id         BIGSERIAL PRIMARY KEY,
	device_id  VARCHAR(100),
	timestamp  BIGINT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collected_data_device_id ON collected_data (device_id);
CREATE INDEX IF NOT EXISTS idx_collected_data_created_at ON collected_data (created_at);
`

// Storage implements storage.Store on PostgreSQL via pgx.
type Storage struct {
	db *sql.DB
}

// Config holds connection settings
type Config struct {
	// DSN is a postgres:// URL or key=value connection string
	DSN string

	// MaxOpenConns caps the pool (0 = database/sql default)
	MaxOpenConns int
}

// New connects, verifies the connection and creates the schema.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Append inserts a record and returns the database-assigned ID
func (s *Storage) Append(ctx context.Context, rec *telemetry.Record) (uint64, error) {
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO collected_data (device_id, timestamp, data, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.DeviceID, rec.CapturedAtMs, string(data), rec.ReceivedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	rec.ID = uint64(id)
	return rec.ID, nil
}

// Query builds a filtered, ordered SELECT from the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]telemetry.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if req.DeviceID != "" {
		where = append(where, "device_id = "+arg(req.DeviceID))
	}
	if !req.Since.IsZero() {
		where = append(where, "created_at >= "+arg(req.Since.UTC()))
	}
	if !req.Until.IsZero() {
		where = append(where, "created_at < "+arg(req.Until.UTC()))
	}

	var b strings.Builder
	b.WriteString("SELECT id, device_id, timestamp, data, created_at FROM collected_data")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if req.Desc {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	}
	if req.Limit > 0 {
		b.WriteString(" LIMIT " + arg(req.Limit))
	}
	if req.Offset > 0 {
		b.WriteString(" OFFSET " + arg(req.Offset))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	results := make([]telemetry.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return results, nil
}

// Get returns one record by ID
func (s *Storage) Get(ctx context.Context, id uint64) (*telemetry.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, timestamp, data, created_at FROM collected_data WHERE id = $1`,
		int64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes one record by ID
func (s *Storage) Delete(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collected_data WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBefore removes records received before cutoff
func (s *Storage) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collected_data WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountAll returns the number of stored records
func (s *Storage) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collected_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// CountSince returns the number of records received at or after since
func (s *Storage) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collected_data WHERE created_at >= $1`, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count window: %w", err)
	}
	return n, nil
}

// CountDistinctDevices counts distinct device IDs. COUNT(DISTINCT) skips
// NULL, so unattributed records are added back as one extra value.
func (s *Storage) CountDistinctDevices(ctx context.Context, since *time.Time) (int, error) {
	query := `SELECT COUNT(DISTINCT device_id) + MAX(CASE WHEN device_id IS NULL THEN 1 ELSE 0 END)
		FROM collected_data`
	var args []any
	if since != nil {
		query += ` WHERE created_at >= $1`
		args = append(args, since.UTC())
	}

	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	// MAX over zero rows is NULL
	return int(n.Int64), nil
}

// Latest returns the most recently received record
func (s *Storage) Latest(ctx context.Context, deviceID string) (*telemetry.Record, error) {
	recs, err := s.Query(ctx, storage.QueryRequest{DeviceID: deviceID, Desc: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// DeviceCounts groups by device, ordered by the first ID seen per device
func (s *Storage) DeviceCounts(ctx context.Context) ([]storage.DeviceCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, COUNT(*) FROM collected_data
		 GROUP BY device_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to count per device: %w", err)
	}
	defer rows.Close()

	counts := make([]storage.DeviceCount, 0)
	for rows.Next() {
		var (
			device sql.NullString
			dc     storage.DeviceCount
		)
		if err := rows.Scan(&device, &dc.Count); err != nil {
			return nil, err
		}
		if device.Valid {
			dc.DeviceID = &device.String
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	var (
		total          int64
		oldest, newest sql.NullTime
		size           int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at),
		        pg_total_relation_size('collected_data')
		 FROM collected_data`,
	).Scan(&total, &oldest, &newest, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	devices, err := s.CountDistinctDevices(ctx, nil)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{
		TotalRecords: uint64(total),
		TotalDevices: uint64(devices),
		SizeBytes:    uint64(size),
	}
	if oldest.Valid {
		stats.OldestRecord = oldest.Time.UTC()
	}
	if newest.Valid {
		stats.NewestRecord = newest.Time.UTC()
	}
	return stats, nil
}

// Close closes the connection pool
func (s *Storage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (telemetry.Record, error) {
	var (
		rec    telemetry.Record
		id     int64
		device sql.NullString
		data   []byte
	)
	if err := row.Scan(&id, &device, &rec.CapturedAtMs, &data, &rec.ReceivedAt); err != nil {
		return telemetry.Record{}, err
	}

	rec.ID = uint64(id)
	if device.Valid {
		rec.DeviceID = &device.String
	}
	rec.ReceivedAt = rec.ReceivedAt.UTC()

	var obj payload.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return telemetry.Record{}, fmt.Errorf("failed to decode payload of record %d: %w", id, err)
	}
	rec.Payload = obj
	return rec, nil
}
