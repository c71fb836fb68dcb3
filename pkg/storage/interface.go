package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// ErrNotFound is returned when a record ID does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for telemetry storage backends.
// Implementations: memory (testing), badger (default), postgres (shared deployments)
type Store interface {
	// Append assigns the record an ID, stores it and returns the ID.
	// A record is either fully visible to later reads or not at all.
	Append(ctx context.Context, rec *telemetry.Record) (uint64, error)

	// Query returns records matching the request ordered by ReceivedAt
	// (ascending unless Desc), ties broken by ID.
	Query(ctx context.Context, req QueryRequest) ([]telemetry.Record, error)

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id uint64) (*telemetry.Record, error)

	// Delete removes one record or returns ErrNotFound.
	Delete(ctx context.Context, id uint64) error

	// DeleteBefore removes records received before cutoff and reports how
	// many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CountAll returns the number of stored records.
	CountAll(ctx context.Context) (int, error)

	// CountSince returns the number of records received at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)

	// CountDistinctDevices counts distinct device IDs among records
	// received at or after since (nil = whole store). Unattributed
	// records contribute one distinct value.
	CountDistinctDevices(ctx context.Context, since *time.Time) (int, error)

	// Latest returns the most recently received record, optionally for a
	// single device. Returns nil, nil when nothing matches.
	Latest(ctx context.Context, deviceID string) (*telemetry.Record, error)

	// DeviceCounts returns the record count per device, in first-seen order.
	DeviceCounts(ctx context.Context) ([]DeviceCount, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// QueryRequest specifies what records to retrieve
type QueryRequest struct {
	// Filter by device (empty = all devices)
	DeviceID string

	// Receive-time window; zero values leave that side open.
	// Since is inclusive, Until is exclusive.
	Since time.Time
	Until time.Time

	// Pagination (Limit 0 = no limit)
	Limit  int
	Offset int

	// Desc returns newest first
	Desc bool
}

// Matches reports whether rec satisfies the device and time filters.
// Backends without native indexes use it to filter scans.
func (q QueryRequest) Matches(rec *telemetry.Record) bool {
	if q.DeviceID != "" && rec.Device() != q.DeviceID {
		return false
	}
	if !q.Since.IsZero() && rec.ReceivedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !rec.ReceivedAt.Before(q.Until) {
		return false
	}
	return true
}

// DeviceCount is the number of records stored for one device.
type DeviceCount struct {
	DeviceID *string `json:"device_id"`
	Count    int     `json:"count"`
}

// Stats provides storage health and usage info
type Stats struct {
	// Total records stored
	TotalRecords uint64

	// Distinct devices (unattributed counts as one)
	TotalDevices uint64

	// Storage size in bytes
	SizeBytes uint64

	// Oldest and newest receive times
	OldestRecord time.Time
	NewestRecord time.Time
}
