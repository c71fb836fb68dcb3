package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

const (
	// MaxImportRecords caps a single import request
	MaxImportRecords = 100000

	// maxPastAge and maxFutureSkew bound acceptable receipt times
	maxPastAge    = 10 * 365 * 24 * time.Hour
	maxFutureSkew = 24 * time.Hour
)

// ErrInvalidArchive is returned when the import body cannot be used at all
var ErrInvalidArchive = errors.New("invalid archive")

// Importer handles importing records from backup files
type Importer struct {
	storage storage.Store
	clock   telemetry.Clock
}

// NewImporter creates a new importer
func NewImporter(store storage.Store, clock telemetry.Clock) *Importer {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Importer{storage: store, clock: clock}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	RecordsImported int       `json:"records_imported"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports records from a JSON archive. Each valid record is
// appended with a new ID and its original receipt time.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if len(archive.Records) > MaxImportRecords {
		return nil, fmt.Errorf("%w: %d records exceeds the limit of %d",
			ErrInvalidArchive, len(archive.Records), MaxImportRecords)
	}

	now := im.clock.Now()
	result := &ImportResult{ImportedAt: now.UTC(), TimeRange: "empty"}

	var minTime, maxTime time.Time
	for i := range archive.Records {
		rec := archive.Records[i]
		if err := validateImportedRecord(&rec, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}

		rec.ID = 0
		rec.ReceivedAt = rec.ReceivedAt.UTC()
		if _, err := im.storage.Append(ctx, &rec); err != nil {
			return nil, fmt.Errorf("failed to append record %d: %w", i, err)
		}
		result.RecordsImported++

		if minTime.IsZero() || rec.ReceivedAt.Before(minTime) {
			minTime = rec.ReceivedAt
		}
		if rec.ReceivedAt.After(maxTime) {
			maxTime = rec.ReceivedAt
		}
	}

	if result.RecordsImported > 0 {
		result.TimeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}
	return result, nil
}

// validateImportedRecord applies the ingest rules plus a sanity bound on
// the receipt time
func validateImportedRecord(rec *telemetry.Record, now time.Time) error {
	if rec.Payload == nil {
		return telemetry.ErrPayloadMissing
	}
	if rec.DeviceID != nil && len(*rec.DeviceID) > telemetry.MaxDeviceIDLength {
		return telemetry.ErrDeviceIDTooLong
	}
	if rec.DeviceID != nil && *rec.DeviceID == "" {
		rec.DeviceID = nil
	}
	if rec.ReceivedAt.IsZero() {
		return fmt.Errorf("created_at cannot be zero")
	}
	if rec.ReceivedAt.Before(now.Add(-maxPastAge)) {
		return fmt.Errorf("created_at too far in past: %s", rec.ReceivedAt)
	}
	if rec.ReceivedAt.After(now.Add(maxFutureSkew)) {
		return fmt.Errorf("created_at too far in future: %s", rec.ReceivedAt)
	}
	return nil
}
