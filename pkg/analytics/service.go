package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// MaxLocations caps the positions returned by Locations.
const MaxLocations = 1000

// Field selects the scalar a series is built from.
type Field int

const (
	FieldBattery Field = iota
	FieldWifiSignal
)

// ValueKey is the JSON name clients expect for the field's value.
func (f Field) ValueKey() string {
	switch f {
	case FieldWifiSignal:
		return "signalStrength"
	default:
		return "level"
	}
}

func (f Field) extractor() Extractor {
	switch f {
	case FieldWifiSignal:
		return wifiExtractor
	default:
		return batteryExtractor
	}
}

func batteryExtractor(p payload.Object) (float64, map[string]any, bool) {
	b, ok := payload.BatteryLevel(p)
	if !ok {
		return 0, nil, false
	}
	return b.Level, map[string]any{"isCharging": b.IsCharging}, true
}

func wifiExtractor(p payload.Object) (float64, map[string]any, bool) {
	w, ok := payload.WifiSignal(p)
	if !ok {
		return 0, nil, false
	}
	return w.SignalStrength, map[string]any{"ssid": w.SSID, "networkType": w.NetworkType}, true
}

// SeriesSummary is a downsampled series and the stats over the kept points.
type SeriesSummary struct {
	Points []Point `json:"points"`
	Count  int     `json:"count"`
	Stats  Stats   `json:"stats"`
}

// LocationSummary holds at most MaxLocations positions. Count is the number
// found in the window before capping.
type LocationSummary struct {
	Count     int        `json:"count"`
	Locations []Location `json:"locations"`
}

// Service answers analytics requests against a store. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	store storage.Store
	clock telemetry.Clock
}

// NewService creates a Service. A nil clock uses the system clock.
func NewService(store storage.Store, clock telemetry.Clock) *Service {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Service{store: store, clock: clock}
}

// Histogram buckets the last hours of records, optionally for one device.
func (s *Service) Histogram(ctx context.Context, deviceID string, hours int, interval Interval) ([]Bucket, error) {
	records, err := s.window(ctx, deviceID, hours)
	if err != nil {
		return nil, err
	}
	return BuildHistogram(records, interval), nil
}

// ScalarSeries extracts field from the last hours of records, thins it to
// DefaultMaxPoints and reduces what is left.
func (s *Service) ScalarSeries(ctx context.Context, hours int, field Field) (SeriesSummary, error) {
	records, err := s.window(ctx, "", hours)
	if err != nil {
		return SeriesSummary{}, err
	}

	points := Downsample(BuildScalarSeries(records, field.extractor()), DefaultMaxPoints)
	return SeriesSummary{
		Points: points,
		Count:  len(points),
		Stats:  ReducePoints(points),
	}, nil
}

// Locations returns positions reported in the last hours.
func (s *Service) Locations(ctx context.Context, hours int) (LocationSummary, error) {
	records, err := s.window(ctx, "", hours)
	if err != nil {
		return LocationSummary{}, err
	}

	locs := BuildLocations(records)
	summary := LocationSummary{Count: len(locs), Locations: locs}
	if len(locs) > MaxLocations {
		summary.Locations = locs[:MaxLocations]
	}
	return summary, nil
}

// TopApps ranks foreground applications over the last hours.
func (s *Service) TopApps(ctx context.Context, hours, limit int) ([]RankedEntry, error) {
	records, err := s.window(ctx, "", hours)
	if err != nil {
		return nil, err
	}
	return TopN(records, AppKey, limit), nil
}

// TopDevices ranks devices over the whole store.
func (s *Service) TopDevices(ctx context.Context, limit int) ([]RankedEntry, error) {
	records, err := s.store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return TopDevices(records, limit), nil
}

// Overview summarizes the store for the last hours.
func (s *Service) Overview(ctx context.Context, hours int) (Overview, error) {
	return BuildOverview(ctx, s.store, s.clock.Now(), hours)
}

// Latest returns the newest record, optionally for one device, or nil.
func (s *Service) Latest(ctx context.Context, deviceID string) (*telemetry.Record, error) {
	rec, err := s.store.Latest(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}
	return rec, nil
}

func (s *Service) window(ctx context.Context, deviceID string, hours int) ([]telemetry.Record, error) {
	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	records, err := s.store.Query(ctx, storage.QueryRequest{DeviceID: deviceID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}
	return records, nil
}
