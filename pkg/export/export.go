package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// FormatVersion is written into every JSON export
const FormatVersion = "1.0"

// Exporter handles exporting records to various formats
type Exporter struct {
	storage storage.Store
	clock   telemetry.Clock
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store, clock telemetry.Clock) *Exporter {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Exporter{storage: store, clock: clock}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Receipt-time range to export, [Start, End)
	Start time.Time
	End   time.Time

	// DeviceID limits the export to one device ("" = all)
	DeviceID string

	// Format: "json" or "csv"
	Format string
}

func (o ExportOptions) query() storage.QueryRequest {
	return storage.QueryRequest{
		DeviceID: o.DeviceID,
		Since:    o.Start,
		Until:    o.End,
	}
}

func (o ExportOptions) timeRange() string {
	return fmt.Sprintf("%s to %s", o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
}

// ExportResult contains stats about the export
type ExportResult struct {
	RecordsExported int       `json:"records_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Archive is the JSON export document and the import input
type Archive struct {
	Metadata Metadata           `json:"metadata"`
	Records  []telemetry.Record `json:"records"`
}

// ExportToJSON exports records as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.storage.Query(ctx, opts.query())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	archive := Archive{
		Metadata: Metadata{
			ExportedAt:  e.clock.Now().UTC(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Format:      "json",
			Version:     FormatVersion,
		},
		Records: records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(archive); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		RecordsExported: len(records),
		TimeRange:       opts.timeRange(),
		Format:          "json",
		ExportedAt:      archive.Metadata.ExportedAt,
	}, nil
}

// csvHeader lists the fixed CSV columns. Payload values that are absent
// are left empty.
var csvHeader = []string{
	"id", "device_id", "timestamp", "created_at",
	"battery_level", "is_charging", "wifi_signal", "ssid",
	"latitude", "longitude", "foreground_app", "data",
}

// ExportToCSV exports records as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.storage.Query(ctx, opts.query())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range records {
		row, err := csvRow(&records[i])
		if err != nil {
			return nil, err
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		RecordsExported: len(records),
		TimeRange:       opts.timeRange(),
		Format:          "csv",
		ExportedAt:      e.clock.Now().UTC(),
	}, nil
}

func csvRow(rec *telemetry.Record) ([]string, error) {
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload of record %d: %w", rec.ID, err)
	}

	row := make([]string, len(csvHeader))
	row[0] = strconv.FormatUint(rec.ID, 10)
	row[1] = rec.Device()
	row[2] = strconv.FormatInt(rec.CapturedAtMs, 10)
	row[3] = rec.ReceivedAt.UTC().Format(time.RFC3339Nano)
	if b, ok := payload.BatteryLevel(rec.Payload); ok {
		row[4] = formatFloat(b.Level)
		row[5] = formatEcho(b.IsCharging)
	}
	if wifi, ok := payload.WifiSignal(rec.Payload); ok {
		row[6] = formatFloat(wifi.SignalStrength)
		row[7] = formatEcho(wifi.SSID)
	}
	if loc, ok := payload.Location(rec.Payload); ok {
		row[8] = formatFloat(loc.Latitude)
		row[9] = formatFloat(loc.Longitude)
	}
	if app, ok := payload.ForegroundApp(rec.Payload); ok {
		row[10] = app
	}
	row[11] = string(raw)
	return row, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatEcho renders a pass-through payload value; null is an empty cell
func formatEcho(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatFloat(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
