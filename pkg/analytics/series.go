package analytics

import (
	"sort"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Point is one extracted observation. Extras carries echo fields such as
// the charging flag or SSID unmodified.
type Point struct {
	Time         time.Time      `json:"time"`
	CapturedAtMs int64          `json:"timestamp"`
	Value        float64        `json:"value"`
	Extras       map[string]any `json:"extras,omitempty"`
}

// Extractor pulls one scalar from a payload. ok=false skips the record.
type Extractor func(p payload.Object) (value float64, extras map[string]any, ok bool)

// BuildScalarSeries walks records oldest first and emits a point for every
// record the extractor accepts. The input slice is not modified.
func BuildScalarSeries(records []telemetry.Record, extract Extractor) []Point {
	ordered := byReceived(records)

	points := make([]Point, 0, len(ordered))
	for _, rec := range ordered {
		value, extras, ok := extract(rec.Payload)
		if !ok {
			continue
		}
		points = append(points, Point{
			Time:         rec.ReceivedAt,
			CapturedAtMs: rec.CapturedAtMs,
			Value:        value,
			Extras:       extras,
		})
	}
	return points
}

// Location is one reported position.
type Location struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	CapturedAtMs int64   `json:"timestamp"`
}

// BuildLocations extracts coordinates oldest first, skipping records
// without a complete numeric pair.
func BuildLocations(records []telemetry.Record) []Location {
	ordered := byReceived(records)

	locs := make([]Location, 0, len(ordered))
	for _, rec := range ordered {
		c, ok := payload.Location(rec.Payload)
		if !ok {
			continue
		}
		locs = append(locs, Location{
			Latitude:     c.Latitude,
			Longitude:    c.Longitude,
			CapturedAtMs: rec.CapturedAtMs,
		})
	}
	return locs
}

// byReceived returns a copy of records stably sorted by ReceivedAt.
func byReceived(records []telemetry.Record) []*telemetry.Record {
	ordered := make([]*telemetry.Record, len(records))
	for i := range records {
		ordered[i] = &records[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})
	return ordered
}
