// Package analytics turns windows of raw telemetry records into chart-ready
// series, summaries and rankings.
package analytics

import (
	"sort"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Interval is the width of a histogram bucket.
type Interval int

const (
	IntervalDay Interval = iota
	IntervalHour
)

const (
	hourLabelLayout = "2006-01-02 15:00:00"
	dayLabelLayout  = "2006-01-02"
)

// ParseInterval maps "hour" to IntervalHour. Anything else, including the
// empty string, groups by day.
func ParseInterval(s string) Interval {
	switch s {
	case "hour":
		return IntervalHour
	default:
		return IntervalDay
	}
}

// String returns the query parameter form of the interval.
func (i Interval) String() string {
	switch i {
	case IntervalHour:
		return "hour"
	default:
		return "day"
	}
}

func (i Interval) layout() string {
	switch i {
	case IntervalHour:
		return hourLabelLayout
	default:
		return dayLabelLayout
	}
}

// Bucket is one histogram interval and the number of records received in it.
type Bucket struct {
	Label string `json:"time"`
	Count int    `json:"count"`
}

// BuildHistogram groups records by ReceivedAt (UTC) truncated to interval.
// Only non-empty buckets are returned, ascending by label.
func BuildHistogram(records []telemetry.Record, interval Interval) []Bucket {
	layout := interval.layout()
	counts := make(map[string]int)
	for i := range records {
		counts[records[i].ReceivedAt.UTC().Format(layout)]++
	}

	buckets := make([]Bucket, 0, len(counts))
	for label, count := range counts {
		buckets = append(buckets, Bucket{Label: label, Count: count})
	}
	// Fixed-width zero-padded labels sort chronologically as strings
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Label < buckets[j].Label
	})
	return buckets
}
