package analytics

import (
	"sort"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// RankedEntry is one key of a frequency table.
type RankedEntry struct {
	Key      string     `json:"key"`
	Count    int        `json:"count"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// KeyFunc extracts a categorical key from a record. ok=false skips it.
type KeyFunc func(rec *telemetry.Record) (key string, ok bool)

// TopN counts records per key and returns the n most frequent. Keys equal
// to payload.NotAvailable are skipped. Ties keep first-seen order.
func TopN(records []telemetry.Record, key KeyFunc, n int) []RankedEntry {
	return rank(records, key, n, false)
}

// TopDevices ranks devices by record count and reports when each was last
// seen. Unattributed records rank under the empty key.
func TopDevices(records []telemetry.Record, n int) []RankedEntry {
	return rank(records, DeviceKey, n, true)
}

// DeviceKey keys records by device ID.
func DeviceKey(rec *telemetry.Record) (string, bool) {
	return rec.Device(), true
}

// AppKey keys records by foreground application.
func AppKey(rec *telemetry.Record) (string, bool) {
	return payload.ForegroundApp(rec.Payload)
}

func rank(records []telemetry.Record, keyFn KeyFunc, n int, trackLastSeen bool) []RankedEntry {
	if n <= 0 {
		return []RankedEntry{}
	}

	index := make(map[string]int)
	entries := make([]RankedEntry, 0)
	for i := range records {
		rec := &records[i]
		key, ok := keyFn(rec)
		if !ok || key == payload.NotAvailable {
			continue
		}

		pos, seen := index[key]
		if !seen {
			pos = len(entries)
			index[key] = pos
			entries = append(entries, RankedEntry{Key: key})
		}
		e := &entries[pos]
		e.Count++
		if trackLastSeen && (e.LastSeen == nil || rec.ReceivedAt.After(*e.LastSeen)) {
			t := rec.ReceivedAt
			e.LastSeen = &t
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
