package storage

import (
	"sort"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// SortByReceived orders records by ReceivedAt, ties broken by ID.
func SortByReceived(recs []telemetry.Record, desc bool) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if desc {
				return a.ReceivedAt.After(b.ReceivedAt)
			}
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// Paginate applies offset and limit (0 = no limit) to an ordered slice.
func Paginate(recs []telemetry.Record, offset, limit int) []telemetry.Record {
	if offset > 0 {
		if offset >= len(recs) {
			return recs[:0]
		}
		recs = recs[offset:]
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
