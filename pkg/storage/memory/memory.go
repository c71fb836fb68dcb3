package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Storage stores records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records []telemetry.Record
	nextID  uint64
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		records: make([]telemetry.Record, 0, 10000),
	}
}

// Append stores a record and assigns its ID
func (s *Storage) Append(ctx context.Context, rec *telemetry.Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

// Query retrieves records matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]telemetry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := make([]telemetry.Record, 0)
	for i := range s.records {
		if req.Matches(&s.records[i]) {
			results = append(results, s.records[i])
		}
	}
	s.mu.RUnlock()

	storage.SortByReceived(results, req.Desc)
	return storage.Paginate(results, req.Offset, req.Limit), nil
}

// Get returns one record by ID
func (s *Storage) Get(ctx context.Context, id uint64) (*telemetry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		rec := s.records[i]
		return &rec, nil
	}
	return nil, storage.ErrNotFound
}

// Delete removes one record by ID
func (s *Storage) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return storage.ErrNotFound
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return nil
}

// DeleteBefore removes records received before the cutoff
func (s *Storage) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Filter out old records
	filtered := make([]telemetry.Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.ReceivedAt.Before(cutoff) {
			filtered = append(filtered, rec)
		}
	}

	deleted := len(s.records) - len(filtered)
	s.records = filtered
	return deleted, nil
}

// CountAll returns the number of stored records
func (s *Storage) CountAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// CountSince counts records received at or after since
func (s *Storage) CountSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.records {
		if !s.records[i].ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountDistinctDevices counts distinct device IDs, optionally windowed
func (s *Storage) CountDistinctDevices(ctx context.Context, since *time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for i := range s.records {
		if since != nil && s.records[i].ReceivedAt.Before(*since) {
			continue
		}
		seen[deviceKey(&s.records[i])] = struct{}{}
	}
	return len(seen), nil
}

// Latest returns the most recently received record
func (s *Storage) Latest(ctx context.Context, deviceID string) (*telemetry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *telemetry.Record
	for i := range s.records {
		rec := &s.records[i]
		if deviceID != "" && rec.Device() != deviceID {
			continue
		}
		if latest == nil || rec.ReceivedAt.After(latest.ReceivedAt) ||
			(rec.ReceivedAt.Equal(latest.ReceivedAt) && rec.ID > latest.ID) {
			latest = rec
		}
	}

	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// DeviceCounts returns per-device record counts in first-seen order
func (s *Storage) DeviceCounts(ctx context.Context) ([]storage.DeviceCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := make(map[string]int)
	counts := make([]storage.DeviceCount, 0)
	for i := range s.records {
		key := deviceKey(&s.records[i])
		pos, ok := index[key]
		if !ok {
			pos = len(counts)
			index[key] = pos
			counts = append(counts, storage.DeviceCount{DeviceID: s.records[i].DeviceID})
		}
		counts[pos].Count++
	}
	return counts, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalRecords: uint64(len(s.records)),
	}

	if len(s.records) == 0 {
		return stats, nil
	}

	// Count devices and find min/max receive times in single pass
	devices := make(map[string]struct{})
	oldest := s.records[0].ReceivedAt
	newest := s.records[0].ReceivedAt

	for i := range s.records {
		rec := &s.records[i]
		devices[deviceKey(rec)] = struct{}{}

		if rec.ReceivedAt.Before(oldest) {
			oldest = rec.ReceivedAt
		}
		if rec.ReceivedAt.After(newest) {
			newest = rec.ReceivedAt
		}
	}

	stats.TotalDevices = uint64(len(devices))
	stats.OldestRecord = oldest
	stats.NewestRecord = newest

	// Rough size estimate (each snapshot ~2 KB of JSON)
	stats.SizeBytes = uint64(len(s.records)) * 2048

	return stats, nil
}

// indexOf finds a record by ID. IDs are issued in increasing order and
// records are only ever appended, so the slice is sorted by ID.
// MUST be called with lock held.
func (s *Storage) indexOf(id uint64) int {
	lo, hi := 0, len(s.records)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.records[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.records) && s.records[lo].ID == id {
		return lo
	}
	return -1
}

// deviceKey distinguishes unattributed records from a literal "" device.
func deviceKey(rec *telemetry.Record) string {
	if rec.DeviceID == nil {
		return "\x00"
	}
	return "d:" + *rec.DeviceID
}
