package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Key layout:
//
//	r/<id>                      -> CBOR record
//	t/<received ns><id>         -> receive-time index
//	d/<device hash><received ns><id> -> per-device index
//
// All integers are big-endian so lexical key order is numeric order.
var (
	recordPrefix = []byte("r/")
	timePrefix   = []byte("t/")
	devicePrefix = []byte("d/")
	sequenceKey  = []byte("m/seq")
)

const (
	// ID leases taken from the badger sequence per allocation
	sequenceBandwidth = 100

	// How often long scans check for context cancellation
	cancelCheckEvery = 1000
)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total
	// We use 48 MB total (16 MB memtable + caches) for self-hosted
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches are unbounded unless set explicitly
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // Small snapshots stay in the LSM, large ones go to the vlog
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20). // 64 MB value log files instead of default 2GB
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &Storage{db: db, seq: seq}, nil
}

// Append stores a record and its index entries in one transaction
func (s *Storage) Append(ctx context.Context, rec *telemetry.Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	id := next + 1 // sequence starts at 0, IDs start at 1

	stored := *rec
	stored.ID = id
	value, err := encodeRecord(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	err = s.update(ctx, "append", func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(id), value); err != nil {
			return err
		}
		if err := txn.Set(timeKey(stored.ReceivedAt, id), nil); err != nil {
			return err
		}
		return txn.Set(deviceKey(stored.DeviceID, stored.ReceivedAt, id), nil)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}

	rec.ID = id
	return id, nil
}

// Query walks the receive-time index (or the device index when filtering
// by device) so results come out already ordered.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]telemetry.Record, error) {
	prefix := timePrefix
	if req.DeviceID != "" {
		prefix = devicePrefixFor(telemetry.DeviceRef(req.DeviceID))
	}

	results := make([]telemetry.Record, 0)
	err := s.view(ctx, "query", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = req.Desc

		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		var iterCount int
		for it.Seek(seekKey(prefix, req)); it.Valid(); it.Next() {
			iterCount++
			if iterCount%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts, id := parseIndexKey(it.Item().Key(), len(prefix))
			if !req.Desc && !req.Until.IsZero() && !ts.Before(req.Until) {
				break
			}
			if req.Desc && !req.Since.IsZero() && ts.Before(req.Since) {
				break
			}

			rec, err := getRecord(txn, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue // index entry outlived a partially applied delete
			}
			if err != nil {
				return err
			}
			// Device hashes can collide; the record is authoritative
			if !req.Matches(&rec) {
				continue
			}

			if skipped < req.Offset {
				skipped++
				continue
			}
			results = append(results, rec)
			if req.Limit > 0 && len(results) >= req.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Get returns one record by ID
func (s *Storage) Get(ctx context.Context, id uint64) (*telemetry.Record, error) {
	var rec telemetry.Record
	err := s.view(ctx, "get", func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes one record and its index entries
func (s *Storage) Delete(ctx context.Context, id uint64) error {
	return s.update(ctx, "delete", func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		return deleteRecordKeys(txn, &rec)
	})
}

// DeleteBefore removes every record received before cutoff. Deletes go
// through a WriteBatch because a retention sweep can exceed a single
// transaction's size limit.
func (s *Storage) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []telemetry.Record
	err := s.view(ctx, "delete", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = timePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts, id := parseIndexKey(it.Item().Key(), len(timePrefix))
			if !ts.Before(cutoff) {
				break // Keep records after cutoff
			}

			rec, err := getRecord(txn, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			expired = append(expired, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range expired {
		rec := &expired[i]
		// Index entries first so a crash never leaves a dangling record
		if err := wb.Delete(timeKey(rec.ReceivedAt, rec.ID)); err != nil {
			return 0, err
		}
		if err := wb.Delete(deviceKey(rec.DeviceID, rec.ReceivedAt, rec.ID)); err != nil {
			return 0, err
		}
		if err := wb.Delete(recordKey(rec.ID)); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush deletes: %w", err)
	}
	return len(expired), nil
}

// CountAll counts record keys
func (s *Storage) CountAll(ctx context.Context) (int, error) {
	count := 0
	err := s.view(ctx, "count", func(txn *badger.Txn) error {
		return scanKeys(ctx, txn, recordPrefix, func(key []byte) bool {
			count++
			return true
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountSince counts time index keys from since onwards without reading values
func (s *Storage) CountSince(ctx context.Context, since time.Time) (int, error) {
	count := 0
	err := s.view(ctx, "count since", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = timePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(timeKey(since, 0)); it.Valid(); it.Next() {
			count++
			if count%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountDistinctDevices counts distinct device hashes in the device index
func (s *Storage) CountDistinctDevices(ctx context.Context, since *time.Time) (int, error) {
	devices := make(map[uint64]struct{})
	err := s.view(ctx, "count devices", func(txn *badger.Txn) error {
		return scanKeys(ctx, txn, devicePrefix, func(key []byte) bool {
			hash := binary.BigEndian.Uint64(key[len(devicePrefix):])
			if since != nil {
				ts, _ := parseIndexKey(key, len(devicePrefix)+8)
				if ts.Before(*since) {
					return true
				}
			}
			devices[hash] = struct{}{}
			return true
		})
	})
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

// Latest returns the newest record, optionally for one device
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

// DeviceCounts walks records in ID order so devices appear first-seen first
func (s *Storage) DeviceCounts(ctx context.Context) ([]storage.DeviceCount, error) {
	index := make(map[string]int)
	counts := make([]storage.DeviceCount, 0)

	err := s.view(ctx, "device counts", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				key := "\x00"
				if rec.DeviceID != nil {
					key = "d:" + *rec.DeviceID
				}
				pos, ok := index[key]
				if !ok {
					pos = len(counts)
					index[key] = pos
					counts = append(counts, storage.DeviceCount{DeviceID: rec.DeviceID})
				}
				counts[pos].Count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Close releases the ID sequence and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to release id sequence: %w", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := s.view(ctx, "stats", func(txn *badger.Txn) error {
		if err := scanKeys(ctx, txn, recordPrefix, func(key []byte) bool {
			stats.TotalRecords++
			return true
		}); err != nil {
			return err
		}

		devices := make(map[uint64]struct{})
		if err := scanKeys(ctx, txn, devicePrefix, func(key []byte) bool {
			devices[binary.BigEndian.Uint64(key[len(devicePrefix):])] = struct{}{}
			return true
		}); err != nil {
			return err
		}
		stats.TotalDevices = uint64(len(devices))

		first := true
		return scanKeys(ctx, txn, timePrefix, func(key []byte) bool {
			ts, _ := parseIndexKey(key, len(timePrefix))
			if first {
				stats.OldestRecord = ts
				first = false
			}
			stats.NewestRecord = ts
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// view runs fn in a read transaction, returning early if ctx is cancelled
// while badger is still working. fn must not be observed after an early
// return, so callers only read captured results when view returns nil.
func (s *Storage) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return s.run(ctx, op, func() error { return s.db.View(fn) })
}

// update runs fn in a read-write transaction with the same cancellation
// behaviour as view.
func (s *Storage) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return s.run(ctx, op, func() error { return s.db.Update(fn) })
}

func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	// Check context before starting expensive operation
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// scanKeys iterates keys under prefix without loading values
func scanKeys(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(key []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var iterCount int
	for it.Rewind(); it.Valid(); it.Next() {
		iterCount++
		if iterCount%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !fn(it.Item().Key()) {
			break
		}
	}
	return nil
}

func getRecord(txn *badger.Txn, id uint64) (telemetry.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return telemetry.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return telemetry.Record{}, err
	}

	var rec telemetry.Record
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = decodeRecord(val)
		return err
	})
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("failed to decode record %d: %w", id, err)
	}
	return rec, nil
}

func deleteRecordKeys(txn *badger.Txn, rec *telemetry.Record) error {
	if err := txn.Delete(timeKey(rec.ReceivedAt, rec.ID)); err != nil {
		return err
	}
	if err := txn.Delete(deviceKey(rec.DeviceID, rec.ReceivedAt, rec.ID)); err != nil {
		return err
	}
	return txn.Delete(recordKey(rec.ID))
}

// recordKey creates the primary key: prefix + id
func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

// timeKey creates a sortable index key: prefix + received ns + id
func timeKey(ts time.Time, id uint64) []byte {
	return appendTimeID(append([]byte{}, timePrefix...), ts, id)
}

// deviceKey creates a per-device index key: prefix + device hash + received ns + id
func deviceKey(device *string, ts time.Time, id uint64) []byte {
	return appendTimeID(devicePrefixFor(device), ts, id)
}

// devicePrefixFor returns d/<hash>. Unattributed records share one hash.
func devicePrefixFor(device *string) []byte {
	name := "\x00"
	if device != nil {
		name = "d:" + *device
	}
	key := make([]byte, len(devicePrefix)+8)
	copy(key, devicePrefix)
	binary.BigEndian.PutUint64(key[len(devicePrefix):], xxhash.Sum64String(name))
	return key
}

func appendTimeID(key []byte, ts time.Time, id uint64) []byte {
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	return binary.BigEndian.AppendUint64(key, id)
}

// parseIndexKey extracts receive time and record ID after a prefix of n bytes
func parseIndexKey(key []byte, n int) (time.Time, uint64) {
	tsNano := binary.BigEndian.Uint64(key[n : n+8])
	id := binary.BigEndian.Uint64(key[n+8 : n+16])
	return time.Unix(0, int64(tsNano)).UTC(), id
}

// seekKey positions the iterator at the start of the requested window.
// Reverse iterators seek to the last key <= the seek key.
func seekKey(prefix []byte, req storage.QueryRequest) []byte {
	key := append([]byte{}, prefix...)
	if req.Desc {
		if req.Until.IsZero() {
			return append(key, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		}
		// id 0 is never issued, so this excludes everything at Until
		return appendTimeID(key, req.Until, 0)
	}
	if req.Since.IsZero() {
		return key
	}
	return appendTimeID(key, req.Since, 0)
}
