// Package storagetest holds behaviour tests shared by every storage.Store
// backend.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Base is the receive time fixture records are offset from.
var Base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// NewStore returns an empty store. Cleanup is the caller's job.
type NewStore func(t *testing.T) storage.Store

// Rec builds a record received offset after Base.
func Rec(device string, offset time.Duration, data payload.Object) *telemetry.Record {
	if data == nil {
		data = payload.Object{}
	}
	received := Base.Add(offset)
	return &telemetry.Record{
		DeviceID:     telemetry.DeviceRef(device),
		CapturedAtMs: received.UnixMilli(),
		Payload:      data,
		ReceivedAt:   received,
	}
}

// Seed appends records in order and returns their IDs.
func Seed(t *testing.T, store storage.Store, recs ...*telemetry.Record) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, len(recs))
	for _, rec := range recs {
		id, err := store.Append(context.Background(), rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// RunContract runs the shared behaviour tests against a backend.
func RunContract(t *testing.T, newStore NewStore) {
	t.Run("AppendAssignsIncreasingIDs", func(t *testing.T) { testAppendIDs(t, newStore(t)) })
	t.Run("GetRoundTrip", func(t *testing.T) { testGetRoundTrip(t, newStore(t)) })
	t.Run("QueryOrderAndWindow", func(t *testing.T) { testQueryWindow(t, newStore(t)) })
	t.Run("QueryDeviceFilter", func(t *testing.T) { testQueryDevice(t, newStore(t)) })
	t.Run("QueryPagination", func(t *testing.T) { testQueryPagination(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("DeleteBefore", func(t *testing.T) { testDeleteBefore(t, newStore(t)) })
	t.Run("Counts", func(t *testing.T) { testCounts(t, newStore(t)) })
	t.Run("Latest", func(t *testing.T) { testLatest(t, newStore(t)) })
	t.Run("DeviceCounts", func(t *testing.T) { testDeviceCounts(t, newStore(t)) })
	t.Run("EmptyStore", func(t *testing.T) { testEmpty(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

func testAppendIDs(t *testing.T, store storage.Store) {
	rec := Rec("phone-1", 0, nil)
	ids := Seed(t, store, rec, Rec("phone-1", time.Second, nil), Rec("", 2*time.Second, nil))

	assert.Equal(t, ids[0], rec.ID, "Append should set the record ID")
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])
}

func testGetRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	data := payload.Object{
		"battery":  map[string]any{"level": 73.0, "isCharging": true},
		"location": map[string]any{"latitude": 39.9, "longitude": 116.4},
		"foregroundApp": map[string]any{
			"packageName": "com.example.maps",
		},
	}
	ids := Seed(t, store, Rec("phone-1", 0, data))

	got, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "phone-1", got.Device())
	assert.True(t, got.ReceivedAt.Equal(Base), "received %v, want %v", got.ReceivedAt, Base)
	assert.Equal(t, Base.UnixMilli(), got.CapturedAtMs)

	b, ok := payload.BatteryLevel(got.Payload)
	require.True(t, ok)
	assert.Equal(t, 73.0, b.Level)
	assert.Equal(t, true, b.IsCharging)

	app, ok := payload.ForegroundApp(got.Payload)
	require.True(t, ok)
	assert.Equal(t, "com.example.maps", app)

	_, err = store.Get(ctx, ids[0]+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testQueryWindow(t *testing.T, store storage.Store) {
	ctx := context.Background()
	// Appended out of receive order on purpose
	Seed(t, store,
		Rec("a", 2*time.Hour, nil),
		Rec("b", 0, nil),
		Rec("c", time.Hour, nil),
		Rec("d", 3*time.Hour, nil),
	)

	all, err := store.Query(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d"}, devices(all))

	desc, err := store.Query(ctx, storage.QueryRequest{Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "c", "b"}, devices(desc))

	window, err := store.Query(ctx, storage.QueryRequest{
		Since: Base.Add(time.Hour),
		Until: Base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, devices(window), "Since is inclusive, Until exclusive")

	windowDesc, err := store.Query(ctx, storage.QueryRequest{
		Since: Base.Add(time.Hour),
		Until: Base.Add(3 * time.Hour),
		Desc:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, devices(windowDesc))
}

func testQueryDevice(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Seed(t, store,
		Rec("phone-1", 0, nil),
		Rec("phone-2", time.Minute, nil),
		Rec("", 2*time.Minute, nil),
		Rec("phone-1", 3*time.Minute, nil),
	)

	recs, err := store.Query(ctx, storage.QueryRequest{DeviceID: "phone-1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].ReceivedAt.Before(recs[1].ReceivedAt))

	recs, err = store.Query(ctx, storage.QueryRequest{DeviceID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testQueryPagination(t *testing.T, store storage.Store) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		Seed(t, store, Rec("phone-1", time.Duration(i)*time.Minute, nil))
	}

	page, err := store.Query(ctx, storage.QueryRequest{Desc: true, Limit: 3, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, page[0].ReceivedAt.Equal(Base.Add(7*time.Minute)))
	assert.True(t, page[2].ReceivedAt.Equal(Base.Add(5*time.Minute)))

	past, err := store.Query(ctx, storage.QueryRequest{Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func testDelete(t *testing.T, store storage.Store) {
	ctx := context.Background()
	ids := Seed(t, store, Rec("phone-1", 0, nil), Rec("phone-1", time.Minute, nil))

	require.NoError(t, store.Delete(ctx, ids[0]))
	assert.ErrorIs(t, store.Delete(ctx, ids[0]), storage.ErrNotFound)

	_, err := store.Get(ctx, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)

	recs, err := store.Query(ctx, storage.QueryRequest{DeviceID: "phone-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ids[1], recs[0].ID)
}

func testDeleteBefore(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Seed(t, store,
		Rec("old", 0, nil),
		Rec("old", time.Hour, nil),
		Rec("new", 2*time.Hour, nil),
	)

	deleted, err := store.DeleteBefore(ctx, Base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	devices, err := store.CountDistinctDevices(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, devices)

	deleted, err = store.DeleteBefore(ctx, Base)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func testCounts(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Seed(t, store,
		Rec("phone-1", 0, nil),
		Rec("phone-2", time.Hour, nil),
		Rec("", 2*time.Hour, nil),
		Rec("", 3*time.Hour, nil),
		Rec("phone-1", 4*time.Hour, nil),
	)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	distinct, err := store.CountDistinctDevices(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, distinct, "unattributed records count as one device")

	since := Base.Add(2 * time.Hour)
	windowed, err := store.CountSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 3, windowed, "since is inclusive")

	late, err := store.CountSince(ctx, Base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, late)

	early, err := store.CountSince(ctx, Base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, early)

	recent, err := store.CountDistinctDevices(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 2, recent)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.TotalRecords)
	assert.Equal(t, uint64(3), stats.TotalDevices)
	assert.True(t, stats.OldestRecord.Equal(Base))
	assert.True(t, stats.NewestRecord.Equal(Base.Add(4*time.Hour)))
}

func testLatest(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Seed(t, store,
		Rec("phone-1", time.Hour, payload.Object{"n": 1.0}),
		Rec("phone-2", 2*time.Hour, payload.Object{"n": 2.0}),
		Rec("phone-1", 30*time.Minute, payload.Object{"n": 3.0}),
	)

	latest, err := store.Latest(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "phone-2", latest.Device())

	latest, err = store.Latest(ctx, "phone-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.ReceivedAt.Equal(Base.Add(time.Hour)), "latest is by receive time, not append order")

	latest, err = store.Latest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func testDeviceCounts(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Seed(t, store,
		Rec("b", 0, nil),
		Rec("a", time.Minute, nil),
		Rec("", 2*time.Minute, nil),
		Rec("a", 3*time.Minute, nil),
	)

	counts, err := store.DeviceCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 3)

	require.NotNil(t, counts[0].DeviceID)
	assert.Equal(t, "b", *counts[0].DeviceID)
	assert.Equal(t, 1, counts[0].Count)
	require.NotNil(t, counts[1].DeviceID)
	assert.Equal(t, "a", *counts[1].DeviceID)
	assert.Equal(t, 2, counts[1].Count)
	assert.Nil(t, counts[2].DeviceID)
	assert.Equal(t, 1, counts[2].Count)
}

func testEmpty(t *testing.T, store storage.Store) {
	ctx := context.Background()

	recs, err := store.Query(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	latest, err := store.Latest(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, latest)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	distinct, err := store.CountDistinctDevices(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, distinct)

	windowed, err := store.CountSince(ctx, Base)
	require.NoError(t, err)
	assert.Zero(t, windowed)

	counts, err := store.DeviceCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func testConcurrentAppends(t *testing.T, store storage.Store) {
	const (
		writers   = 8
		perWriter = 25
	)

	var wg sync.WaitGroup
	ids := make(chan uint64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id, err := store.Append(context.Background(), Rec("phone", time.Duration(w*perWriter+i)*time.Millisecond, nil))
				assert.NoError(t, err)
				ids <- id
			}
		}(w)
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	count, err := store.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, count)
}

func devices(recs []telemetry.Record) []string {
	out := make([]string, len(recs))
	for i := range recs {
		out[i] = recs[i].Device()
	}
	return out
}
