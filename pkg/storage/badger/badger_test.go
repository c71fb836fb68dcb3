package badger

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/storage/storagetest"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_Contract(t *testing.T) {
	storagetest.RunContract(t, newTestStore)
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	var firstID uint64

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}

		ids := storagetest.Seed(t, store, storagetest.Rec("phone-1", 0, payload.Object{
			"networkInfo": map[string]any{
				"networkType": "wifi",
				"wifiInfo":    map[string]any{"signalStrength": -58.0, "ssid": "lab"},
			},
		}))
		firstID = ids[0]

		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		rec, err := store.Get(ctx, firstID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		w, ok := payload.WifiSignal(rec.Payload)
		if !ok {
			t.Fatalf("Expected wifi reading to survive reopen, payload: %v", rec.Payload)
		}
		if w.SSID != "lab" || w.SignalStrength != -58 {
			t.Errorf("Unexpected wifi reading: %+v", w)
		}

		// IDs keep increasing across restarts
		ids := storagetest.Seed(t, store, storagetest.Rec("phone-1", time.Minute, nil))
		if ids[0] <= firstID {
			t.Errorf("Expected id > %d after reopen, got %d", firstID, ids[0])
		}
	}
}

func TestBadgerStorage_UnattributedIsolatedFromDevices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storagetest.Seed(t, store,
		storagetest.Rec("", 0, nil),
		storagetest.Rec("phone-1", time.Minute, nil),
	)

	recs, err := store.Query(ctx, storage.QueryRequest{DeviceID: "phone-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Device() != "phone-1" {
		t.Errorf("Expected only phone-1 records, got %+v", recs)
	}
}

func TestBadgerStorage_LargeDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 5000
	for i := 0; i < n; i++ {
		storagetest.Seed(t, store, storagetest.Rec("phone-1", time.Duration(i)*time.Second, payload.Object{
			"battery": map[string]any{"level": float64(i % 100)},
		}))
	}

	deleted, err := store.DeleteBefore(ctx, storagetest.Base.Add(n/2*time.Second))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != n/2 {
		t.Errorf("Expected %d deleted, got %d", n/2, deleted)
	}

	count, err := store.CountAll(ctx)
	if err != nil {
		t.Fatalf("CountAll failed: %v", err)
	}
	if count != n-n/2 {
		t.Errorf("Expected %d remaining, got %d", n-n/2, count)
	}

	recs, err := store.Query(ctx, storage.QueryRequest{Limit: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 || !recs[0].ReceivedAt.Equal(storagetest.Base.Add(n/2*time.Second)) {
		t.Errorf("Expected oldest survivor at cutoff, got %+v", recs)
	}
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Query(ctx, storage.QueryRequest{}); err == nil {
		t.Error("Expected error from cancelled query")
	}
	if _, err := store.Append(ctx, storagetest.Rec("phone-1", 0, nil)); err == nil {
		t.Error("Expected error from cancelled append")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	rec := storagetest.Rec("phone-1", 1500*time.Millisecond, payload.Object{
		"foregroundApp": map[string]any{"packageName": "com.example"},
		"tags":          []any{"a", "b"},
	})
	rec.ID = 42

	data, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if got.ID != 42 || got.Device() != "phone-1" || !got.ReceivedAt.Equal(rec.ReceivedAt) {
		t.Errorf("Unexpected record header: %+v", got)
	}
	if app, ok := payload.ForegroundApp(got.Payload); !ok || app != "com.example" {
		t.Errorf("Nested object lost in round trip: %v", got.Payload)
	}

	rec.DeviceID = nil
	data, _ = encodeRecord(rec)
	got, _ = decodeRecord(data)
	if got.HasDevice() {
		t.Error("Expected unattributed record to stay unattributed")
	}
}
