package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func TestDeviceTracker_Limit(t *testing.T) {
	tracker := NewDeviceTracker(2, 24*time.Hour, telemetry.FixedClock(received))

	for _, id := range []string{"phone-1", "phone-2"} {
		if _, err := tracker.Admit(id); err != nil {
			t.Fatalf("Admit(%s) failed: %v", id, err)
		}
	}

	if _, err := tracker.Admit("phone-3"); !errors.Is(err, ErrDeviceLimit) {
		t.Errorf("Expected ErrDeviceLimit for a third device, got %v", err)
	}
	if _, err := tracker.Admit("phone-1"); err != nil {
		t.Errorf("Known device should pass, got %v", err)
	}
	if _, err := tracker.Admit(""); err != nil {
		t.Errorf("Unattributed submissions should pass, got %v", err)
	}

	stats := tracker.Stats()
	if stats.ActiveDevices != 2 || stats.Limit != 2 || stats.UtilizationPct != 100 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDeviceTracker_ForgetsIdleDevices(t *testing.T) {
	clock := &stepClock{now: received}
	tracker := NewDeviceTracker(1, 24*time.Hour, clock)

	if _, err := tracker.Admit("phone-1"); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := tracker.Admit("phone-2"); !errors.Is(err, ErrDeviceLimit) {
		t.Fatalf("Expected ErrDeviceLimit, got %v", err)
	}

	clock.now = received.Add(25 * time.Hour)
	if _, err := tracker.Admit("phone-2"); err != nil {
		t.Errorf("Idle device should have been forgotten, got %v", err)
	}
	if n := tracker.Stats().ActiveDevices; n != 1 {
		t.Errorf("Expected only phone-2 tracked after cleanup, got %d", n)
	}
}

func TestDeviceTracker_Disabled(t *testing.T) {
	tracker := NewDeviceTracker(0, time.Hour, nil)
	for i := 0; i < 100; i++ {
		id := string(rune('a' + i%26))
		if _, err := tracker.Admit(id); err != nil {
			t.Fatalf("Disabled tracker rejected %q: %v", id, err)
		}
	}
	if pct := tracker.Stats().UtilizationPct; pct != 0 {
		t.Errorf("Expected 0%% utilization without a limit, got %v", pct)
	}
}

func TestDeviceTracker_ConcurrentNewDevicesRespectLimit(t *testing.T) {
	const limit = 5
	tracker := NewDeviceTracker(limit, 24*time.Hour, telemetry.FixedClock(received))

	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			if _, err := tracker.Admit(id); err == nil {
				admitted.Add(1)
			} else if !errors.Is(err, ErrDeviceLimit) {
				t.Errorf("Unexpected error for %s: %v", id, err)
			}
		}(fmt.Sprintf("phone-%d", i))
	}
	close(start)
	wg.Wait()

	if n := admitted.Load(); n != limit {
		t.Errorf("Expected exactly %d devices admitted, got %d", limit, n)
	}
	if n := tracker.Stats().ActiveDevices; n != limit {
		t.Errorf("Expected %d tracked devices, got %d", limit, n)
	}
}

func TestDeviceTracker_ReleaseFreesReservedSlot(t *testing.T) {
	tracker := NewDeviceTracker(1, 24*time.Hour, telemetry.FixedClock(received))

	release, err := tracker.Admit("phone-1")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := tracker.Admit("phone-2"); !errors.Is(err, ErrDeviceLimit) {
		t.Fatalf("Expected ErrDeviceLimit while phone-1 holds the slot, got %v", err)
	}

	release()
	if _, err := tracker.Admit("phone-2"); err != nil {
		t.Errorf("Released slot should be reusable, got %v", err)
	}
}

func TestDeviceTracker_ReleaseKeepsRefreshedDevice(t *testing.T) {
	tracker := NewDeviceTracker(1, 24*time.Hour, telemetry.FixedClock(received))

	release, err := tracker.Admit("phone-1")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := tracker.Admit("phone-1"); err != nil {
		t.Fatalf("Second submission rejected: %v", err)
	}

	release()
	if n := tracker.Stats().ActiveDevices; n != 1 {
		t.Errorf("Refreshed device should stay tracked, got %d devices", n)
	}
}

func TestSubmit_StoreFailureReleasesDeviceSlot(t *testing.T) {
	tracker := NewDeviceTracker(1, 24*time.Hour, telemetry.FixedClock(received))
	h := NewHandler(brokenStore{}, telemetry.FixedClock(received))
	h.SetDeviceTracker(tracker)

	ts := int64(1)
	phone := "phone-1"
	_, err := h.Submit(context.Background(), SourceHTTP, &telemetry.Submission{DeviceID: &phone, Timestamp: &ts, Data: map[string]any{}})
	if err == nil {
		t.Fatal("Expected store failure")
	}
	if n := tracker.Stats().ActiveDevices; n != 0 {
		t.Errorf("Failed submission should not hold a device slot, got %d", n)
	}
}

func TestHandleSubmit_DeviceLimit(t *testing.T) {
	h, store, router := newTestHandler(t)
	h.SetDeviceTracker(NewDeviceTracker(1, 24*time.Hour, telemetry.FixedClock(received)))

	rr := do(t, router, http.MethodPost, "/api/submit", `{"device_id":"phone-1","timestamp":1,"data":{}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("First device rejected: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/api/submit", `{"device_id":"phone-2","timestamp":1,"data":{}}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for a new device past the cap, got %d", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/api/submit", `{"timestamp":1,"data":{}}`)
	if rr.Code != http.StatusOK {
		t.Errorf("Unattributed submission rejected: %d", rr.Code)
	}

	count, err := store.CountAll(context.Background())
	if err != nil {
		t.Fatalf("CountAll failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 stored records, got %d", count)
	}
}
