package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// ErrDeviceLimit is returned when a new device ID would exceed the active
// device cap
var ErrDeviceLimit = errors.New("too many active devices")

// DeviceTracker caps the number of distinct device IDs seen recently.
// SAFETY: entries idle longer than idleExpiry are dropped so memory stays bounded
type DeviceTracker struct {
	mu sync.Mutex

	limit      int
	idleExpiry time.Duration
	clock      telemetry.Clock

	// device id -> last accepted submission
	lastSeen map[string]seenEntry
	seq      uint64

	lastCleanup time.Time
}

// NewDeviceTracker creates a tracker. limit <= 0 disables the cap.
func NewDeviceTracker(limit int, idleExpiry time.Duration, clock telemetry.Clock) *DeviceTracker {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &DeviceTracker{
		limit:       limit,
		idleExpiry:  idleExpiry,
		clock:       clock,
		lastSeen:    make(map[string]seenEntry),
		lastCleanup: clock.Now(),
	}
}

// Admit reserves a slot for deviceID and marks it active. The cap check and
// the reservation happen under one lock, so concurrent new devices can never
// push the tracker past its limit. If the submission is not stored after all,
// call release to hand back a slot this call reserved. Unattributed
// submissions are always allowed.
func (t *DeviceTracker) Admit(deviceID string) (release func(), err error) {
	if deviceID == "" {
		return func() {}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked()

	t.seq++
	entry := seenEntry{at: t.clock.Now(), seq: t.seq}
	if _, ok := t.lastSeen[deviceID]; ok {
		t.lastSeen[deviceID] = entry
		return func() {}, nil
	}
	if t.limit > 0 && len(t.lastSeen) >= t.limit {
		return nil, ErrDeviceLimit
	}
	t.lastSeen[deviceID] = entry

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// Keep the slot if a later submission has refreshed it
		if cur, ok := t.lastSeen[deviceID]; ok && cur.seq == entry.seq {
			delete(t.lastSeen, deviceID)
		}
	}, nil
}

// cleanupLocked forgets idle devices, at most once per idleExpiry/24.
// MUST be called with lock held
func (t *DeviceTracker) cleanupLocked() {
	now := t.clock.Now()
	if now.Sub(t.lastCleanup) < t.idleExpiry/24 {
		return
	}
	t.lastCleanup = now

	cutoff := now.Add(-t.idleExpiry)
	for id, seen := range t.lastSeen {
		if seen.at.Before(cutoff) {
			delete(t.lastSeen, id)
		}
	}
}

// Stats returns current tracker usage
func (t *DeviceTracker) Stats() DeviceTrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := DeviceTrackerStats{
		ActiveDevices: len(t.lastSeen),
		Limit:         t.limit,
	}
	if t.limit > 0 {
		stats.UtilizationPct = float64(len(t.lastSeen)) / float64(t.limit) * 100
	}
	return stats
}

type seenEntry struct {
	at  time.Time
	seq uint64
}

// DeviceTrackerStats provides device cardinality usage information
type DeviceTrackerStats struct {
	ActiveDevices  int     `json:"active_devices"`
	Limit          int     `json:"limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}
