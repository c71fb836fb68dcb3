// Package telemetry defines the unit of data devicepulse stores: one device
// snapshot plus the server's receipt time.
package telemetry

import (
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
)

// Record is one stored telemetry snapshot.
type Record struct {
	// ID is assigned by the store on append and never changes.
	ID uint64 `json:"id"`

	// DeviceID is nil for snapshots from unattributed devices.
	DeviceID *string `json:"device_id"`

	// CapturedAtMs is the device clock in epoch milliseconds. Untrusted:
	// it may be skewed, duplicated or out of order.
	CapturedAtMs int64 `json:"timestamp"`

	// Payload is the raw snapshot. Analytics only read it.
	Payload payload.Object `json:"data"`

	// ReceivedAt is the server receipt time (UTC) and the key for every
	// windowed query and for retention.
	ReceivedAt time.Time `json:"created_at"`
}

// Device returns the device ID, or "" for unattributed records.
func (r *Record) Device() string {
	if r.DeviceID == nil {
		return ""
	}
	return *r.DeviceID
}

// HasDevice reports whether the record is attributed to a device.
func (r *Record) HasDevice() bool {
	return r.DeviceID != nil
}

// DeviceRef converts a device ID into its optional form. Empty means
// unattributed.
func DeviceRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
