package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/devicepulse/pkg/payload"
)

// Submission limits
const (
	MaxDeviceIDLength = 100     // Matches the device_id column width
	MaxPayloadBytes   = 1 << 20 // Maximum request body for one snapshot
)

var (
	// ErrTimestampMissing is returned when a submission has no timestamp
	ErrTimestampMissing = errors.New("timestamp is required")

	// ErrPayloadMissing is returned when a submission has no data object
	ErrPayloadMissing = errors.New("data is required")

	// ErrDeviceIDTooLong is returned when a device ID exceeds MaxDeviceIDLength
	ErrDeviceIDTooLong = fmt.Errorf("device_id too long (max %d chars)", MaxDeviceIDLength)
)

// Submission is the body devices POST to the ingest endpoint.
type Submission struct {
	DeviceID  *string        `json:"device_id"`
	Timestamp *int64         `json:"timestamp"`
	Data      payload.Object `json:"data"`
}

// Validate checks a submission before it is stored.
func (s *Submission) Validate() error {
	if s.Timestamp == nil {
		return ErrTimestampMissing
	}
	if s.Data == nil {
		return ErrPayloadMissing
	}
	if s.DeviceID != nil && len(*s.DeviceID) > MaxDeviceIDLength {
		return fmt.Errorf("%w: got %d chars", ErrDeviceIDTooLong, len(*s.DeviceID))
	}
	return nil
}

// Record builds the record to append. receivedAt comes from the server
// clock; the store assigns the ID. A blank device ID is unattributed.
func (s *Submission) Record(receivedAt time.Time) *Record {
	var device *string
	if s.DeviceID != nil {
		device = DeviceRef(strings.TrimSpace(*s.DeviceID))
	}
	return &Record{
		DeviceID:     device,
		CapturedAtMs: *s.Timestamp,
		Payload:      s.Data,
		ReceivedAt:   receivedAt.UTC(),
	}
}
