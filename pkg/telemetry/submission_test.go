package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"valid", `{"device_id":"device_1","timestamp":1699123456789,"data":{"battery":{"level":80}}}`, nil},
		{"no device", `{"timestamp":1699123456789,"data":{}}`, nil},
		{"missing timestamp", `{"device_id":"d","data":{}}`, ErrTimestampMissing},
		{"missing data", `{"device_id":"d","timestamp":1}`, ErrPayloadMissing},
		{"null data", `{"timestamp":1,"data":null}`, ErrPayloadMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Submission
			require.NoError(t, json.Unmarshal([]byte(tt.body), &s))
			err := s.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSubmission_DeviceIDTooLong(t *testing.T) {
	long := make([]byte, MaxDeviceIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	id := string(long)
	ts := int64(1)
	s := Submission{DeviceID: &id, Timestamp: &ts, Data: map[string]any{}}
	assert.ErrorIs(t, s.Validate(), ErrDeviceIDTooLong)
}

func TestSubmission_Record(t *testing.T) {
	received := time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("CST", 8*3600))
	blank := "  "
	ts := int64(1699123456789)
	s := Submission{DeviceID: &blank, Timestamp: &ts, Data: map[string]any{"k": "v"}}

	rec := s.Record(received)
	assert.Nil(t, rec.DeviceID, "blank device id is unattributed")
	assert.False(t, rec.HasDevice())
	assert.Equal(t, "", rec.Device())
	assert.Equal(t, ts, rec.CapturedAtMs)
	assert.Equal(t, time.UTC, rec.ReceivedAt.Location())
	assert.True(t, rec.ReceivedAt.Equal(received))
	assert.Zero(t, rec.ID)
}

func TestRecord_JSONNullDevice(t *testing.T) {
	rec := Record{ID: 3, CapturedAtMs: 5, Payload: map[string]any{}}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"device_id":null`)
}
