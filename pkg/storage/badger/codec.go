package badger

import (
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// storedRecord is the on-disk form of a record. Integer keys keep the
// encoding compact; receive time is kept as Unix nanoseconds so the value
// round-trips exactly.
type storedRecord struct {
	ID           uint64         `cbor:"1,keyasint"`
	DeviceID     *string        `cbor:"2,keyasint,omitempty"`
	CapturedAtMs int64          `cbor:"3,keyasint"`
	ReceivedAt   int64          `cbor:"4,keyasint"`
	Payload      map[string]any `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}

	// Nested payload objects must come back as map[string]any, not the
	// CBOR default map[interface{}]interface{}, or payload lookups miss them.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("badger: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeRecord serializes a record to bytes
func encodeRecord(rec *telemetry.Record) ([]byte, error) {
	return encMode.Marshal(storedRecord{
		ID:           rec.ID,
		DeviceID:     rec.DeviceID,
		CapturedAtMs: rec.CapturedAtMs,
		ReceivedAt:   rec.ReceivedAt.UnixNano(),
		Payload:      rec.Payload,
	})
}

// decodeRecord deserializes bytes to a record
func decodeRecord(data []byte) (telemetry.Record, error) {
	var sr storedRecord
	if err := decMode.Unmarshal(data, &sr); err != nil {
		return telemetry.Record{}, err
	}
	return telemetry.Record{
		ID:           sr.ID,
		DeviceID:     sr.DeviceID,
		CapturedAtMs: sr.CapturedAtMs,
		Payload:      payload.Object(sr.Payload),
		ReceivedAt:   time.Unix(0, sr.ReceivedAt).UTC(),
	}, nil
}
