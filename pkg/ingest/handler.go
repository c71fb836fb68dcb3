// Package ingest accepts device snapshots over HTTP, WebSocket and Kafka
// and exposes raw record access.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/httpx"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Ingest sources, used as the metrics label
const (
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
	SourceKafka     = "kafka"
)

// ErrStorageFull is returned when the disk budget is exhausted
var ErrStorageFull = errors.New("storage limit exceeded")

// StorageChecker reports disk usage against the configured budget.
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Recorder observes ingest outcomes. err is nil on success.
type Recorder interface {
	RecordIngest(source string, err error)
}

// Handler handles snapshot ingestion and raw data access
type Handler struct {
	storage        storage.Store
	clock          telemetry.Clock
	storageChecker StorageChecker
	devices        *DeviceTracker
	recorder       Recorder
}

// NewHandler creates a new ingest handler
func NewHandler(store storage.Store, clock telemetry.Clock) *Handler {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Handler{storage: store, clock: clock}
}

// SetStorageChecker enables rejecting writes once the disk budget is used up
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetDeviceTracker enables the active device cap
func (h *Handler) SetDeviceTracker(t *DeviceTracker) {
	h.devices = t
}

// Devices returns the attached device tracker, or nil
func (h *Handler) Devices() *DeviceTracker {
	return h.devices
}

// SetRecorder attaches an ingest metrics recorder
func (h *Handler) SetRecorder(r Recorder) {
	h.recorder = r
}

// SubmitResponse acknowledges a stored snapshot
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      uint64 `json:"id,omitempty"`
}

// StatsResponse is the body of /api/stats
type StatsResponse struct {
	TotalCount  int                   `json:"total_count"`
	DeviceStats []storage.DeviceCount `json:"device_stats"`
}

// Submit validates a submission and appends it, stamped with the server
// clock. All ingest transports go through here.
func (h *Handler) Submit(ctx context.Context, source string, sub *telemetry.Submission) (*telemetry.Record, error) {
	rec, err := h.submit(ctx, sub)
	if h.recorder != nil {
		h.recorder.RecordIngest(source, err)
	}
	return rec, err
}

func (h *Handler) submit(ctx context.Context, sub *telemetry.Submission) (*telemetry.Record, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if h.storageChecker != nil {
		used, err := h.storageChecker.GetUsage()
		if err != nil {
			log.Printf("Failed to check storage usage: %v", err)
		} else if limit := h.storageChecker.GetLimit(); limit > 0 && used >= limit {
			return nil, fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, used, limit)
		}
	}

	rec := sub.Record(h.clock.Now())
	release := func() {}
	if h.devices != nil {
		var err error
		if release, err = h.devices.Admit(rec.Device()); err != nil {
			return nil, fmt.Errorf("%w: device %q not admitted", err, rec.Device())
		}
	}
	if _, err := h.storage.Append(ctx, rec); err != nil {
		release()
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	return rec, nil
}

// HandleSubmit handles POST /api/submit
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	sub, err := decodeSubmission(io.LimitReader(r.Body, telemetry.MaxPayloadBytes+1))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.Submit(ctx, SourceHTTP, sub)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, SubmitResponse{
		Success: true,
		Message: "data saved",
		ID:      rec.ID,
	})
}

// HandleList handles GET /api/data, newest first
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", config.DefaultPageLimit, 1, config.MaxPageLimit)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0, 0, int(^uint(0)>>1))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	records, err := h.storage.Query(ctx, storage.QueryRequest{
		DeviceID: r.URL.Query().Get("device_id"),
		Limit:    limit,
		Offset:   offset,
		Desc:     true,
	})
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, records)
}

// HandleGet handles GET /api/data/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.storage.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /api/data/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.storage.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, SubmitResponse{Success: true, Message: "data deleted"})
}

// HandleStats handles GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	total, err := h.storage.CountAll(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	devices, err := h.storage.DeviceCounts(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StatsResponse{
		TotalCount:  total,
		DeviceStats: devices,
	})
}

// decodeSubmission reads and parses one size-limited submission body.
func decodeSubmission(r io.Reader) (*telemetry.Submission, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > telemetry.MaxPayloadBytes {
		return nil, fmt.Errorf("body too large (max %d bytes)", telemetry.MaxPayloadBytes)
	}
	return parseSubmission(data)
}

func parseSubmission(data []byte) (*telemetry.Submission, error) {
	var sub telemetry.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &sub, nil
}

func recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// IsValidationError reports whether err rejects the submission itself
// rather than signalling a server-side failure.
func IsValidationError(err error) bool {
	return errors.Is(err, telemetry.ErrTimestampMissing) ||
		errors.Is(err, telemetry.ErrPayloadMissing) ||
		errors.Is(err, telemetry.ErrDeviceIDTooLong)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, ErrDeviceLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
