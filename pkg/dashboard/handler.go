// Package dashboard serves the analytics JSON API behind the web dashboard.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/devicepulse/pkg/analytics"
	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/httpx"
	"github.com/nicktill/devicepulse/pkg/payload"
)

// Handler serves /api/dashboard/*
type Handler struct {
	svc *analytics.Service
}

// NewHandler creates a dashboard handler
func NewHandler(svc *analytics.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the dashboard routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/latest", h.HandleLatest).Methods(http.MethodGet)
	r.HandleFunc("/overview", h.HandleOverview).Methods(http.MethodGet)
	r.HandleFunc("/timeline", h.HandleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/devices", h.HandleDevices).Methods(http.MethodGet)
	r.HandleFunc("/battery", h.HandleBattery).Methods(http.MethodGet)
	r.HandleFunc("/network", h.HandleNetwork).Methods(http.MethodGet)
	r.HandleFunc("/location", h.HandleLocation).Methods(http.MethodGet)
	r.HandleFunc("/apps", h.HandleApps).Methods(http.MethodGet)
}

// LatestResponse is the newest record; every field is null when the store is empty
type LatestResponse struct {
	DeviceID  *string        `json:"device_id"`
	Timestamp *int64         `json:"timestamp"`
	CreatedAt *time.Time     `json:"created_at"`
	Data      payload.Object `json:"data"`
}

// TimelineResponse wraps histogram buckets
type TimelineResponse struct {
	Timeline []analytics.Bucket `json:"timeline"`
}

// DeviceEntry is one ranked device
type DeviceEntry struct {
	DeviceID *string    `json:"device_id"`
	Count    int        `json:"count"`
	LastSeen *time.Time `json:"last_seen"`
}

// DevicesResponse lists the busiest devices
type DevicesResponse struct {
	Devices []DeviceEntry `json:"devices"`
}

// AppEntry is one ranked application
type AppEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AppsResponse lists the most frequent foreground apps
type AppsResponse struct {
	Apps []AppEntry `json:"apps"`
}

// SeriesResponse is a chart series with the value under the field's own key
type SeriesResponse struct {
	Points []map[string]any `json:"points"`
	Count  int              `json:"count"`
	Stats  analytics.Stats  `json:"stats"`
}

// HandleLatest handles GET /latest?device_id=
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	rec, err := h.svc.Latest(ctx, r.URL.Query().Get("device_id"))
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	var resp LatestResponse
	if rec != nil {
		ts := rec.CapturedAtMs
		created := rec.ReceivedAt
		resp = LatestResponse{
			DeviceID:  rec.DeviceID,
			Timestamp: &ts,
			CreatedAt: &created,
			Data:      rec.Payload,
		}
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleOverview handles GET /overview?hours=
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	hours, ok := windowHours(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	ov, err := h.svc.Overview(ctx, hours)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ov)
}

// HandleTimeline handles GET /timeline?hours=&interval=&device_id=
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	hours, ok := windowHours(w, r)
	if !ok {
		return
	}
	interval := analytics.IntervalHour
	if raw := r.URL.Query().Get("interval"); raw != "" {
		interval = analytics.ParseInterval(raw)
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	buckets, err := h.svc.Histogram(ctx, r.URL.Query().Get("device_id"), hours, interval)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, TimelineResponse{Timeline: buckets})
}

// HandleDevices handles GET /devices?limit=
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	limit, ok := rankLimit(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	ranked, err := h.svc.TopDevices(ctx, limit)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	devices := make([]DeviceEntry, len(ranked))
	for i, e := range ranked {
		devices[i] = DeviceEntry{Count: e.Count, LastSeen: e.LastSeen}
		if e.Key != "" {
			key := e.Key
			devices[i].DeviceID = &key
		}
	}
	httpx.RespondJSON(w, http.StatusOK, DevicesResponse{Devices: devices})
}

// HandleBattery handles GET /battery?hours=
func (h *Handler) HandleBattery(w http.ResponseWriter, r *http.Request) {
	h.handleSeries(w, r, analytics.FieldBattery)
}

// HandleNetwork handles GET /network?hours=
func (h *Handler) HandleNetwork(w http.ResponseWriter, r *http.Request) {
	h.handleSeries(w, r, analytics.FieldWifiSignal)
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request, field analytics.Field) {
	hours, ok := windowHours(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	summary, err := h.svc.ScalarSeries(ctx, hours, field)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	points := make([]map[string]any, len(summary.Points))
	for i, p := range summary.Points {
		point := make(map[string]any, len(p.Extras)+3)
		for k, v := range p.Extras {
			point[k] = v
		}
		point["time"] = p.Time
		point["timestamp"] = p.CapturedAtMs
		point[field.ValueKey()] = p.Value
		points[i] = point
	}
	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{
		Points: points,
		Count:  summary.Count,
		Stats:  summary.Stats,
	})
}

// HandleLocation handles GET /location?hours=
func (h *Handler) HandleLocation(w http.ResponseWriter, r *http.Request) {
	hours, ok := windowHours(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	summary, err := h.svc.Locations(ctx, hours)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, summary)
}

// HandleApps handles GET /apps?hours=&limit=
func (h *Handler) HandleApps(w http.ResponseWriter, r *http.Request) {
	hours, ok := windowHours(w, r)
	if !ok {
		return
	}
	limit, ok := rankLimit(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	ranked, err := h.svc.TopApps(ctx, hours, limit)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	apps := make([]AppEntry, len(ranked))
	for i, e := range ranked {
		apps[i] = AppEntry{Name: e.Key, Count: e.Count}
	}
	httpx.RespondJSON(w, http.StatusOK, AppsResponse{Apps: apps})
}

func windowHours(w http.ResponseWriter, r *http.Request) (int, bool) {
	hours, err := httpx.QueryInt(r, "hours", config.DefaultWindowHours, 0, config.MaxWindowHours)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return hours, true
}

func rankLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := httpx.QueryInt(r, "limit", config.DefaultRankLimit, 1, config.MaxPageLimit)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return limit, true
}
