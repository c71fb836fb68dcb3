package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nicktill/devicepulse/pkg/httpx"
	"github.com/nicktill/devicepulse/pkg/ingest"
	"github.com/nicktill/devicepulse/pkg/server/monitor"
)

// Version is reported by /health
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	Backend   string `json:"backend"`
	UsedBytes int64  `json:"used_bytes"`
	MaxBytes  int64  `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Storage   string                     `json:"storage"`
	Retention monitor.RetentionStatus    `json:"retention"`
	Devices   *ingest.DeviceTrackerStats `json:"devices,omitempty"`
}

// handleHealth returns service health status.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	overallStatus := "healthy"
	statusCode := http.StatusOK

	if !a.RetentionMonitor.IsHealthy() {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    overallStatus,
		Version:   Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Storage:   a.Config.StorageBackend,
		Retention: a.RetentionMonitor.Status(),
	}
	if tracker := a.Ingest.Devices(); tracker != nil {
		stats := tracker.Stats()
		resp.Devices = &stats
	}
	httpx.RespondJSON(w, statusCode, resp)
}

// handleStorageUsage returns current storage usage.
func (a *App) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usedBytes, err := a.StorageMonitor.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageUsage{
		Backend:   a.Config.StorageBackend,
		UsedBytes: usedBytes,
		MaxBytes:  a.StorageMonitor.GetLimit(),
	})
}

// Router builds the full HTTP handler: API routes, /metrics, the dashboard
// SPA, CORS and access logging.
func (a *App) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(a.Metrics.Middleware)

	api := router.PathPrefix("/api").Subrouter()

	// Ingest and raw data
	api.HandleFunc("/submit", a.Ingest.HandleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/data", a.Ingest.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/data/{id}", a.Ingest.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/data/{id}", a.Ingest.HandleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/stats", a.Ingest.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/ingest/ws", a.Ingest.HandleWebSocket).Methods(http.MethodGet)

	// Dashboard analytics
	a.Dashboard.Register(api.PathPrefix("/dashboard").Subrouter())

	// Backup and storage
	api.HandleFunc("/export", a.Export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", a.Export.HandleImport).Methods(http.MethodPost)
	api.HandleFunc("/storage", a.handleStorageUsage).Methods(http.MethodGet)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondErrorString(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
	})

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(spaHandler{webDir: a.Config.WebDir})

	cors := handlers.CORS(
		handlers.AllowedOrigins(a.Config.CORSOriginList()),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Content-Encoding"}),
	)
	return handlers.LoggingHandler(os.Stdout, cors(router))
}

// spaHandler serves the dashboard build: existing files as-is, everything
// else falls back to index.html for client-side routing. Unknown /api paths
// are JSON 404s.
type spaHandler struct {
	webDir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		httpx.RespondErrorString(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
		return
	}

	// Clean strips any ".." so the join stays inside webDir
	path := filepath.Join(h.webDir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}

	index := filepath.Join(h.webDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		httpx.RespondErrorString(w, http.StatusNotFound, "dashboard not built: "+index+" missing")
		return
	}
	http.ServeFile(w, r, index)
}
