package export

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/httpx"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// maxImportBytes bounds the decompressed import body
const maxImportBytes = 256 << 20

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	clock    telemetry.Clock
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Store, clock telemetry.Clock) *Handler {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Handler{
		exporter: NewExporter(store, clock),
		importer: NewImporter(store, clock),
		clock:    clock,
	}
}

// HandleExport handles GET /api/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//   - device_id: device filter (optional)
//   - gzip: "true" to compress
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format: must be 'json' or 'csv'")
		return
	}

	end, err := parseTimeParam(query.Get("end"), h.clock.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Start:    start,
		End:      end,
		DeviceID: query.Get("device_id"),
		Format:   format,
	}
	compress := query.Get("gzip") == "true"

	filename := fmt.Sprintf("devicepulse-export-%s.%s", h.clock.Now().UTC().Format("20060102-150405"), format)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	if compress {
		filename += ".gz"
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var out io.Writer = w
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		out = gz
	}

	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), out, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), out, opts)
	}
	if gz != nil {
		if closeErr := gz.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		// Headers may already be on the wire; the log is the only reliable report
		log.Printf("Export failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	log.Printf("Exported %d records (%s) from %s", result.RecordsExported, format, result.TimeRange)
}

// HandleImport handles POST /api/import
// Accepts a JSON archive, optionally gzip-encoded
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	var body io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid gzip body: %w", err))
			return
		}
		defer gz.Close()
		body = gz
	}
	body = io.LimitReader(body, maxImportBytes)

	result, err := h.importer.ImportFromJSON(r.Context(), body)
	if err != nil {
		log.Printf("Import failed: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidArchive) {
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, fmt.Errorf("import failed: %w", err))
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("Import completed with %d validation errors", len(result.Errors))
		for i, msg := range result.Errors {
			if i == 10 {
				log.Printf("   ... and %d more errors", len(result.Errors)-10)
				break
			}
			log.Printf("   - %s", msg)
		}
	}

	log.Printf("Imported %d records from %s", result.RecordsImported, result.TimeRange)
	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses an RFC3339 or bare datetime parameter, or returns def
func parseTimeParam(param string, def time.Time) (time.Time, error) {
	if param == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", param)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not an RFC3339 timestamp", param)
	}
	return t, nil
}
