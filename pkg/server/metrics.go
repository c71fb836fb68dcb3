package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/devicepulse/pkg/ingest"
	"github.com/nicktill/devicepulse/pkg/storage"
)

// Metrics holds the server's own Prometheus collectors. Each Metrics has a
// private registry so several servers can live in one process (tests).
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ingestTotal       *prometheus.CounterVec
	retentionDeleted  prometheus.Counter
	retentionErrors   prometheus.Counter
}

// NewMetrics registers request, ingest and retention collectors plus
// gauges that read the store on scrape.
func NewMetrics(store storage.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicepulse_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devicepulse_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicepulse_ingest_total",
			Help: "Snapshots received by source and outcome.",
		}, []string{"source", "outcome"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicepulse_retention_deleted_total",
			Help: "Records removed by retention passes.",
		}),
		retentionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicepulse_retention_errors_total",
			Help: "Failed retention passes.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ingestTotal,
		m.retentionDeleted,
		m.retentionErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if store != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "devicepulse_records",
				Help: "Records currently stored.",
			}, storeStat(store, func(s *storage.Stats) float64 { return float64(s.TotalRecords) })),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "devicepulse_devices",
				Help: "Distinct devices currently stored.",
			}, storeStat(store, func(s *storage.Stats) float64 { return float64(s.TotalDevices) })),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "devicepulse_storage_bytes",
				Help: "Approximate storage size reported by the backend.",
			}, storeStat(store, func(s *storage.Stats) float64 { return float64(s.SizeBytes) })),
		)
	}

	return m
}

func storeStat(store storage.Store, pick func(*storage.Stats) float64) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stats, err := store.Stats(ctx)
		if err != nil {
			return 0
		}
		return pick(stats)
	}
}

// RecordIngest implements ingest.Recorder.
func (m *Metrics) RecordIngest(source string, err error) {
	if m == nil {
		return
	}
	outcome := "stored"
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrStorageFull):
		outcome = "storage_full"
	case errors.Is(err, ingest.ErrDeviceLimit):
		outcome = "device_limit"
	case ingest.IsValidationError(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	m.ingestTotal.WithLabelValues(source, outcome).Inc()
}

// RetentionPass records the outcome of one retention pass.
func (m *Metrics) RetentionPass(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.retentionErrors.Inc()
		return
	}
	m.retentionDeleted.Add(float64(deleted))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests per mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "other"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
