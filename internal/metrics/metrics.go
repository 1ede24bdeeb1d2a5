package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_runs_total",
			Help: "Total number of extraction runs closed, by terminal status",
		},
		[]string{"source", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trawl_run_duration_seconds",
			Help:    "Duration of extraction runs from open to close in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	RecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_records_appended_total",
			Help: "Total records appended to the sink by successful runs",
		},
		[]string{"source"},
	)

	PreflightFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_preflight_failures_total",
			Help: "Invocations that failed before a run row existed",
		},
		[]string{"stage"},
	)
)

// collectors lists everything pushed to a Pushgateway.
var collectors = []prometheus.Collector{RunsTotal, RunDuration, RecordsAppended, PreflightFailures}

// RecordRun updates the metrics for a closed run.
func RecordRun(source, status string, rows int, d time.Duration) {
	RunsTotal.WithLabelValues(source, status).Inc()
	RunDuration.WithLabelValues(source).Observe(d.Seconds())
	if rows > 0 {
		RecordsAppended.WithLabelValues(source).Add(float64(rows))
	}
}

// RecordPreflight counts an invocation that failed at stage before a run was opened.
func RecordPreflight(stage string) {
	PreflightFailures.WithLabelValues(stage).Inc()
}

// Push sends the current values to a Prometheus Pushgateway. Batch invocations are
// short-lived, so scraping alone would miss them.
func Push(ctx context.Context, url, job string) error {
	p := push.New(url, job)
	for _, c := range collectors {
		p = p.Collector(c)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
