// Package metrics collects Prometheus metrics for inventory client requests.
// It exports two metrics:
//   - pharmacie_client_requests_total: Counter with operation and status labels
//   - pharmacie_client_request_duration_seconds: Histogram with operation label
//
// Transport failures are counted with status "error". Metrics live on a
// private registry and are written out in the node exporter textfile format.
package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements pharmacie.Observer.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacie_client_requests_total",
				Help: "Total inventory API requests",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharmacie_client_request_duration_seconds",
				Help:    "Inventory API request latency",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
	}
	r.registry.MustRegister(r.requests, r.duration)
	return r
}

// ObserveRequest records one completed request.
func (r *Recorder) ObserveRequest(operation string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.requests.WithLabelValues(operation, label).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteTextfile writes all metrics to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
