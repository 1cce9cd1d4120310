// Package telemetry exposes Prometheus metrics for lifecycle operations and
// proving.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pct"

// Config holds the metrics endpoint setup.
type Config struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"` // 2112 when 0
}

// Measurements collects measurements for prometheus. A nil *Measurements
// records nothing.
type Measurements struct {
	registry   *prometheus.Registry
	operations *prometheus.HistogramVec
	phases     *prometheus.HistogramVec
	proving    prometheus.Gauge
}

// New registers the metrics in reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Measurements {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Measurements{
		registry: reg,
		operations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"operation", "outcome"}),
		phases: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proving_phase_duration_seconds",
			Help:      "Time spent in each proving phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		proving: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proving_jobs_in_flight",
			Help:      "Proving jobs currently running.",
		}),
	}
}

// ObserveOperation records how long op took and whether it failed.
func (m *Measurements) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// ObservePhase records the time spent in a proving phase.
func (m *Measurements) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Observe(d.Seconds())
}

// ProvingStarted increments the in-flight gauge.
func (m *Measurements) ProvingStarted() {
	if m != nil {
		m.proving.Inc()
	}
}

// ProvingDone decrements the in-flight gauge.
func (m *Measurements) ProvingDone() {
	if m != nil {
		m.proving.Dec()
	}
}

// ProvingInFlight is the gauge of running proving jobs.
func (m *Measurements) ProvingInFlight() prometheus.Gauge {
	return m.proving
}

// Handler serves the registry in the Prometheus text format.
func (m *Measurements) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Run serves /metrics until ctx is done. If the listener fails, cancel is
// called so the rest of the process shuts down too.
func (m *Measurements) Run(ctx context.Context, cancel context.CancelFunc, port int) error {
	if port > 65535 || port < 0 {
		return fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = 2112
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()

	<-ctx.Done()
	shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdown)
}
