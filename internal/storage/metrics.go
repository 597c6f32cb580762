package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "nvme_models"

// Metrics holds the manager's collectors on a private registry. The CLI is
// short-lived, so they are exported through the node_exporter textfile
// collector rather than scraped.
type Metrics struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	publishedBytes   *prometheus.CounterVec
	cleanupRemoved   *prometheus.CounterVec
	lockBusy         prometheus.Counter
	freeBytes        prometheus.Gauge
	lastSuccess      *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Storage operations by outcome",
			},
			[]string{"operation", "result"},
		),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "transfer_duration_seconds",
				Help:      "Duration of provider transfers in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"provider"},
		),
		publishedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "published_bytes_total",
				Help:      "Bytes of model data published",
			},
			[]string{"provider"},
		),
		cleanupRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "cleanup_removed_total",
				Help:      "Directories removed by cleanup",
			},
			[]string{"kind"},
		),
		lockBusy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "lock",
				Name:      "busy_total",
				Help:      "Operations rejected because the lock was held",
			},
		),
		freeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "free_bytes",
				Help:      "Free bytes on the base path at the last capacity check",
			},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "storage",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful operation",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.transferDuration,
		m.publishedBytes,
		m.cleanupRemoved,
		m.lockBusy,
		m.freeBytes,
		m.lastSuccess,
	)
	return m
}

// Gatherer exposes the registry for tests and textfile export.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every metric in the text exposition format. The
// write is atomic so node_exporter never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Gatherer()); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) observeOperation(op string, err error, now time.Time) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	if err == nil {
		m.lastSuccess.WithLabelValues(op).Set(float64(now.Unix()))
	}
}

func (m *Metrics) observeTransfer(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) addPublished(provider string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.publishedBytes.WithLabelValues(provider).Add(float64(bytes))
}

func (m *Metrics) addRemoved(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupRemoved.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) incLockBusy() {
	if m == nil {
		return
	}
	m.lockBusy.Inc()
}

func (m *Metrics) setFree(b uint64) {
	if m == nil {
		return
	}
	m.freeBytes.Set(float64(b))
}
