// Package metrics records build metrics with Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ochairo/devbox/internal/domain/entities"
)

const namespace = "devbox"

// Recorder holds the collectors for one devbox process
type Recorder struct {
	registry *prometheus.Registry

	StepsTotal       *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	DownloadsTotal   *prometheus.CounterVec
	DownloadBytes    *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	BuildInfo        *prometheus.GaugeVec
}

// NewRecorder registers every collector on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed recipe steps by kind and status",
		}, []string{"kind", "status"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Recipe step duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Completed artifact downloads",
		}, []string{"artifact"}),
		DownloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written by artifact downloads",
		}, []string{"artifact"}),
		DownloadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Artifact download duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"artifact"}),
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Recipe and variant of the last build, value is 1 on success",
		}, []string{"build_id", "recipe", "variant"}),
	}
}

// Registry exposes the underlying registry, e.g. for tests or an HTTP handler
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep records a finished step
func (r *Recorder) ObserveStep(kind entities.StepKind, status entities.StepStatus, duration time.Duration) {
	r.StepsTotal.WithLabelValues(string(kind), string(status)).Inc()
	r.StepDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// ObserveDownload records a completed download
func (r *Recorder) ObserveDownload(name string, bytes int64, duration time.Duration) {
	r.DownloadsTotal.WithLabelValues(name).Inc()
	r.DownloadBytes.WithLabelValues(name).Add(float64(bytes))
	r.DownloadDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveBuild records the build's identity and outcome
func (r *Recorder) ObserveBuild(buildID, recipe, variant string, success bool) {
	value := 0.0
	if success {
		value = 1
	}
	r.BuildInfo.WithLabelValues(buildID, recipe, variant).Set(value)
}

// WriteTextfile writes every collector in the Prometheus text format,
// suitable for the node_exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
