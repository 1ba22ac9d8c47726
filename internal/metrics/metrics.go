// Package metrics counts what a scrobble run did, for export through the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rbscrobble"

// Recorder holds the run metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	samples      prometheus.Counter
	eligible     prometheus.Counter
	missing      prometheus.Counter
	submitted    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	lastRun      prometheus.Gauge
	runDuration  prometheus.Gauge
}

// New registers the metrics on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		samples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Playback log entries parsed.",
		}),
		eligible: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligible_total",
			Help:      "Plays that met the scrobble threshold and had metadata.",
		}),
		missing: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_metadata_total",
			Help:      "Eligible plays skipped for lack of artist or title.",
		}),
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submitted_total",
			Help:      "Plays accepted by a service.",
		}, []string{"service"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_total",
			Help:      "Submission failures, including accounts that could not start.",
		}, []string{"service"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Accounts that failed to authenticate.",
		}, []string{"service"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
}

// Batch records the outcome of parsing and assembling the log.
func (r *Recorder) Batch(samples, eligible, missing int) {
	r.samples.Add(float64(samples))
	r.eligible.Add(float64(eligible))
	r.missing.Add(float64(missing))
}

func (r *Recorder) Submitted(service string, n int) {
	r.submitted.WithLabelValues(service).Add(float64(n))
}

func (r *Recorder) Failed(service string, n int) {
	r.failed.WithLabelValues(service).Add(float64(n))
}

// AuthFailure counts an account that could not authenticate. It also
// counts as one failure.
func (r *Recorder) AuthFailure(service string) {
	r.authFailures.WithLabelValues(service).Inc()
	r.failed.WithLabelValues(service).Inc()
}

// Finish stamps the end of a run.
func (r *Recorder) Finish(started, finished time.Time) {
	r.lastRun.Set(float64(finished.Unix()))
	r.runDuration.Set(finished.Sub(started).Seconds())
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// WriteTextfile writes all metrics in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
