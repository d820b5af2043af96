// Package metrics records run metrics for CI dashboards.
//
// Every CLI invocation is a short-lived process, so metrics are written once
// at exit in the node-exporter textfile format rather than served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "buildlens"

// Fallback reasons.
const (
	ReasonNoChanges     = "no_changes"
	ReasonNoImpacted    = "no_impacted_tests"
	ReasonVCSError      = "vcs_error"
	ReasonRunnerError   = "runner_error"
	ReasonStoreError    = "store_error"
)

// Recorder holds the metrics of one run. A nil Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	changedFiles      prometheus.Gauge
	changedFunctions  prometheus.Gauge
	impactedTests     prometheus.Gauge
	selectionRatio    prometheus.Gauge
	learnFunctions    prometheus.Gauge
	learnLinksCreated prometheus.Gauge
	runDuration       *prometheus.GaugeVec
	fallbackTotal     *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		changedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changed_files",
			Help:      "Source files changed relative to the base ref.",
		}),
		changedFunctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changed_functions",
			Help:      "Functions whose span overlaps a changed range.",
		}),
		impactedTests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "impacted_tests",
			Help:      "Learned tests linked to a changed function.",
		}),
		selectionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_ratio",
			Help:      "Impacted tests divided by all learned tests.",
		}),
		learnFunctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learn_functions",
			Help:      "Covered functions written by the last learn run.",
		}),
		learnLinksCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learn_links_created",
			Help:      "New test/function links written by the last learn run.",
		}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of each run phase.",
		}, []string{"phase"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Times the full suite ran instead of a selection.",
		}, []string{"reason"}),
	}

	r.registry.MustRegister(
		r.changedFiles,
		r.changedFunctions,
		r.impactedTests,
		r.selectionRatio,
		r.learnFunctions,
		r.learnLinksCreated,
		r.runDuration,
		r.fallbackTotal,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveSelection records the outcome of a select run. knownTests is the
// number of learned tests and is the ratio's denominator.
func (r *Recorder) ObserveSelection(changedFiles, changedFunctions, impactedTests, knownTests int) {
	if r == nil {
		return
	}
	r.changedFiles.Set(float64(changedFiles))
	r.changedFunctions.Set(float64(changedFunctions))
	r.impactedTests.Set(float64(impactedTests))
	ratio := 0.0
	if knownTests > 0 {
		ratio = float64(impactedTests) / float64(knownTests)
	}
	r.selectionRatio.Set(ratio)
}

// ObserveLearn records the outcome of a learn run.
func (r *Recorder) ObserveLearn(functions, linksCreated int) {
	if r == nil {
		return
	}
	r.learnFunctions.Set(float64(functions))
	r.learnLinksCreated.Set(float64(linksCreated))
}

// ObservePhase records how long a phase took.
func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.WithLabelValues(phase).Set(d.Seconds())
}

// Fallback counts a full-suite run.
func (r *Recorder) Fallback(reason string) {
	if r == nil {
		return
	}
	r.fallbackTotal.WithLabelValues(reason).Inc()
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
