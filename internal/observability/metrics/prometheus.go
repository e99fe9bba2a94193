// Package metrics provides Prometheus metrics for the submission service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the submission service's application metrics. The
// recording methods are nil-safe so callers never have to guard on a
// missing instance; a nil receiver makes every recording a no-op.
type Metrics struct {
	SubmissionsOpened     prometheus.Counter
	InitialAccepted       prometheus.Counter
	FinalAccepted         *prometheus.CounterVec
	SubmissionsRejected   prometheus.Counter
	ValidationRuns        prometheus.Counter
	ValidationIssues      *prometheus.CounterVec
	RegulatorDuration     prometheus.Histogram
	StaleResultsDiscarded prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SubmissionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_opened_total",
			Help: "Total submissions opened",
		}),
		InitialAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_initial_accepted_total",
			Help: "Total initial submissions accepted by the regulator",
		}),
		FinalAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_final_accepted_total",
			Help: "Total final submissions accepted, by scenario",
		}, []string{"scenario"}),
		SubmissionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_rejected_total",
			Help: "Total submission attempts rejected by the regulator",
		}),
		ValidationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validation_runs_total",
			Help: "Total validation runs",
		}),
		ValidationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_issues_total",
			Help: "Total validation issues raised, by severity and origin",
		}, []string{"severity", "origin"}),
		RegulatorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regulator_call_duration_seconds",
			Help:    "Regulator call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StaleResultsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validation_stale_results_discarded_total",
			Help: "Validation results discarded because content changed mid-flight",
		}),
	}

	prometheus.MustRegister(
		m.SubmissionsOpened,
		m.InitialAccepted,
		m.FinalAccepted,
		m.SubmissionsRejected,
		m.ValidationRuns,
		m.ValidationIssues,
		m.RegulatorDuration,
		m.StaleResultsDiscarded,
	)

	return m
}

// SubmissionOpened counts a newly opened submission.
func (m *Metrics) SubmissionOpened() {
	if m == nil {
		return
	}
	m.SubmissionsOpened.Inc()
}

// InitialSubmissionAccepted counts an accepted initial submission.
func (m *Metrics) InitialSubmissionAccepted() {
	if m == nil {
		return
	}
	m.InitialAccepted.Inc()
}

// FinalSubmissionAccepted counts an accepted final submission under the
// scenario it was classified as.
func (m *Metrics) FinalSubmissionAccepted(scenario string) {
	if m == nil {
		return
	}
	m.FinalAccepted.WithLabelValues(scenario).Inc()
}

// SubmissionRejected counts a submission attempt the regulator turned
// away with errors.
func (m *Metrics) SubmissionRejected() {
	if m == nil {
		return
	}
	m.SubmissionsRejected.Inc()
}

// ValidationRun counts one pass of the local rule engine.
func (m *Metrics) ValidationRun() {
	if m == nil {
		return
	}
	m.ValidationRuns.Inc()
}

// IssueRaised counts a validation issue under its severity and origin.
func (m *Metrics) IssueRaised(severity, origin string) {
	if m == nil {
		return
	}
	m.ValidationIssues.WithLabelValues(severity, origin).Inc()
}

// RegulatorCall observes the duration of one regulator round trip.
func (m *Metrics) RegulatorCall(d time.Duration) {
	if m == nil {
		return
	}
	m.RegulatorDuration.Observe(d.Seconds())
}

// StaleResultDiscarded counts a result thrown away because the
// submission content changed while the call was in flight.
func (m *Metrics) StaleResultDiscarded() {
	if m == nil {
		return
	}
	m.StaleResultsDiscarded.Inc()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
