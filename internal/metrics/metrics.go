// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from cursor runs.
//
// The package is intentionally minimal:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - A Recorder binds a Backend to a job name. A nil *Recorder, or one built
//     with a nil Backend, is a no-op, so metrics are always safe to call.
//   - Concrete metric systems live in subpackages (prompush, datadog) so the
//     cursor processor depends only on this package.
package metrics

import "time"

// Metric names emitted by Recorder.
const (
	RunsTotal           = "cursoragent_runs_total"
	RunDurationSeconds  = "cursoragent_run_duration_seconds"
	RowsTotal           = "cursoragent_rows_total"
	TerminalErrorsTotal = "cursoragent_terminal_errors_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// Nop is a Backend that discards everything.
type Nop struct{}

func (Nop) IncCounter(name string, delta float64, labels Labels)       {}
func (Nop) ObserveHistogram(name string, value float64, labels Labels) {}
func (Nop) Flush() error                                               { return nil }

// Recorder records run-level metrics for one job. It is safe for concurrent
// use when its Backend is.
type Recorder struct {
	backend Backend
	job     string
}

// NewRecorder returns a Recorder writing to b. A nil b records nothing.
func NewRecorder(b Backend, job string) *Recorder {
	if b == nil {
		b = Nop{}
	}
	if job == "" {
		job = "cursoragent"
	}
	return &Recorder{backend: b, job: job}
}

func (r *Recorder) b() Backend {
	if r == nil || r.backend == nil {
		return Nop{}
	}
	return r.backend
}

// RecordRun counts one finished run and its duration, partitioned by
// status ("success" or "failure").
func (r *Recorder) RecordRun(success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	lbls := Labels{"job": r.jobName(), "status": status}
	r.b().IncCounter(RunsTotal, 1, lbls)
	r.b().ObserveHistogram(RunDurationSeconds, d.Seconds(), lbls)
}

// RecordRows increments the row counter for kind ("processed" or
// "failed"). Non-positive deltas are ignored.
func (r *Recorder) RecordRows(kind string, delta int) {
	if delta <= 0 {
		return
	}
	r.b().IncCounter(RowsTotal, float64(delta), Labels{"job": r.jobName(), "kind": kind})
}

// RecordTerminal counts a run-aborting error of the given kind.
func (r *Recorder) RecordTerminal(kind string) {
	r.b().IncCounter(TerminalErrorsTotal, 1, Labels{"job": r.jobName(), "kind": kind})
}

// Flush delegates to the backend.
func (r *Recorder) Flush() error {
	return r.b().Flush()
}

func (r *Recorder) jobName() string {
	if r == nil || r.job == "" {
		return "cursoragent"
	}
	return r.job
}
