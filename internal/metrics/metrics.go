// Package metrics records operational metrics of a conversion run behind a
// small backend interface.
//
// The global backend defaults to a no-op, so the helpers are always safe to
// call. Concrete systems live in subpackages (prompush, datadog) and are
// installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers.
const (
	FilesTotal          = "delimconv_files_total"
	FileDurationSeconds = "delimconv_file_duration_seconds"
	RowsTotal           = "delimconv_rows_total"
	BytesTotal          = "delimconv_bytes_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-like value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordFile counts one converted file and observes how long it took.
// A nil err is recorded as status "success", anything else as "failure".
func RecordFile(job string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "status": status}
	b := current()
	b.IncCounter(FilesTotal, 1, lbls)
	b.ObserveHistogram(FileDurationSeconds, d.Seconds(), lbls)
}

// RecordRows adds n written rows for job. Non-positive n is ignored.
func RecordRows(job string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job})
}

// RecordBytes adds n bytes written to targets for job.
func RecordBytes(job string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(BytesTotal, float64(n), Labels{"job": job})
}
