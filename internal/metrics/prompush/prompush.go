// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Collected values are pushed to a gateway on Flush rather
// than exposed for scraping, which suits a short-lived batch process.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"delimconv/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend. The job label is the
// Pushgateway grouping key, so it is not repeated on the series.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	files    *prometheus.CounterVec // status
	duration *prometheus.SummaryVec // status
	rows     prometheus.Counter
	bytes    prometheus.Counter
}

// NewBackend constructs a backend pushing to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "delimconv"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Files converted, partitioned by status.",
		}, []string{"status"}),
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.FileDurationSeconds,
			Help:       "Per-file conversion time in seconds, partitioned by status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"status"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows written to target files.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BytesTotal,
			Help: "Bytes written to target files.",
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"files counter":    b.files,
		"duration summary": b.duration,
		"rows counter":     b.rows,
		"bytes counter":    b.bytes,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.Add(delta)
	case metrics.BytesTotal:
		b.bytes.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.FileDurationSeconds {
		return
	}
	b.duration.WithLabelValues(labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
