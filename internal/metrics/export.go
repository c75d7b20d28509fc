package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Export run outcomes used as the "outcome" label.
const (
	OutcomeSuccess        = "success"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeTokenMissing   = "token_missing"
	OutcomeLoginFailed    = "login_failed"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeNoData         = "no_data"
	OutcomeInternalError  = "internal_error"
)

// ExportMetrics holds the collectors describing personnel export runs.
// A nil *ExportMetrics records nothing.
type ExportMetrics struct {
	runs     *prometheus.CounterVec
	rows     prometheus.Histogram
	duration prometheus.Histogram
}

// NewExportMetrics creates the collectors and registers them on reg.
func NewExportMetrics(reg prometheus.Registerer) (*ExportMetrics, error) {
	m := &ExportMetrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personnel_exports_total",
				Help: "Total number of personnel export runs by outcome.",
			},
			[]string{"outcome"},
		),
		rows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "personnel_export_rows",
			Help:    "Number of personnel rows returned per successful export.",
			Buckets: []float64{1, 10, 50, 100, 250, 500},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "personnel_export_duration_seconds",
			Help:    "Wall time of export runs including portal login and fetch.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.rows, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records a finished run.
func (m *ExportMetrics) Observe(outcome string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
	if outcome == OutcomeSuccess {
		m.rows.Observe(float64(rows))
	}
}
