package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports backtest service metrics to Prometheus.
type Recorder struct {
	runs     *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder registered with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "momentum_backtest_runs_total",
				Help: "Total number of backtest runs by outcome",
			},
			[]string{"strategy", "status"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "momentum_backtest_skipped_periods_total",
				Help: "Rebalance periods skipped because their computation failed",
			},
			[]string{"strategy"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "momentum_backtest_duration_seconds",
				Help:    "Duration of backtest runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"strategy"},
		),
	}
}

// RecordRun records one finished run. status is "ok" or an error class.
func (r *Recorder) RecordRun(strategy, status string, skipped int, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(strategy, status).Inc()
	if skipped > 0 {
		r.skipped.WithLabelValues(strategy).Add(float64(skipped))
	}
	r.duration.WithLabelValues(strategy).Observe(d.Seconds())
}
