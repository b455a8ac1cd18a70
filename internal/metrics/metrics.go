// Package metrics exposes ledger counters to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/token-ledger/internal/apperr"
)

// Recorder counts ledger outcomes. The zero value is unusable; use New.
type Recorder struct {
	transfers *prometheus.CounterVec
	swaps     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers the ledger collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "transfers_total",
			Help:      "Transfer requests by outcome.",
		}, []string{"outcome"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "swaps_total",
			Help:      "Swap requests by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "operation_seconds",
			Help:      "Processing time of ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(r.transfers, r.swaps, r.latency)
	return r
}

func (r *Recorder) Transfer(err error, seconds float64) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues(Outcome(err)).Inc()
	r.latency.WithLabelValues("transfer").Observe(seconds)
}

func (r *Recorder) Swap(err error, seconds float64) {
	if r == nil {
		return
	}
	r.swaps.WithLabelValues(Outcome(err)).Inc()
	r.latency.WithLabelValues("swap").Observe(seconds)
}

// Outcome is the label for an operation result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrRuleViolation):
		return "rule_violation"
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, apperr.ErrStorageFailure):
		return "storage_failure"
	default:
		return "error"
	}
}
