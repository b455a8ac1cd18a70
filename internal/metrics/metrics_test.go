package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_CountsByOutcome(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.Transfer(nil, 0.01)
	r.Transfer(nil, 0.02)
	r.Transfer(fmt.Errorf("x: %w", apperr.ErrInsufficientBalance), 0.01)
	r.Swap(apperr.ErrConflict, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transfers.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transfers.WithLabelValues("insufficient_balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.swaps.WithLabelValues("conflict")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Transfer(nil, 1)
	r.Swap(errors.New("x"), 1)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "storage_failure", Outcome(apperr.Storage("op", errors.New("down"))))
	assert.Equal(t, "error", Outcome(errors.New("other")))
}
