package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New()
	m.PaymentTransition("succeeded")
	m.PaymentTransition("succeeded")
	m.RefundSucceeded()
	m.Withdrawal()
	m.WebhookAttempt("delivered", 20*time.Millisecond)
	m.IdempotentReplay()
	m.Task("payment.card", "succeeded")

	if got := testutil.ToFloat64(m.payments.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("payments{succeeded} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.refunds); got != 1 {
		t.Errorf("refunds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.withdrawals); got != 1 {
		t.Errorf("withdrawals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tasks.WithLabelValues("payment.card", "succeeded")); got != 1 {
		t.Errorf("tasks = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.PaymentTransition("failed")
	m.RefundSucceeded()
	m.Withdrawal()
	m.WebhookAttempt("failed", time.Second)
	m.IdempotentReplay()
	m.Task("x", "y")
}
