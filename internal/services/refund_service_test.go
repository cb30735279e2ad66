package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/testutil"
)

func amountPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := testutil.Dec(t, s)
	return &d
}

func TestRefundService_CreateRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a 100.00 payment When 50.00 is refunded Then fee 1.60 and net 48.40 come back and the payment stays succeeded", func(t *testing.T) {
		// Given
		h := newHarness(t)
		p := h.succeeded(t, "100.00")

		// When
		r, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "50.00")})

		// Then
		if err != nil {
			t.Fatal(err)
		}
		if !r.FeeRefund.Equal(testutil.Dec(t, "1.60")) || !r.NetRefund.Equal(testutil.Dec(t, "48.40")) {
			t.Errorf("fee/net = %s/%s, want 1.60/48.40", r.FeeRefund, r.NetRefund)
		}
		if r.Status != models.RefundSucceeded || len(r.Reference) != len("ref_")+32 {
			t.Errorf("refund = %s %s", r.Status, r.Reference)
		}
		if got := h.reload(t, p); got.Status != models.PaymentSucceeded {
			t.Errorf("payment status = %s, want succeeded", got.Status)
		}
		if b := h.balance(t); !b.Equal(testutil.Dec(t, "48.40")) {
			t.Errorf("balance = %s, want 48.40", b)
		}
		entries := h.ledger(t)
		last := entries[len(entries)-1]
		if last.Type != models.TransactionRefund || !last.Amount.Equal(testutil.Dec(t, "-48.40")) || last.RefundID == nil || *last.RefundID != r.ID {
			t.Errorf("refund entry = %+v", last)
		}
		h.assertLedgerReplays(t)
	})

	t.Run("Given a partial refund When the rest is refunded Then payment is refunded and further refunds are rejected as invalid state", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")
		if _, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "50.00")}); err != nil {
			t.Fatal(err)
		}

		r, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference})

		if err != nil {
			t.Fatal(err)
		}
		if !r.Amount.Equal(testutil.Dec(t, "50.00")) || !r.FeeRefund.Equal(testutil.Dec(t, "1.60")) {
			t.Errorf("refund = %s fee %s, want 50.00 fee 1.60", r.Amount, r.FeeRefund)
		}
		if got := h.reload(t, p); got.Status != models.PaymentRefunded {
			t.Errorf("payment status = %s, want refunded", got.Status)
		}
		if b := h.balance(t); !b.IsZero() {
			t.Errorf("balance = %s, want 0", b)
		}

		_, err = h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "1.00")})
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("err = %v, want InvalidStateError", err)
		}
		if errors.Is(err, ErrFullyRefunded) {
			t.Errorf("refunded payment reported FullyRefundedError: %v", err)
		}
		h.assertLedgerReplays(t)
	})

	t.Run("Given a 10.00 payment When refunded in three parts Then rounding residue lands on the last refund", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "10.00")

		total := decimal.Zero
		for _, amount := range []string{"3.33", "3.33", "3.34"} {
			r, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, amount)})
			if err != nil {
				t.Fatal(err)
			}
			total = total.Add(r.FeeRefund)
		}

		if !total.Equal(p.Fee) {
			t.Errorf("fee refunds sum to %s, want %s", total, p.Fee)
		}
		if got := h.reload(t, p); got.Status != models.PaymentRefunded {
			t.Errorf("payment status = %s, want refunded", got.Status)
		}
		if b := h.balance(t); !b.IsZero() {
			t.Errorf("balance = %s, want 0", b)
		}
	})

	t.Run("Given bad amounts When refunded Then ExceedsAvailableError or ValidationError", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")

		for _, amount := range []string{"100.01", "0", "-1.00"} {
			_, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, amount)})
			if !errors.Is(err, ErrExceedsAvailable) {
				t.Errorf("amount %s: err = %v, want ExceedsAvailableError", amount, err)
			}
		}
		_, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "1.005")})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("err = %v, want ValidationError", err)
		}
		if n := len(h.ledger(t)); n != 1 {
			t.Errorf("ledger entries = %d, want 1", n)
		}
	})

	t.Run("Given a payment that has not succeeded When refunded Then InvalidStateError", func(t *testing.T) {
		h := newHarness(t)
		p := h.initialize(t, "100.00")

		_, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference})

		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want InvalidStateError", err)
		}
	})

	t.Run("Given another merchant When refunding Then NotFoundError", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")
		other := *h.merchant
		other.ID = uuid.New()

		_, err := h.refunds.CreateRefund(ctx, &other, RefundInput{PaymentReference: p.Reference})

		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want NotFoundError", err)
		}
	})

	t.Run("Given concurrent refunds When they exceed the payment Then only the ones that fit succeed", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok, over int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "30.00")})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrExceedsAvailable):
					over++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if ok != 3 || over != 2 {
			t.Errorf("succeeded/rejected = %d/%d, want 3/2", ok, over)
		}
		h.assertLedgerReplays(t)
	})

	t.Run("Given a reused idempotency key When refunding Then DuplicateIdempotencyKeyError", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")
		in := RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "10.00"), IdempotencyKey: "refund-1"}
		if _, err := h.refunds.CreateRefund(ctx, h.merchant, in); err != nil {
			t.Fatal(err)
		}

		_, err := h.refunds.CreateRefund(ctx, h.merchant, in)

		if !errors.Is(err, ErrDuplicateIdempotencyKey) {
			t.Fatalf("err = %v, want DuplicateIdempotencyKeyError", err)
		}
		if n := len(h.ledger(t)); n != 2 {
			t.Errorf("ledger entries = %d, want 2", n)
		}
	})

	t.Run("Given a refund When it succeeds Then refund.succeeded is delivered", func(t *testing.T) {
		h := newHarness(t)
		p := h.succeeded(t, "100.00")

		r, err := h.refunds.CreateRefund(ctx, h.merchant, RefundInput{PaymentReference: p.Reference, Amount: amountPtr(t, "20.00"), Reason: "requested_by_customer"})
		if err != nil {
			t.Fatal(err)
		}
		h.drain(t)

		sent := h.sender.sentFor(EventRefundSucceeded)
		if len(sent) != 1 {
			t.Fatalf("refund.succeeded deliveries = %d, want 1", len(sent))
		}
		got, err := h.refunds.Get(ctx, h.merchant, r.Reference)
		if err != nil || got.Reason != "requested_by_customer" {
			t.Errorf("Get = %+v, %v", got, err)
		}
	})
}
