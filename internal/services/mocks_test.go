package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/queue"
	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/testutil"
)

type fakeSender struct {
	mu       sync.Mutex
	statuses []int
	err      error
	requests []WebhookRequest
}

func (f *fakeSender) Send(_ context.Context, req WebhookRequest) (*WebhookResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	status := 200
	if len(f.statuses) > 0 {
		idx := len(f.requests) - 1
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status = f.statuses[idx]
	}
	return &WebhookResponse{StatusCode: status, Body: []byte(`{"received":true}`)}, nil
}

func (f *fakeSender) sent() []WebhookRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WebhookRequest(nil), f.requests...)
}

func (f *fakeSender) sentFor(event string) []WebhookRequest {
	var out []WebhookRequest
	for _, r := range f.sent() {
		if r.Headers[HeaderEvent] == event {
			out = append(out, r)
		}
	}
	return out
}

type fakeAdapter struct {
	mu           sync.Mutex
	initiateErr  error
	providerID   string
	initiated    []SettlementRequest
	verifyStatus *SettlementStatus
	verifyErr    error
	verifyCalls  int
	// onInitiate runs while the collection is being initiated, after the
	// request is recorded and before the result is returned.
	onInitiate func(req SettlementRequest)
}

func (f *fakeAdapter) Initiate(_ context.Context, req SettlementRequest) (*SettlementInitiation, error) {
	f.mu.Lock()
	f.initiated = append(f.initiated, req)
	hook, err, providerID := f.onInitiate, f.initiateErr, f.providerID
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	return &SettlementInitiation{ProviderID: providerID, Status: "pay-offline"}, nil
}

func (f *fakeAdapter) Verify(context.Context, string) (*SettlementStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if f.verifyStatus == nil {
		return &SettlementStatus{Status: SettlementPending}, nil
	}
	s := *f.verifyStatus
	return &s, nil
}

type fakeAlerts struct {
	mu          sync.Mutex
	deliveries  []DeliveryAlert
	settlements []SettlementAlert
}

func (f *fakeAlerts) NotifyDeliveryFailed(_ context.Context, a DeliveryAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, a)
	return nil
}

func (f *fakeAlerts) NotifySettlementExhausted(_ context.Context, a SettlementAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, a)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store    repository.Store
	clock    *testClock
	queue    *queue.MemoryQueue
	pool     *queue.Pool
	sender   *fakeSender
	adapter  *fakeAdapter
	alerts   *fakeAlerts
	notifier *WebhookNotifier
	payments *PaymentService
	refunds     *RefundService
	withdrawals *WithdrawalService
	merchant    *models.Merchant
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	logger := zap.NewNop()

	clock := &testClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue()
	q.SetClock(clock.Now)
	pool := queue.NewPool(q, 1, logger)

	sender := &fakeSender{}
	adapter := &fakeAdapter{providerID: "col_123"}
	alerts := &fakeAlerts{}

	notifier := NewWebhookNotifier(store, pool, sender, time.Second, logger).WithAlerts(alerts)
	notifier.now = clock.Now
	cards := &CardSimulator{Now: clock.Now}
	payments := NewPaymentService(store, cards, adapter, notifier, pool, logger).WithAlerts(alerts)
	refunds := NewRefundService(store, notifier, logger)
	RegisterTasks(pool, payments, notifier)

	return &harness{
		store:    store,
		clock:    clock,
		queue:    q,
		pool:     pool,
		sender:   sender,
		adapter:  adapter,
		alerts:   alerts,
		notifier: notifier,
		payments: payments,
		refunds:  refunds,
		withdrawals: NewWithdrawalService(store, logger),
		merchant: testutil.CreateMerchant(t, db, "https://merchant.test/hooks"),
	}
}

var (
	cardSuccess = CardFields{Number: "4242424242424242", ExpMonth: "12", ExpYear: "2030", CVC: "123"}
	cardDecline = CardFields{Number: "4000000000000002", ExpMonth: "12", ExpYear: "2030", CVC: "123"}
)

func (h *harness) initialize(t *testing.T, amount string) *models.Payment {
	t.Helper()
	p, err := h.payments.Initialize(context.Background(), h.merchant, InitializeInput{
		Amount:   testutil.Dec(t, amount),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func (h *harness) succeeded(t *testing.T, amount string) *models.Payment {
	t.Helper()
	p := h.initialize(t, amount)
	out, err := h.payments.ProcessCard(context.Background(), p.ID, cardSuccess)
	if err != nil || !out.Succeeded {
		t.Fatalf("ProcessCard = %+v, %v", out, err)
	}
	return out.Payment
}

// drain runs every task that is due now.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	if err := h.pool.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

// drainAll keeps advancing the clock until no task is left, retries
// included.
func (h *harness) drainAll(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		h.drain(t)
		if n, _ := h.queue.Len(context.Background()); n == 0 {
			return
		}
		h.clock.Advance(5 * time.Minute)
	}
	t.Fatal("queue did not drain")
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	m, err := h.store.Merchants().FindByID(context.Background(), h.merchant.ID)
	if err != nil {
		t.Fatalf("load merchant: %v", err)
	}
	return m.Balance
}

func (h *harness) ledger(t *testing.T) []models.Transaction {
	t.Helper()
	entries, err := h.store.Ledger().History(context.Background(), h.merchant.ID)
	if err != nil {
		t.Fatalf("ledger history: %v", err)
	}
	return entries
}

// assertLedgerReplays checks the chain reconstructs the stored balance.
func (h *harness) assertLedgerReplays(t *testing.T) {
	t.Helper()
	replayed, err := repository.Replay(h.ledger(t))
	if err != nil {
		t.Fatalf("ledger replay: %v", err)
	}
	if got := h.balance(t); !replayed.Equal(got) {
		t.Fatalf("replayed balance %s != stored balance %s", replayed, got)
	}
}

func (h *harness) reload(t *testing.T, p *models.Payment) *models.Payment {
	t.Helper()
	got, err := h.store.Payments().FindByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return got
}
