package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/queue"
	"github.com/example/settle/internal/repository"
)

// Failure reason codes stored on payments.
const (
	ReasonSettlementError     = "settlement_error"
	ReasonProviderDeclined    = "provider_declined"
	ReasonProviderUnreachable = "provider_unreachable"
	ReasonProcessingError     = "processing_error"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// PaymentService drives payments through
// initialized -> pending -> succeeded | failed, with failed -> pending on
// retry. Every money-affecting transition is a status compare-and-swap
// plus a ledger append in one unit of work; webhooks go out after commit
// and only for the caller whose swap won.
type PaymentService struct {
	store      repository.Store
	cards      *CardSimulator
	settlement SettlementAdapter
	events     EventDispatcher
	scheduler  queue.Scheduler
	alerts     OpsAlerter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewPaymentService(store repository.Store, cards *CardSimulator, settlement SettlementAdapter, events EventDispatcher, scheduler queue.Scheduler, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:      store,
		cards:      cards,
		settlement: settlement,
		events:     events,
		scheduler:  scheduler,
		logger:     logger.Named("payments"),
	}
}

func (s *PaymentService) WithAlerts(a OpsAlerter) *PaymentService {
	s.alerts = a
	return s
}

func (s *PaymentService) WithMetrics(m *metrics.Metrics) *PaymentService {
	s.metrics = m
	return s
}

type InitializeInput struct {
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  string
	CustomerEmail  string
	CustomerName   string
	Metadata       map[string]any
	IdempotencyKey string
	AppID          *uuid.UUID
	AppUserID      *uuid.UUID
}

// Outcome is the result of one processing step.
type Outcome struct {
	Payment   *models.Payment
	Succeeded bool
	Pending   bool
	Reason    string
	Message   string
}

func newReference(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// Initialize creates a payment in the initialized state with its fee and
// net amount fixed.
func (s *PaymentService) Initialize(ctx context.Context, merchant *models.Merchant, in InitializeInput) (*models.Payment, error) {
	if merchant == nil || !merchant.IsActive() {
		return nil, &ServiceError{Info: InfoForbidden, Detail: "Merchant account is not active"}
	}
	if !validAmount(in.Amount) {
		return nil, validationError("invalid_amount", "Amount must be greater than zero with at most 2 decimal places")
	}

	currency := strings.TrimSpace(in.Currency)
	if currency == "" {
		currency = merchant.Currency
	}
	if currency == "" {
		currency = "USD"
	}
	if !currencyPattern.MatchString(currency) {
		return nil, validationError("invalid_currency", "Currency must be a 3-letter code")
	}

	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentMethodCard
	}
	if method != models.PaymentMethodCard && method != models.PaymentMethodMobileMoney {
		return nil, validationError("invalid_payment_method", "Payment method must be card or mobile_money")
	}

	fee, net := CalculateFee(in.Amount)
	payment := &models.Payment{
		MerchantID:    merchant.ID,
		AppID:         in.AppID,
		AppUserID:     in.AppUserID,
		Reference:     newReference("pay_"),
		Amount:        in.Amount,
		Currency:      strings.ToUpper(currency),
		Fee:           fee,
		NetAmount:     net,
		Status:        models.PaymentInitialized,
		PaymentMethod: method,
		CustomerEmail: in.CustomerEmail,
		CustomerName:  in.CustomerName,
		Metadata:      datatypes.JSONMap(in.Metadata),
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		payment.IdempotencyKey = &key
	}

	if err := s.store.Payments().Create(ctx, payment); err != nil {
		return nil, storeError(err, "payment")
	}

	s.metrics.PaymentTransition(string(models.PaymentInitialized))
	s.logger.Info("payment initialized",
		zap.String("reference", payment.Reference),
		zap.String("merchant_id", merchant.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("currency", payment.Currency))
	return payment, nil
}

// Get returns the merchant's payment by reference.
func (s *PaymentService) Get(ctx context.Context, merchant *models.Merchant, reference string) (*models.Payment, error) {
	payment, err := s.store.Payments().FindByReference(ctx, reference)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	if payment.MerchantID != merchant.ID {
		return nil, notFound("payment not found")
	}
	return payment, nil
}

// Verify is status polling: a mobile-money payment still awaiting its
// outcome is checked with the provider first. Provider errors are logged
// and the stored state returned.
func (s *PaymentService) Verify(ctx context.Context, merchant *models.Merchant, reference string) (*models.Payment, error) {
	payment, err := s.Get(ctx, merchant, reference)
	if err != nil {
		return nil, err
	}
	if payment.PaymentMethod != models.PaymentMethodMobileMoney ||
		!payment.StatusIn(models.PaymentInitialized, models.PaymentPending) ||
		s.settlement == nil {
		return payment, nil
	}

	status, err := s.settlement.Verify(ctx, payment.Reference)
	if err != nil {
		s.logger.Warn("provider verification failed",
			zap.String("reference", payment.Reference), zap.Error(err))
		return payment, nil
	}
	return s.ReconcileFromProvider(ctx, payment.ID, *status)
}

func alreadyProcessed(p *models.Payment) error {
	return &ServiceError{
		Info:   InfoAlreadyProcessed,
		Detail: fmt.Sprintf("Payment is already %s", p.Status),
	}
}

// markPending is the retry-aware entry guard: initialized or failed
// payments move to pending, anything else is already being processed.
func (s *PaymentService) markPending(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["failure_reason"] = ""
	updates["failure_message"] = ""
	ok, err := s.store.Payments().Transition(ctx, id,
		[]models.PaymentStatus{models.PaymentInitialized, models.PaymentFailed},
		models.PaymentPending, updates)
	if err != nil {
		return storeError(err, "payment")
	}
	if ok {
		s.metrics.PaymentTransition(string(models.PaymentPending))
		return nil
	}
	current, err := s.store.Payments().FindByID(ctx, id)
	if err != nil {
		return storeError(err, "payment")
	}
	return alreadyProcessed(current)
}

// ProcessCard runs a card payment end to end in the caller's goroutine.
func (s *PaymentService) ProcessCard(ctx context.Context, paymentID uuid.UUID, card CardFields) (*Outcome, error) {
	if err := s.markPending(ctx, paymentID, map[string]any{"payment_method": models.PaymentMethodCard}); err != nil {
		return nil, err
	}
	return s.authorizeCard(ctx, paymentID, card)
}

// SubmitCard is the request path: the payment moves to pending and the
// authorization is left to a worker.
func (s *PaymentService) SubmitCard(ctx context.Context, merchant *models.Merchant, reference string, card CardFields) (*models.Payment, error) {
	payment, err := s.Get(ctx, merchant, reference)
	if err != nil {
		return nil, err
	}
	if !payment.StatusIn(models.PaymentInitialized, models.PaymentFailed) {
		return nil, alreadyProcessed(payment)
	}
	previous := payment.Status
	if err := s.markPending(ctx, payment.ID, map[string]any{"payment_method": models.PaymentMethodCard}); err != nil {
		return nil, err
	}
	if _, err := s.scheduler.Enqueue(ctx, TaskPaymentCard, CardTask{PaymentID: payment.ID, Card: card}); err != nil {
		s.revertPending(ctx, payment.ID, previous)
		return nil, fmt.Errorf("schedule card processing: %w", err)
	}
	return s.store.Payments().FindByID(ctx, payment.ID)
}

// RunCardTask is the worker side of SubmitCard. A payment that is no
// longer pending was settled by someone else and is left alone.
func (s *PaymentService) RunCardTask(ctx context.Context, t CardTask) (*Outcome, error) {
	payment, err := s.store.Payments().FindByID(ctx, t.PaymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	if payment.Status != models.PaymentPending {
		s.logger.Info("skipping card task", zap.String("reference", payment.Reference), zap.String("status", string(payment.Status)))
		return &Outcome{Payment: payment, Succeeded: payment.Status == models.PaymentSucceeded}, nil
	}
	return s.authorizeCard(ctx, t.PaymentID, t.Card)
}

func (s *PaymentService) authorizeCard(ctx context.Context, id uuid.UUID, card CardFields) (*Outcome, error) {
	pending := []models.PaymentStatus{models.PaymentPending}

	if decline := s.cards.Validate(card); decline != nil {
		return s.fail(ctx, id, pending, decline.Reason, decline.Message, nil)
	}

	auth, err := s.cards.Authorize(ctx, card)
	if err != nil {
		return s.fail(ctx, id, pending, ReasonProcessingError, "Processing error. Please try again.", nil)
	}
	if !auth.Approved {
		return s.fail(ctx, id, pending, auth.Decline.Reason, auth.Decline.Message, nil)
	}

	return s.succeed(ctx, id, pending, map[string]any{
		"card_last4":     auth.Last4,
		"card_brand":     auth.Brand,
		"card_exp_month": strings.TrimSpace(card.ExpMonth),
		"card_exp_year":  strings.TrimSpace(card.ExpYear),
	}, nil)
}

func mobileMoneyMetadata(p *models.Payment, phone, provider string) datatypes.JSONMap {
	meta := datatypes.JSONMap{}
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta["mobile_money_provider"] = provider
	meta["phone_number"] = phone
	return meta
}

func validateMobileMoney(phone, provider string) error {
	if strings.TrimSpace(phone) == "" {
		return validationError("missing_phone_number", "Phone number is required")
	}
	if strings.TrimSpace(provider) == "" {
		return validationError("missing_provider", "Mobile money provider is required")
	}
	return nil
}

// ProcessMobileMoney moves the payment to pending and initiates the
// collection. On provider failure the payment takes the failure path and
// a SettlementAdapterError is returned so a worker can retry.
func (s *PaymentService) ProcessMobileMoney(ctx context.Context, paymentID uuid.UUID, phone, provider string) (*Outcome, error) {
	if err := validateMobileMoney(phone, provider); err != nil {
		return nil, err
	}
	payment, err := s.store.Payments().FindByID(ctx, paymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	if err := s.markPending(ctx, paymentID, map[string]any{
		"payment_method": models.PaymentMethodMobileMoney,
		"metadata":       mobileMoneyMetadata(payment, phone, provider),
	}); err != nil {
		return nil, err
	}
	return s.initiateCollection(ctx, paymentID, phone, provider)
}

// SubmitMobileMoney is the request path for mobile money.
func (s *PaymentService) SubmitMobileMoney(ctx context.Context, merchant *models.Merchant, reference, phone, provider string) (*models.Payment, error) {
	if err := validateMobileMoney(phone, provider); err != nil {
		return nil, err
	}
	payment, err := s.Get(ctx, merchant, reference)
	if err != nil {
		return nil, err
	}
	if !payment.StatusIn(models.PaymentInitialized, models.PaymentFailed) {
		return nil, alreadyProcessed(payment)
	}
	previous := payment.Status
	if err := s.markPending(ctx, payment.ID, map[string]any{
		"payment_method": models.PaymentMethodMobileMoney,
		"metadata":       mobileMoneyMetadata(payment, phone, provider),
	}); err != nil {
		return nil, err
	}
	task := MobileMoneyTask{PaymentID: payment.ID, Phone: phone, Provider: provider}
	if _, err := s.scheduler.Enqueue(ctx, TaskPaymentMobileMoney, task); err != nil {
		s.revertPending(ctx, payment.ID, previous)
		return nil, fmt.Errorf("schedule mobile money processing: %w", err)
	}
	return s.store.Payments().FindByID(ctx, payment.ID)
}

// RunMobileMoneyTask is the worker side of SubmitMobileMoney. A retry after
// a settlement error re-enters pending; a payment that has moved on, or
// whose collection was already initiated, is left alone.
func (s *PaymentService) RunMobileMoneyTask(ctx context.Context, t MobileMoneyTask) (*Outcome, error) {
	payment, err := s.store.Payments().FindByID(ctx, t.PaymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}

	switch {
	case payment.Status == models.PaymentFailed && payment.FailureReason == ReasonSettlementError:
		ok, err := s.store.Payments().Transition(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentFailed}, models.PaymentPending,
			map[string]any{"failure_reason": "", "failure_message": ""})
		if err != nil {
			return nil, storeError(err, "payment")
		}
		if !ok {
			return &Outcome{Payment: payment}, nil
		}
		s.metrics.PaymentTransition(string(models.PaymentPending))
	case payment.Status != models.PaymentPending:
		s.logger.Info("skipping mobile money task", zap.String("reference", payment.Reference), zap.String("status", string(payment.Status)))
		return &Outcome{Payment: payment, Succeeded: payment.Status == models.PaymentSucceeded}, nil
	case payment.Metadata["provider_id"] != nil:
		return &Outcome{Payment: payment, Pending: true}, nil
	}

	return s.initiateCollection(ctx, t.PaymentID, t.Phone, t.Provider)
}

func (s *PaymentService) initiateCollection(ctx context.Context, id uuid.UUID, phone, provider string) (*Outcome, error) {
	payment, err := s.store.Payments().FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment")
	}

	init, err := s.settlement.Initiate(ctx, SettlementRequest{
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Phone:     phone,
		Operator:  provider,
		Reference: payment.Reference,
		Email:     payment.CustomerEmail,
	})
	if err != nil {
		s.logger.Warn("mobile money initiation failed", zap.String("reference", payment.Reference), zap.Error(err))
		outcome, ferr := s.fail(ctx, id, []models.PaymentStatus{models.PaymentPending},
			ReasonSettlementError, "Could not initiate mobile money collection", nil)
		if ferr != nil {
			return nil, ferr
		}
		if !errors.Is(err, ErrSettlementAdapter) {
			err = &ServiceError{Info: InfoSettlementAdapter, Err: err}
		}
		return outcome, err
	}

	if init != nil && init.ProviderID != "" {
		err := s.store.Atomic(ctx, func(tx repository.Store) error {
			meta, err := patchMetadata(ctx, tx, id, map[string]any{"provider_id": init.ProviderID})
			if err != nil {
				return err
			}
			return tx.Payments().Update(ctx, id, map[string]any{"metadata": meta})
		})
		if err != nil {
			s.logger.Warn("record provider id", zap.String("reference", payment.Reference), zap.Error(err))
		}
	}

	s.logger.Info("mobile money collection initiated", zap.String("reference", payment.Reference))
	payment, err = s.store.Payments().FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	return &Outcome{
		Payment:   payment,
		Succeeded: payment.Status == models.PaymentSucceeded,
		Pending:   payment.Status == models.PaymentPending,
	}, nil
}

// patchMetadata reads the payment under its row lock and returns its
// metadata with patch applied, so concurrent writers merge instead of
// overwriting each other's keys.
func patchMetadata(ctx context.Context, tx repository.Store, id uuid.UUID, patch map[string]any) (datatypes.JSONMap, error) {
	p, err := tx.Payments().LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := datatypes.JSONMap{}
	for k, v := range p.Metadata {
		meta[k] = v
	}
	for k, v := range patch {
		meta[k] = v
	}
	return meta, nil
}

// ReconcileFromProvider applies a provider-reported outcome. It is a no-op
// unless the payment is still initialized or pending, so duplicate
// callbacks and polls have exactly one effect.
func (s *PaymentService) ReconcileFromProvider(ctx context.Context, paymentID uuid.UUID, status SettlementStatus) (*models.Payment, error) {
	payment, err := s.store.Payments().FindByID(ctx, paymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	open := []models.PaymentStatus{models.PaymentInitialized, models.PaymentPending}
	if !payment.StatusIn(open...) {
		return payment, nil
	}

	var patch map[string]any
	if len(status.Raw) > 0 {
		patch = map[string]any{"provider_data": status.Raw}
	}

	var outcome *Outcome
	switch status.Status {
	case SettlementSuccessful:
		outcome, err = s.succeed(ctx, paymentID, open, nil, patch)
	case SettlementFailed:
		message := status.ReasonForFailure
		if message == "" {
			message = "Payment failed at provider"
		}
		outcome, err = s.fail(ctx, paymentID, open, ReasonProviderDeclined, message, patch)
	default:
		return payment, nil
	}
	if err != nil {
		return nil, err
	}
	return outcome.Payment, nil
}

// OnCardExhausted fails a card payment whose task ran out of attempts.
func (s *PaymentService) OnCardExhausted(ctx context.Context, paymentID uuid.UUID, attempts int, cause error) {
	s.exhausted(ctx, paymentID, models.PaymentMethodCard, ReasonProcessingError,
		"Processing error. Please try again.", attempts, cause)
}

// OnMobileMoneyExhausted gives up on reaching the provider.
func (s *PaymentService) OnMobileMoneyExhausted(ctx context.Context, paymentID uuid.UUID, attempts int, cause error) {
	s.exhausted(ctx, paymentID, models.PaymentMethodMobileMoney, ReasonProviderUnreachable,
		"Could not reach mobile money provider. Please try again.", attempts, cause)
}

func (s *PaymentService) exhausted(ctx context.Context, id uuid.UUID, method, reason, message string, attempts int, cause error) {
	outcome, err := s.fail(ctx, id, []models.PaymentStatus{models.PaymentPending}, reason, message, nil)
	if err != nil {
		s.logger.Error("fail exhausted payment", zap.String("payment_id", id.String()), zap.Error(err))
		return
	}
	payment := outcome.Payment
	if payment.Status == models.PaymentFailed && payment.FailureReason != reason {
		// already failed by the last attempt; only the reason changes
		if _, err := s.store.Payments().Transition(ctx, id,
			[]models.PaymentStatus{models.PaymentFailed}, models.PaymentFailed,
			map[string]any{"failure_reason": reason, "failure_message": message}); err != nil {
			s.logger.Error("update failure reason", zap.String("payment_id", id.String()), zap.Error(err))
		}
	}

	s.logger.Error("payment processing permanently failed",
		zap.String("reference", payment.Reference),
		zap.Int("attempt", attempts),
		zap.Error(cause))

	if s.alerts != nil {
		alert := SettlementAlert{Reference: payment.Reference, Method: method, Attempts: attempts}
		if cause != nil {
			alert.LastError = cause.Error()
		}
		if err := s.alerts.NotifySettlementExhausted(ctx, alert); err != nil {
			s.logger.Warn("send settlement alert", zap.Error(err))
		}
	}
}

// succeed applies the success path: status swap from one of `from`,
// balance += net and a charge entry, atomically. metaPatch is merged into
// the stored metadata.
func (s *PaymentService) succeed(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, updates, metaPatch map[string]any) (*Outcome, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}

	var payment *models.Payment
	won := false
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		if len(metaPatch) > 0 {
			meta, err := patchMetadata(ctx, tx, id, metaPatch)
			if err != nil {
				return err
			}
			values["metadata"] = meta
		}
		ok, err := tx.Payments().Transition(ctx, id, from, models.PaymentSucceeded, values)
		if err != nil || !ok {
			return err
		}
		p, err := tx.Payments().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Ledger().Append(ctx, repository.LedgerPosting{
			MerchantID: p.MerchantID,
			PaymentID:  p.ID,
			Type:       models.TransactionCharge,
			Amount:     p.NetAmount,
		}); err != nil {
			return err
		}
		payment, won = p, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply payment success: %w", err)
	}
	return s.settled(ctx, id, payment, won, EventPaymentSucceeded)
}

// fail applies the failure path: status swap from one of `from` and a
// zero-amount failed entry, atomically. metaPatch is merged into the
// stored metadata.
func (s *PaymentService) fail(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, reason, message string, metaPatch map[string]any) (*Outcome, error) {
	values := map[string]any{"failure_reason": reason, "failure_message": message}

	var payment *models.Payment
	won := false
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		if len(metaPatch) > 0 {
			meta, err := patchMetadata(ctx, tx, id, metaPatch)
			if err != nil {
				return err
			}
			values["metadata"] = meta
		}
		ok, err := tx.Payments().Transition(ctx, id, from, models.PaymentFailed, values)
		if err != nil || !ok {
			return err
		}
		p, err := tx.Payments().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Ledger().Append(ctx, repository.LedgerPosting{
			MerchantID: p.MerchantID,
			PaymentID:  p.ID,
			Type:       models.TransactionFailed,
			Amount:     decimal.Zero,
		}); err != nil {
			return err
		}
		payment, won = p, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply payment failure: %w", err)
	}
	outcome, err := s.settled(ctx, id, payment, won, EventPaymentFailed)
	if err != nil {
		return nil, err
	}
	if won {
		outcome.Reason, outcome.Message = reason, message
	}
	return outcome, nil
}

func (s *PaymentService) settled(ctx context.Context, id uuid.UUID, payment *models.Payment, won bool, event string) (*Outcome, error) {
	if !won {
		current, err := s.store.Payments().FindByID(ctx, id)
		if err != nil {
			return nil, storeError(err, "payment")
		}
		return &Outcome{
			Payment:   current,
			Succeeded: current.Status == models.PaymentSucceeded,
			Pending:   current.Status == models.PaymentPending,
			Reason:    current.FailureReason,
			Message:   current.FailureMessage,
		}, nil
	}

	s.metrics.PaymentTransition(string(payment.Status))
	s.logger.Info("payment "+string(payment.Status),
		zap.String("reference", payment.Reference),
		zap.String("merchant_id", payment.MerchantID.String()),
		zap.String("failure_reason", payment.FailureReason))

	merchant, err := s.store.Merchants().FindByID(ctx, payment.MerchantID)
	if err != nil {
		s.logger.Error("load merchant for webhook", zap.String("reference", payment.Reference), zap.Error(err))
	} else {
		s.events.Dispatch(ctx, merchant, event, payment)
	}

	return &Outcome{
		Payment:   payment,
		Succeeded: payment.Status == models.PaymentSucceeded,
		Reason:    payment.FailureReason,
		Message:   payment.FailureMessage,
	}, nil
}

func (s *PaymentService) revertPending(ctx context.Context, id uuid.UUID, previous models.PaymentStatus) {
	if _, err := s.store.Payments().Transition(ctx, id,
		[]models.PaymentStatus{models.PaymentPending}, previous, nil); err != nil {
		s.logger.Error("revert pending payment", zap.String("payment_id", id.String()), zap.Error(err))
	}
}

// ProviderCallback is the inbound collection webhook body.
type ProviderCallback struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type CallbackResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	callbackIgnored   = "ignored"
	callbackProcessed = "processed"
)

// HandleProviderCallback reconciles a payment from a provider callback.
// Unknown, incomplete or stale callbacks are acknowledged without effect.
func (s *PaymentService) HandleProviderCallback(ctx context.Context, cb ProviderCallback) (CallbackResult, error) {
	if cb.Event == "" || cb.Data == nil {
		return CallbackResult{Status: callbackIgnored}, nil
	}
	reference, _ := cb.Data["reference"].(string)
	if reference == "" {
		return CallbackResult{Status: callbackIgnored, Message: "No reference found"}, nil
	}

	payment, err := s.store.Payments().FindByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return CallbackResult{Status: callbackIgnored, Message: "Payment not found"}, nil
	}
	if err != nil {
		return CallbackResult{}, err
	}
	if !payment.StatusIn(models.PaymentInitialized, models.PaymentPending) {
		return CallbackResult{Status: callbackIgnored, Message: "Already processed"}, nil
	}

	status := SettlementStatus{Raw: cb.Data}
	status.ReasonForFailure, _ = cb.Data["reasonForFailure"].(string)
	switch cb.Event {
	case "collection.successful":
		status.Status = SettlementSuccessful
	case "collection.failed":
		status.Status = SettlementFailed
	default:
		s.logger.Info("unhandled provider event", zap.String("event", cb.Event))
		return CallbackResult{Status: callbackIgnored, Message: "Unhandled event"}, nil
	}

	if _, err := s.ReconcileFromProvider(ctx, payment.ID, status); err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{Status: callbackProcessed}, nil
}
