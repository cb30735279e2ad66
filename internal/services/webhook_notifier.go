package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/queue"
	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/utils"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventRefundSucceeded  = "refund.succeeded"

	HeaderSignature  = "X-Signature"
	HeaderTimestamp  = "X-Timestamp"
	HeaderEvent      = "X-Event"
	HeaderDeliveryID = "X-Delivery-ID"
)

// WebhookEnvelope is the body of every outbound webhook.
type WebhookEnvelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	CreatedAt string `json:"created_at"`
}

// DeliveryTask is the payload of a webhook.deliver task. Body is the
// encoded envelope, fixed at dispatch time so every attempt sends the same
// bytes.
type DeliveryTask struct {
	DeliveryID string          `json:"delivery_id"`
	MerchantID uuid.UUID       `json:"merchant_id"`
	URL        string          `json:"url"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}

// EventDispatcher is what the payment and refund engines need from the
// notifier.
type EventDispatcher interface {
	Dispatch(ctx context.Context, merchant *models.Merchant, event string, data any)
}

// WebhookNotifier fans events out to merchant endpoints and performs the
// signed deliveries. Delivery is at-least-once: receivers should dedupe on
// X-Delivery-ID, which stays the same across retries of one delivery.
// X-Timestamp changes on every attempt.
type WebhookNotifier struct {
	store     repository.Store
	scheduler queue.Scheduler
	sender    WebhookSender
	timeout   time.Duration
	policy    queue.RetryPolicy
	alerts    OpsAlerter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebhookNotifier(store repository.Store, scheduler queue.Scheduler, sender WebhookSender, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		store:     store,
		scheduler: scheduler,
		sender:    sender,
		timeout:   timeout,
		policy:    WebhookRetryPolicy,
		logger:    logger.Named("webhooks"),
		now:       time.Now,
	}
}

func (n *WebhookNotifier) WithAlerts(a OpsAlerter) *WebhookNotifier {
	n.alerts = a
	return n
}

func (n *WebhookNotifier) WithMetrics(m *metrics.Metrics) *WebhookNotifier {
	n.metrics = m
	return n
}

// Destinations resolves where an event goes: active subscriptions for the
// event, or the merchant's legacy URL when it has no subscriptions at all.
func (n *WebhookNotifier) Destinations(ctx context.Context, merchant *models.Merchant, event string) ([]string, error) {
	subs, err := n.store.Webhooks().ListActive(ctx, merchant.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for i := range subs {
		if subs[i].Subscribes(event) {
			add(subs[i].URL)
		}
	}
	if len(subs) == 0 {
		add(merchant.WebhookURL)
	}
	return urls, nil
}

// Dispatch schedules one delivery per destination. Failures are logged and
// never returned: notification must not affect the triggering operation.
func (n *WebhookNotifier) Dispatch(ctx context.Context, merchant *models.Merchant, event string, data any) {
	log := n.logger.With(zap.String("merchant_id", merchant.ID.String()), zap.String("event", event))

	urls, err := n.Destinations(ctx, merchant, event)
	if err != nil {
		log.Error("resolve webhook destinations", zap.Error(err))
		return
	}
	if len(urls) == 0 {
		return
	}

	body, err := json.Marshal(WebhookEnvelope{
		Event:     event,
		Data:      data,
		CreatedAt: n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error("encode webhook envelope", zap.Error(err))
		return
	}

	for _, u := range urls {
		task := DeliveryTask{
			DeliveryID: uuid.NewString(),
			MerchantID: merchant.ID,
			URL:        u,
			Event:      event,
			Body:       body,
		}
		if _, err := n.scheduler.Enqueue(ctx, TaskWebhookDeliver, task); err != nil {
			log.Error("enqueue webhook delivery", zap.String("url", u), zap.Error(err))
			continue
		}
		log.Debug("webhook delivery scheduled", zap.String("url", u), zap.String("delivery_id", task.DeliveryID))
	}
}

// Deliver performs one attempt of a webhook.deliver task and records it.
// A non-2xx status or transport error returns a DeliveryError so the worker
// pool schedules the next attempt.
func (n *WebhookNotifier) Deliver(ctx context.Context, task *queue.Task) error {
	var dt DeliveryTask
	if err := task.Decode(&dt); err != nil {
		return err
	}

	merchant, err := n.store.Merchants().FindByID(ctx, dt.MerchantID)
	if errors.Is(err, repository.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("merchant %s not found", dt.MerchantID))
	}
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(n.now().Unix(), 10)
	signature := Sign(merchant.WebhookSecret, timestamp, dt.Body)
	log := n.logger.With(
		zap.String("url", dt.URL),
		zap.String("event", dt.Event),
		zap.Int("attempt", task.Attempt))

	started := time.Now()
	resp, sendErr := n.sender.Send(ctx, WebhookRequest{
		URL:  dt.URL,
		Body: dt.Body,
		Headers: map[string]string{
			HeaderSignature:  signature,
			HeaderTimestamp:  timestamp,
			HeaderEvent:      dt.Event,
			HeaderDeliveryID: dt.DeliveryID,
		},
		Timeout: n.timeout,
	})
	took := time.Since(started)

	entry := &models.WebhookLog{
		MerchantID: dt.MerchantID,
		DeliveryID: dt.DeliveryID,
		EventType:  dt.Event,
		URL:        dt.URL,
		Payload:    datatypes.JSON(dt.Body),
		Signature:  signature,
		Attempts:   task.Attempt,
	}

	var deliveryErr error
	switch {
	case sendErr != nil:
		entry.StatusCode = 0
		entry.Response = sendErr.Error()
		deliveryErr = &ServiceError{Info: InfoDelivery, Detail: "transport error", Err: sendErr}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		entry.StatusCode = resp.StatusCode
		entry.Response = string(resp.Body)
		deliveryErr = &ServiceError{Info: InfoDelivery, Detail: fmt.Sprintf("endpoint returned status %d", resp.StatusCode)}
	default:
		entry.StatusCode = resp.StatusCode
		entry.Response = string(resp.Body)
	}

	switch {
	case deliveryErr == nil:
		entry.Outcome = models.DeliveryDelivered
	case task.Attempt >= n.policy.MaxAttempts:
		entry.Outcome = models.DeliveryFailed
	default:
		entry.Outcome = models.DeliveryRetrying
	}

	if err := n.store.WebhookLogs().Create(ctx, entry); err != nil {
		log.Error("record webhook attempt", zap.Error(err))
	}
	n.metrics.WebhookAttempt(entry.Outcome, took)

	if deliveryErr != nil {
		log.Warn("webhook delivery failed", zap.Int("status", entry.StatusCode), zap.Error(deliveryErr))
		return deliveryErr
	}
	log.Info("webhook delivered", zap.Int("status", entry.StatusCode), zap.Duration("took", took))
	return nil
}

// OnDeliveryExhausted runs once a delivery has used all its attempts.
func (n *WebhookNotifier) OnDeliveryExhausted(ctx context.Context, task *queue.Task, err error) {
	var dt DeliveryTask
	if derr := task.Decode(&dt); derr != nil {
		n.logger.Error("webhook permanently failed with undecodable task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.NamedError("decode_error", derr),
			zap.Error(err))
		return
	}
	n.logger.Error("webhook permanently failed",
		zap.String("url", dt.URL),
		zap.String("event", dt.Event),
		zap.String("delivery_id", dt.DeliveryID),
		zap.Int("attempt", task.Attempt),
		zap.Error(err))

	if n.alerts == nil {
		return
	}
	alert := DeliveryAlert{
		MerchantID: dt.MerchantID.String(),
		Event:      dt.Event,
		URL:        dt.URL,
		Attempts:   task.Attempt,
	}
	if err != nil {
		alert.LastError = err.Error()
	}
	if aerr := n.alerts.NotifyDeliveryFailed(ctx, alert); aerr != nil {
		n.logger.Warn("send delivery alert", zap.Error(aerr))
	}
}

// Logs lists the merchant's delivery attempts, newest first.
func (n *WebhookNotifier) Logs(ctx context.Context, merchant *models.Merchant, page repository.Page) ([]models.WebhookLog, int64, error) {
	return n.store.WebhookLogs().ListByMerchant(ctx, merchant.ID, page)
}

type WebhookSettingsInput struct {
	URL              *string
	RegenerateSecret bool
}

// UpdateSettings changes the legacy webhook URL and optionally rotates the
// signing secret. The new secret is returned once and only when rotated.
func (n *WebhookNotifier) UpdateSettings(ctx context.Context, merchant *models.Merchant, in WebhookSettingsInput) (*models.Merchant, string, error) {
	updates := map[string]any{}
	if in.URL != nil {
		u := strings.TrimSpace(*in.URL)
		if u != "" && !validWebhookURL(u) {
			return nil, "", validationError("invalid_webhook_url", "Webhook URL must be an absolute http(s) URL")
		}
		updates["webhook_url"] = u
	}

	var secret string
	if in.RegenerateSecret {
		s, err := NewWebhookSecret()
		if err != nil {
			return nil, "", err
		}
		secret = s
		updates["webhook_secret"] = s
	}

	if len(updates) > 0 {
		if err := n.store.Merchants().Update(ctx, merchant.ID, updates); err != nil {
			return nil, "", storeError(err, "merchant")
		}
	}

	updated, err := n.store.Merchants().FindByID(ctx, merchant.ID)
	if err != nil {
		return nil, "", storeError(err, "merchant")
	}
	return updated, secret, nil
}

// NewWebhookSecret returns a fresh signing secret.
func NewWebhookSecret() (string, error) {
	h, err := utils.RandomHex(32)
	if err != nil {
		return "", err
	}
	return "whsec_" + h, nil
}

// Sign computes hex(HMAC-SHA256(timestamp + "." + body, secret)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received webhook in constant time.
func VerifySignature(secret, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func validWebhookURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
