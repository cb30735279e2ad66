package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/settle/internal/queue"
)

// Task kinds.
const (
	TaskPaymentCard        = "payment.card"
	TaskPaymentMobileMoney = "payment.mobile_money"
	TaskWebhookDeliver     = "webhook.deliver"
)

var (
	CardRetryPolicy = queue.RetryPolicy{
		MaxAttempts: 3,
		Schedule:    []time.Duration{30 * time.Second},
	}
	MobileMoneyRetryPolicy = queue.RetryPolicy{
		MaxAttempts: 5,
		Schedule:    []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second},
	}
	WebhookRetryPolicy = queue.RetryPolicy{
		MaxAttempts: 3,
		Base:        10 * time.Second,
	}
)

type CardTask struct {
	PaymentID uuid.UUID  `json:"payment_id"`
	Card      CardFields `json:"card"`
}

type MobileMoneyTask struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Phone     string    `json:"phone"`
	Provider  string    `json:"provider"`
}

// RegisterTasks binds the payment and webhook task kinds to the pool.
func RegisterTasks(pool *queue.Pool, payments *PaymentService, notifier *WebhookNotifier) {
	pool.Register(TaskPaymentCard, queue.Handler{
		Handle: func(ctx context.Context, task *queue.Task) error {
			var t CardTask
			if err := task.Decode(&t); err != nil {
				return err
			}
			_, err := payments.RunCardTask(ctx, t)
			return taskError(err)
		},
		Policy: CardRetryPolicy,
		OnExhausted: func(ctx context.Context, task *queue.Task, err error) {
			var t CardTask
			if task.Decode(&t) == nil {
				payments.OnCardExhausted(ctx, t.PaymentID, task.Attempt, err)
			}
		},
	})

	pool.Register(TaskPaymentMobileMoney, queue.Handler{
		Handle: func(ctx context.Context, task *queue.Task) error {
			var t MobileMoneyTask
			if err := task.Decode(&t); err != nil {
				return err
			}
			_, err := payments.RunMobileMoneyTask(ctx, t)
			return taskError(err)
		},
		Policy: MobileMoneyRetryPolicy,
		OnExhausted: func(ctx context.Context, task *queue.Task, err error) {
			var t MobileMoneyTask
			if task.Decode(&t) == nil {
				payments.OnMobileMoneyExhausted(ctx, t.PaymentID, task.Attempt, err)
			}
		},
	})

	pool.Register(TaskWebhookDeliver, queue.Handler{
		Handle:      notifier.Deliver,
		Policy:      WebhookRetryPolicy,
		OnExhausted: notifier.OnDeliveryExhausted,
	})
}

// taskError drops state-guard errors (another actor already moved the
// payment) and marks input errors as not worth retrying.
func taskError(err error) error {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyProcessed):
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return queue.Permanent(err)
	}
	return err
}
