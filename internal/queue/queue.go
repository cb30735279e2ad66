// Package queue schedules background tasks and runs them on a worker pool
// with an explicit per-kind retry policy.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Task is one unit of background work. Attempt counts finished attempts.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	raw string
}

// NewTask encodes payload into a fresh task of the given kind.
func NewTask(kind string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

// Queue stores tasks until they are due.
type Queue interface {
	Enqueue(ctx context.Context, task *Task, delay time.Duration) error
	// Dequeue claims the next due task, or returns nil when none is due.
	Dequeue(ctx context.Context) (*Task, error)
	// Ack drops a claimed task.
	Ack(ctx context.Context, task *Task) error
	Len(ctx context.Context) (int, error)
}

// Scheduler is what request-path code needs to defer work.
type Scheduler interface {
	Enqueue(ctx context.Context, kind string, payload any) (*Task, error)
}

// RetryPolicy bounds the attempts of one task kind. Schedule, when set,
// gives the delay after the 1st, 2nd, ... failed attempt (the last value
// repeats); otherwise the delay is Base * 2^attempt.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Schedule    []time.Duration
}

// Delay returns how long to wait after `attempt` attempts have failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if len(p.Schedule) > 0 {
		idx := attempt - 1
		if idx >= len(p.Schedule) {
			idx = len(p.Schedule) - 1
		}
		return p.Schedule[idx]
	}
	return p.Base * time.Duration(1<<uint(attempt))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
