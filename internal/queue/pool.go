package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler processes one task kind.
type Handler struct {
	Handle      func(ctx context.Context, task *Task) error
	Policy      RetryPolicy
	OnExhausted func(ctx context.Context, task *Task, err error)
}

// Observer receives one call per finished attempt: result is
// succeeded, retrying or failed.
type Observer func(kind, result string)

// Pool runs registered handlers against a Queue.
type Pool struct {
	queue    Queue
	workers  int
	poll     time.Duration
	logger   *zap.Logger
	observe  Observer
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewPool(q Queue, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:    q,
		workers:  workers,
		poll:     250 * time.Millisecond,
		logger:   logger,
		observe:  func(string, string) {},
		handlers: make(map[string]Handler),
	}
}

// SetObserver installs a per-attempt callback, typically a metrics counter.
func (p *Pool) SetObserver(o Observer) {
	if o != nil {
		p.observe = o
	}
}

func (p *Pool) Register(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Enqueue schedules a new task for immediate processing.
func (p *Pool) Enqueue(ctx context.Context, kind string, payload any) (*Task, error) {
	task, err := NewTask(kind, payload)
	if err != nil {
		return nil, err
	}
	if err := p.queue.Enqueue(ctx, task, 0); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return task, nil
}

// Run blocks until ctx is cancelled. Tasks in flight finish with a
// context that is no longer cancelled by the caller.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", zap.Int("workers", p.workers))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}

	if r, ok := p.queue.(interface {
		Recover(context.Context) (int, error)
	}); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := r.Recover(ctx); err != nil {
						p.logger.Warn("recover stale tasks", zap.Error(err))
					} else if n > 0 {
						p.logger.Info("recovered stale tasks", zap.Int("count", n))
					}
				}
			}
		}()
	}

	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := p.ProcessNext(context.WithoutCancel(ctx))
		if err != nil {
			p.logger.Error("dequeue task", zap.Error(err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// ProcessNext runs at most one due task and reports whether it found one.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	task, err := p.queue.Dequeue(ctx)
	if err != nil || task == nil {
		return false, err
	}
	p.process(ctx, task)
	return true, nil
}

// Drain processes due tasks until none remain due. Retries scheduled in the
// future are left in the queue.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := p.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

func (p *Pool) process(ctx context.Context, task *Task) {
	log := p.logger.With(zap.String("task", task.Kind), zap.String("task_id", task.ID))

	p.mu.RLock()
	h, ok := p.handlers[task.Kind]
	p.mu.RUnlock()
	if !ok {
		log.Error("no handler registered, dropping task")
		p.ack(ctx, task)
		return
	}

	task.Attempt++
	err := p.run(ctx, h, task)
	p.ack(ctx, task)

	if err == nil {
		p.observe(task.Kind, "succeeded")
		return
	}

	if !IsPermanent(err) && task.Attempt < h.Policy.MaxAttempts {
		delay := h.Policy.Delay(task.Attempt)
		log.Warn("task failed, retrying",
			zap.Int("attempt", task.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		next := *task
		next.raw = ""
		if qerr := p.queue.Enqueue(ctx, &next, delay); qerr != nil {
			log.Error("re-enqueue task", zap.Error(qerr))
		}
		p.observe(task.Kind, "retrying")
		return
	}

	log.Error("task permanently failed", zap.Int("attempt", task.Attempt), zap.Error(err))
	p.observe(task.Kind, "failed")
	if h.OnExhausted != nil {
		h.OnExhausted(ctx, task, err)
	}
}

func (p *Pool) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic in %s handler: %v", task.Kind, r))
		}
	}()
	return h.Handle(ctx, task)
}

func (p *Pool) ack(ctx context.Context, task *Task) {
	if err := p.queue.Ack(ctx, task); err != nil {
		p.logger.Warn("ack task", zap.String("task_id", task.ID), zap.Error(err))
	}
}
