package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	due  time.Time
	seq  uint64
	task *Task
}

type memoryHeap []memoryItem

func (h memoryHeap) Len() int { return len(h) }
func (h memoryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h memoryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *memoryHeap) Push(x any)   { *h = append(*h, x.(memoryItem)) }
func (h *memoryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryQueue keeps tasks in-process, ordered by due time. Tasks are lost on
// restart; use RedisQueue when workers run in another process.
type MemoryQueue struct {
	mu    sync.Mutex
	items memoryHeap
	seq   uint64
	now   func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// SetClock replaces the time source used for due times.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	copied := *task
	heap.Push(&q.items, memoryItem{due: q.now().Add(delay), seq: q.seq, task: &copied})
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].due.After(q.now()) {
		return nil, nil
	}
	item := heap.Pop(&q.items).(memoryItem)
	return item.task, nil
}

func (q *MemoryQueue) Ack(context.Context, *Task) error { return nil }

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// NextDue reports when the earliest task becomes due.
func (q *MemoryQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].due, true
}
