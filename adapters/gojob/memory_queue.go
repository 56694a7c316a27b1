package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a single-process queue for the refresh worker. Messages
// carrying an idempotency key are dropped while an earlier copy is still
// pending or in flight.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       chan *job.ExecutionMessage
	pending     map[string]struct{}
	deadLetters []*job.ExecutionMessage
	closed      bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		ready:   make(chan *job.ExecutionMessage, capacity),
		pending: map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("gojob: queue is closed")
	}
	if key != "" {
		if _, exists := q.pending[key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.pending[key] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.ready <- msg:
		return nil
	case <-ctx.Done():
		q.release(key)
		return ctx.Err()
	default:
		q.release(key)
		return fmt.Errorf("gojob: queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg, ok := <-q.ready:
		if !ok {
			return nil, fmt.Errorf("gojob: queue is closed")
		}
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of messages waiting to be dequeued.
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, key)
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	push := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		select {
		case q.ready <- msg:
		default:
			delete(q.pending, strings.TrimSpace(msg.IdempotencyKey))
		}
	}
	if delay <= 0 {
		push()
		return
	}
	time.AfterFunc(delay, push)
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	if opts.Requeue && !opts.DeadLetter {
		d.queue.requeue(d.msg, opts.Delay)
		return nil
	}
	d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	if opts.DeadLetter {
		d.queue.mu.Lock()
		d.queue.deadLetters = append(d.queue.deadLetters, d.msg)
		d.queue.mu.Unlock()
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
