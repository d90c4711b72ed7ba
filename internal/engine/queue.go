package engine

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/olyamironova/exchange-core/internal/metrics"
	"github.com/olyamironova/exchange-core/internal/strategy"
)

var (
	ErrQueueFull   = errors.New("execution queue is full")
	ErrQueueClosed = errors.New("execution queue is closed")
)

type queued struct {
	sig *strategy.Signal
	seq uint64
}

// signalHeap pops the most urgent signal first, then the oldest.
type signalHeap []queued

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	a, b := h[i].sig, h[j].sig
	if a.Urgency != b.Urgency {
		return a.Urgency > b.Urgency
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return h[i].seq < h[j].seq
}

func (h signalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *signalHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a bounded priority queue of signals waiting for execution.
type Queue struct {
	capacity int

	mu     sync.Mutex
	items  signalHeap
	seq    uint64
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Push(sig *strategy.Signal) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.seq++
	heap.Push(&q.items, queued{sig: sig, seq: q.seq})
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryPop returns the next signal without waiting.
func (q *Queue) TryPop() (*strategy.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(queued)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return item.sig, true
}

// Pop waits up to timeout for a signal. It returns nil, nil on timeout and
// ErrQueueClosed once the queue is closed and empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*strategy.Signal, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if sig, ok := q.TryPop(); ok {
			return sig, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			if sig, ok := q.TryPop(); ok {
				return sig, nil
			}
			return nil, ErrQueueClosed
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}
