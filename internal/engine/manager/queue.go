package manager

import (
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"
	"sync"
)

// readyQueue is a bounded FIFO of snapshots awaiting classification. Push
// never blocks: when full, the oldest entry is discarded.
type readyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []model.FlowSnapshot
	head   int
	size   int
	closed bool
	shed   uint64
}

func newReadyQueue(capacity int) *readyQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &readyQueue{buf: make([]model.FlowSnapshot, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends s. It reports whether an older snapshot was shed to make room
// and returns false without queuing once the queue is closed.
func (q *readyQueue) Push(s model.FlowSnapshot) (queued, shed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	if q.size == len(q.buf) {
		q.buf[q.head] = model.FlowSnapshot{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.shed++
		shed = true
		metrics.ReadyShed.Inc()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = s
	q.size++
	metrics.QueueDepth.Set(float64(q.size))
	q.cond.Signal()
	return true, shed
}

// Pop blocks until a snapshot is available. It returns false once the queue
// is closed and empty.
func (q *readyQueue) Pop() (model.FlowSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size == 0 {
		return model.FlowSnapshot{}, false
	}
	s := q.buf[q.head]
	q.buf[q.head] = model.FlowSnapshot{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	metrics.QueueDepth.Set(float64(q.size))
	return s, true
}

// Close stops accepting snapshots. Queued snapshots can still be popped.
func (q *readyQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Discard drops everything still queued and returns how many were dropped.
func (q *readyQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	for i := range q.buf {
		q.buf[i] = model.FlowSnapshot{}
	}
	q.head, q.size = 0, 0
	metrics.QueueDepth.Set(0)
	q.cond.Broadcast()
	return n
}

func (q *readyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *readyQueue) Shed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shed
}
