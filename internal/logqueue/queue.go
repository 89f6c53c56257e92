// Package logqueue provides the bounded FIFO between the log sources
// and the rule loop.
package logqueue

import "sync"

// Queue is a fixed-capacity FIFO that never blocks the producer: when
// full, Enqueue evicts the oldest entry and counts the drop. A
// high-water callback fires when depth crosses the threshold upward;
// a drop callback fires per eviction batch.
type Queue struct {
	mu       sync.Mutex
	entries  []string
	head     int
	size     int
	capacity int

	highWater  int
	aboveWater bool
	dropped    uint64
	peakDepth  int

	onHighWater func(depth int)
	onDrop      func(count int)
}

// Option configures a Queue.
type Option func(*Queue)

// WithHighWaterCallback installs fn, invoked when depth crosses
// capacity*ratio from below. ratio defaults to 0.8.
func WithHighWaterCallback(ratio float64, fn func(depth int)) Option {
	return func(q *Queue) {
		if ratio <= 0 || ratio > 1 {
			ratio = 0.8
		}
		q.highWater = int(float64(q.capacity) * ratio)
		q.onHighWater = fn
	}
}

// WithDropCallback installs fn, invoked with the eviction count each
// time Enqueue sheds entries.
func WithDropCallback(fn func(count int)) Option {
	return func(q *Queue) { q.onDrop = fn }
}

// New builds a queue of the given capacity (minimum 1).
func New(capacity int, opts ...Option) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		entries:   make([]string, capacity),
		capacity:  capacity,
		highWater: int(float64(capacity) * 0.8),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends one line, evicting the oldest when full.
func (q *Queue) Enqueue(line string) {
	q.mu.Lock()

	dropped := 0
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.size--
		q.dropped++
		dropped = 1
	}

	tail := (q.head + q.size) % q.capacity
	q.entries[tail] = line
	q.size++
	if q.size > q.peakDepth {
		q.peakDepth = q.size
	}

	crossed := false
	if q.onHighWater != nil && q.size >= q.highWater && !q.aboveWater {
		q.aboveWater = true
		crossed = true
	}
	depth := q.size
	onHighWater := q.onHighWater
	onDrop := q.onDrop
	q.mu.Unlock()

	if crossed && onHighWater != nil {
		onHighWater(depth)
	}
	if dropped > 0 && onDrop != nil {
		onDrop(dropped)
	}
}

// DequeueMany removes and returns up to k entries in FIFO order.
func (q *Queue) DequeueMany(k int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if k > q.size {
		k = q.size
	}
	if k <= 0 {
		return nil
	}

	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = q.entries[q.head]
		q.entries[q.head] = ""
		q.head = (q.head + 1) % q.capacity
	}
	q.size -= k

	if q.aboveWater && q.size < q.highWater {
		q.aboveWater = false
	}
	return out
}

// Depth reports the current number of queued entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped reports the cumulative eviction count.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// PeakDepth reports the highest depth observed.
func (q *Queue) PeakDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peakDepth
}
