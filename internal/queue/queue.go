// Package queue holds discovered file paths until a worker claims them.
package queue

import "sync"

// Queue is an unbounded multi-producer multi-consumer FIFO of paths. Each
// pushed path is handed out at most once.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func New() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends a path. Pushing after Close is a no-op.
func (q *Queue) Push(path string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, path)
	q.mu.Unlock()
	q.signal()
}

// PopBatch removes up to n paths from the head of the queue. done is true
// once the queue is closed and fully drained.
func (q *Queue) PopBatch(n int) (batch []string, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n > 0 {
		batch = make([]string, n)
		copy(batch, q.items[:n])
		q.items = q.items[n:]
	}
	return batch, q.closed && len(q.items) == 0
}

// Ready fires after a Push. Consumers select on it, together with Closed,
// when PopBatch returns an empty batch.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Closed is closed once production has ended.
func (q *Queue) Closed() <-chan struct{} {
	return q.done
}

// Close marks the end of production. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Trim drops the oldest entries until at most max remain and returns how
// many were dropped.
func (q *Queue) Trim(max int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := len(q.items) - max
	if drop <= 0 {
		return 0
	}
	q.items = append([]string(nil), q.items[drop:]...)
	return drop
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
