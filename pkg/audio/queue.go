package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity is the [FrameQueue] capacity used when zero is
// requested. At [DefaultFormat] it holds roughly 1.5 s of audio.
const DefaultQueueCapacity = 64

// FrameQueue is a bounded single-producer single-consumer FIFO of
// [AudioFrame] values backed by a lock-free ring.
//
// Exactly one goroutine may push and exactly one goroutine may pop at a time;
// neither side needs to lock. The producer side never blocks, which makes
// [FrameQueue.TryPush] safe to call from a real-time audio callback.
//
// When the ring is full the incoming frame is rejected (drop-newest) and the
// frames already queued are left untouched.
type FrameQueue struct {
	slots []AudioFrame
	size  uint64

	// head is the next slot to read and is only advanced by the consumer.
	head atomic.Uint64
	// tail is the next slot to write and is only advanced by the producer.
	tail atomic.Uint64

	dropped atomic.Uint64

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewFrameQueue returns an empty queue holding at most capacity frames.
// capacity defaults to [DefaultQueueCapacity] if zero or negative.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{
		slots:  make([]AudioFrame, capacity),
		size:   uint64(capacity),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// TryPush appends frame without blocking. It returns false, and counts a
// drop, when the queue is full or closed.
func (q *FrameQueue) TryPush(frame AudioFrame) bool {
	if q.isClosed() {
		q.dropped.Add(1)
		return false
	}
	t := q.tail.Load()
	if t-q.head.Load() >= q.size {
		q.dropped.Add(1)
		return false
	}
	q.slots[t%q.size] = frame
	q.tail.Store(t + 1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the oldest frame without blocking.
func (q *FrameQueue) TryPop() (AudioFrame, bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return AudioFrame{}, false
	}
	i := h % q.size
	f := q.slots[i]
	q.slots[i] = AudioFrame{}
	q.head.Store(h + 1)
	return f, true
}

// Pop removes and returns the oldest frame, waiting up to timeout for one to
// arrive. It returns false if the timeout elapses first or the queue is
// closed and empty. A timeout <= 0 behaves like [FrameQueue.TryPop].
func (q *FrameQueue) Pop(timeout time.Duration) (AudioFrame, bool) {
	if f, ok := q.TryPop(); ok {
		return f, true
	}
	if timeout <= 0 {
		return AudioFrame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			// The token may be stale when a previous TryPop already took the
			// frame it announced; keep waiting in that case.
			if f, ok := q.TryPop(); ok {
				return f, true
			}
		case <-timer.C:
			return q.TryPop()
		case <-q.closed:
			return q.TryPop()
		}
	}
}

// Discard drops every queued frame and returns how many were removed.
// It must be called from the consumer side.
func (q *FrameQueue) Discard() int {
	n := 0
	for {
		if _, ok := q.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Len returns the number of queued frames. The value is a snapshot and may be
// stale by the time the caller uses it.
func (q *FrameQueue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return int(q.size) }

// Dropped returns the number of frames rejected by [FrameQueue.TryPush].
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Close marks the queue closed. Further pushes are rejected and pending or
// future Pop calls return as soon as the queue is empty. Close is idempotent.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *FrameQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
