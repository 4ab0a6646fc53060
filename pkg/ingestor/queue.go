package ingestor

import (
	"sync"

	"github.com/ethan/trinetra/pkg/logger"
)

// FrameQueue bridges a per-camera blocking reader and its publisher:
// capacity K, oldest-drop under backpressure rather than blocking the
// reader. This isolates a slow network read from a slow publish and
// vice versa (§4.1).
type FrameQueue struct {
	capacity int
	logger   *logger.Logger

	mu      sync.Mutex
	notify  chan struct{}
	items   []QueuedFrame

	dropped func()
}

// QueuedFrame pairs a JPEG-encoded frame with its capture timestamp.
type QueuedFrame struct {
	Image    []byte
	IngestTS float64
}

// NewFrameQueue builds a FrameQueue of the given capacity. onDrop, if
// non-nil, is invoked once per dropped frame (wired to the ingestor's
// frames_dropped_total metric).
func NewFrameQueue(capacity int, log *logger.Logger, onDrop func()) *FrameQueue {
	if onDrop == nil {
		onDrop = func() {}
	}
	if log == nil {
		log = logger.Default()
	}
	return &FrameQueue{
		capacity: capacity,
		logger:   log,
		notify:   make(chan struct{}, 1),
		dropped:  onDrop,
	}
}

// Push enqueues a frame, dropping the oldest queued frame if the queue
// is already at capacity. Never blocks.
func (q *FrameQueue) Push(f QueuedFrame) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped()
		q.logger.Warn("ingestor: frame queue full, dropping oldest", "queue_depth", len(q.items))
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest queued frame, or ok=false if
// empty.
func (q *FrameQueue) Pop() (QueuedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedFrame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

// Notify returns a channel that receives a signal whenever a frame is
// pushed, for a publisher loop to select on alongside ctx.Done().
func (q *FrameQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len reports the current queue depth.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
