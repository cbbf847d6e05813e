// Package bridge is the stateful core of the voice bridge: the per-call
// session state machine, its audio pumps, turn and barge-in detection, and
// the supervisor that owns the session table.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
)

// ErrQueueClosed is returned by pushes after the queue has been closed.
var ErrQueueClosed = errors.New("frame queue closed")

// AudioFrame is one fixed-duration chunk of audio moving through a queue.
// Immutable once produced; ownership transfers to the consumer.
type AudioFrame struct {
	Seq      int64
	Format   audio.Format
	Data     []byte
	Duration time.Duration
}

// FrameQueue is a bounded FIFO connecting one producer pump to one
// consumer. A full queue blocks the producer, so a slow consumer applies
// backpressure instead of growing memory.
type FrameQueue struct {
	ch   chan AudioFrame
	done chan struct{}
	once sync.Once
}

// NewFrameQueue builds a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch:   make(chan AudioFrame, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues a frame, blocking while the queue is full.
func (q *FrameQueue) Push(ctx context.Context, f AudioFrame) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- f:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the consumer side. Consumers should also select on Done.
func (q *FrameQueue) C() <-chan AudioFrame {
	return q.ch
}

// Done is closed when the queue is closed.
func (q *FrameQueue) Done() <-chan struct{} {
	return q.done
}

// Flush discards everything currently queued and reports how many frames
// were dropped. Used on barge-in to cut queued agent audio.
func (q *FrameQueue) Flush() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Close releases any blocked producer. Safe to call more than once.
func (q *FrameQueue) Close() {
	q.once.Do(func() { close(q.done) })
}
