package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFrameQueueOrdering(t *testing.T) {
	q := NewFrameQueue(10)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := q.Push(ctx, AudioFrame{Seq: i}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	for i := int64(1); i <= 5; i++ {
		f := <-q.C()
		if f.Seq != i {
			t.Fatalf("got seq %d, want %d", f.Seq, i)
		}
	}
}

func TestFrameQueueBackpressure(t *testing.T) {
	q := NewFrameQueue(1)
	ctx := context.Background()

	if err := q.Push(ctx, AudioFrame{Seq: 1}); err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Push(ctx, AudioFrame{Seq: 2})
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Push on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-q.C() // consume, releasing the producer
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Push after drain error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after drain")
	}
}

func TestFrameQueuePushRespectsContext(t *testing.T) {
	q := NewFrameQueue(1)
	_ = q.Push(context.Background(), AudioFrame{Seq: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, AudioFrame{Seq: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestFrameQueueFlush(t *testing.T) {
	q := NewFrameQueue(10)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		_ = q.Push(ctx, AudioFrame{Seq: i})
	}
	if n := q.Flush(); n != 4 {
		t.Fatalf("Flush() = %d, want 4", n)
	}
	select {
	case f := <-q.C():
		t.Fatalf("frame %d survived flush", f.Seq)
	default:
	}
}

func TestFrameQueueClose(t *testing.T) {
	q := NewFrameQueue(1)
	_ = q.Push(context.Background(), AudioFrame{Seq: 1})

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Push(context.Background(), AudioFrame{Seq: 2})
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	q.Close() // idempotent

	if err := <-blocked; !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("blocked Push error = %v, want ErrQueueClosed", err)
	}
	if err := q.Push(context.Background(), AudioFrame{Seq: 3}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Push after close error = %v", err)
	}
}
