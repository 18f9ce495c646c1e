package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(ctx context.Context, job *Job) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(NewJob(fmt.Sprintf("peer-%d", i), "hi")); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}
	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueSamePeerOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string

	queue.SetProcessor(func(ctx context.Context, job *Job) error {
		mu.Lock()
		order = append(order, job.Text)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(NewJob("max", fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueProcessorErrorKeepsLane(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	var processed int32
	queue.SetProcessor(func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&processed, 1)
		return errors.New("boom")
	})

	for i := 0; i < 2; i++ {
		if err := queue.Enqueue(NewJob("max", "x")); err != nil {
			t.Fatal(err)
		}
	}
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}
	if atomic.LoadInt32(&processed) != 2 {
		t.Errorf("expected 2 processed jobs, got %d", processed)
	}
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1)
	if err := queue.Enqueue(NewJob("max", "x")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("enqueue before start: expected ErrQueueStopped, got %v", err)
	}

	queue.Start(context.Background())
	if err := queue.Enqueue(NewJob("max", "x")); err != nil {
		t.Fatal(err)
	}
	queue.Stop()
	queue.Stop()

	if err := queue.Enqueue(NewJob("max", "x")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("enqueue after stop: expected ErrQueueStopped, got %v", err)
	}
}
