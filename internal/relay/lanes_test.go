package relay

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLaneQueueFIFOPerKey(t *testing.T) {
	q := newLaneQueue(4)
	q.start(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		q.enqueue("u1", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()
	q.stop()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want FIFO", order)
		}
	}
}

func TestLaneQueueKeysRunConcurrently(t *testing.T) {
	q := newLaneQueue(4)
	q.start(context.Background())
	defer q.stop()

	release := make(chan struct{})
	defer close(release)
	blocked := make(chan struct{})
	q.enqueue("slow", func() {
		close(blocked)
		<-release
	})
	<-blocked

	done := make(chan struct{})
	q.enqueue("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast lane blocked behind slow lane")
	}
}

func TestLaneQueueEnqueueBeforeStartDrops(t *testing.T) {
	q := newLaneQueue(1)
	ran := false
	q.enqueue("u1", func() { ran = true })
	if ran {
		t.Error("task must not run before start")
	}
}

func TestLaneQueueStopWaitsForInFlight(t *testing.T) {
	q := newLaneQueue(1)
	q.start(context.Background())

	var finished bool
	started := make(chan struct{})
	q.enqueue("u1", func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished = true
	})
	<-started
	q.stop()

	if !finished {
		t.Error("stop returned before in-flight task finished")
	}
}
