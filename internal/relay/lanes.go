package relay

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// laneBuffer is the per-user queue depth. A user whose events back up past
// this many pending tasks has further events dropped rather than blocking
// the gateway pump.
const laneBuffer = 16

// laneQueue serializes event handling per user key while a global weighted
// semaphore bounds total concurrency across all users. Each key gets its own
// FIFO channel drained by one goroutine, so all session transitions for one
// user are linearized and users never block each other.
type laneQueue struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	lanes  map[string]chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newLaneQueue creates a laneQueue allowing up to maxConcurrent tasks to run
// simultaneously across all lanes.
func newLaneQueue(maxConcurrent int64) *laneQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &laneQueue{
		sem:   semaphore.NewWeighted(maxConcurrent),
		lanes: make(map[string]chan func()),
	}
}

// start initializes the queue's context. Must be called before enqueue.
func (q *laneQueue) start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// stop cancels the queue context, closes all lanes, and waits for in-flight
// tasks to finish.
func (q *laneQueue) stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[string]chan func())
	q.mu.Unlock()
	q.wg.Wait()
}

// enqueue adds a task to the key's lane, creating the lane (and its drain
// goroutine) on first use. A full lane drops the task.
func (q *laneQueue) enqueue(key string, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return
	}

	lane, exists := q.lanes[key]
	if !exists {
		lane = make(chan func(), laneBuffer)
		q.lanes[key] = lane
		q.wg.Add(1)
		go q.drain(key, lane)
	}

	select {
	case lane <- task:
	default:
		log.Printf("relay: lane for %s full, dropping event", key)
	}
}

// drain runs tasks from one lane in FIFO order, holding a semaphore slot for
// the duration of each task.
func (q *laneQueue) drain(key string, lane chan func()) {
	defer q.wg.Done()
	for task := range lane {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return // context cancelled during shutdown
		}
		task()
		q.sem.Release(1)
	}
}
