package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// task is one queued execution.
type task struct {
	job  *model.Job
	exec *model.JobExecution
}

// queue is a FIFO of tasks served by cfg.Concurrency workers.
type queue struct {
	cfg config.QueueConfig

	mu      sync.Mutex
	pending []*task
	wake    chan struct{}
	running atomic.Int64
}

func newQueue(cfg config.QueueConfig) *queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &queue{cfg: cfg, wake: make(chan struct{}, 1)}
}

func (q *queue) push(t *task) int {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	n := len(q.pending)
	q.mu.Unlock()
	q.signal()
	return n
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until a task is available or ctx is done.
func (q *queue) next(ctx context.Context) (*task, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			t := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				// Hand the wakeup on so an idle sibling picks up the rest.
				q.signal()
			}
			return t, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

// remove takes the pending task of executionID out of the queue.
func (q *queue) remove(executionID string) (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.exec.ID == executionID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// drain empties the queue.
func (q *queue) drain() []*task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
