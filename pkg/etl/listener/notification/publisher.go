// Package notification delivers lifecycle events to notifiers without ever
// blocking the engine or the scheduler.
package notification

import (
	"context"
	"sync"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const defaultBufferSize = 256

// AsyncPublisher queues events on a buffered channel and fans them out to its
// notifiers from one worker goroutine. A full queue drops the event with a
// warning; Publish never waits.
type AsyncPublisher struct {
	queue     chan model.Event
	stopCh    chan struct{}
	wg        sync.WaitGroup
	notifiers []port.Notifier

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ port.EventPublisher = (*AsyncPublisher)(nil)

// NewAsyncPublisher starts the worker. bufferSize <= 0 uses a default.
func NewAsyncPublisher(bufferSize int, notifiers ...port.Notifier) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	p := &AsyncPublisher{
		queue:     make(chan model.Event, bufferSize),
		stopCh:    make(chan struct{}),
		notifiers: notifiers,
	}
	p.wg.Add(1)
	go p.run()
	logger.Debugf("AsyncPublisher: worker started (buffer size: %d, notifiers: %d).", bufferSize, len(notifiers))
	return p
}

func (p *AsyncPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case e := <-p.queue:
			p.deliver(e)
		case <-p.stopCh:
			remaining := len(p.queue)
			for i := 0; i < remaining; i++ {
				p.deliver(<-p.queue)
			}
			logger.Debugf("AsyncPublisher: worker stopped after delivering %d queued events.", remaining)
			return
		}
	}
}

func (p *AsyncPublisher) deliver(e model.Event) {
	ctx := context.Background()
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			logger.Warnf("AsyncPublisher: notifier failed for %s of execution %s: %v", e.Type, e.ExecutionID, err)
		}
	}
}

// Publish implements port.EventPublisher.
func (p *AsyncPublisher) Publish(_ context.Context, e model.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logger.Warnf("AsyncPublisher: closed, dropping %s of execution %s.", e.Type, e.ExecutionID)
		return
	}
	select {
	case p.queue <- e:
	default:
		logger.Warnf("AsyncPublisher: queue is full, dropping %s of execution %s.", e.Type, e.ExecutionID)
	}
}

// Close stops accepting events and delivers the ones already queued.
func (p *AsyncPublisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopCh)
		p.wg.Wait()
	})
}
