package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	logger "github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// metricEvent is one deferred call on the synchronous recorder.
type metricEvent struct {
	kind   string
	record func(ctx context.Context, rec metrics.MetricRecorder)
}

// AsyncMetricRecorder moves metric recording off the engine's hot path. Calls
// are queued on a buffered channel and replayed on the wrapped recorder by one
// worker goroutine; when the queue is full the observation is discarded.
type AsyncMetricRecorder struct {
	eventQueue   chan metricEvent
	stopCh       chan struct{}
	wg           sync.WaitGroup
	once         sync.Once
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize <= 0 uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan metricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	ctx := context.Background()
	for {
		select {
		case e := <-r.eventQueue:
			e.record(ctx, r.syncRecorder)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				e := <-r.eventQueue
				e.record(ctx, r.syncRecorder)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

// Close stops the worker after the queued events are recorded.
func (r *AsyncMetricRecorder) Close() {
	r.once.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *AsyncMetricRecorder) send(kind string, fn func(ctx context.Context, rec metrics.MetricRecorder)) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.eventQueue <- metricEvent{kind: kind, record: fn}:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", kind)
	}
}

// RecordJobStart queues a snapshot so later mutations of the execution are not seen.
func (r *AsyncMetricRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	r.send("job_start", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordJobStart(ctx, s) })
}

func (r *AsyncMetricRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	r.send("job_end", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordJobEnd(ctx, s) })
}

func (r *AsyncMetricRecorder) RecordPhase(_ context.Context, jobName, phase string, d time.Duration) {
	r.send("phase", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordPhase(ctx, jobName, phase, d) })
}

func (r *AsyncMetricRecorder) RecordRejection(_ context.Context, jobName, stage, reason string) {
	r.send("rejection", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordRejection(ctx, jobName, stage, reason) })
}

func (r *AsyncMetricRecorder) RecordBatchCommit(_ context.Context, jobName string, count int) {
	r.send("batch_commit", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordBatchCommit(ctx, jobName, count) })
}

func (r *AsyncMetricRecorder) RecordBatchRollback(_ context.Context, jobName string) {
	r.send("batch_rollback", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordBatchRollback(ctx, jobName) })
}

func (r *AsyncMetricRecorder) RecordMatch(_ context.Context, entityType, outcome string) {
	r.send("match", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordMatch(ctx, entityType, outcome) })
}

func (r *AsyncMetricRecorder) RecordQuality(_ context.Context, jobName string, passRate float64) {
	r.send("quality", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordQuality(ctx, jobName, passRate) })
}

func (r *AsyncMetricRecorder) RecordQueueDepth(_ context.Context, queue string, depth int) {
	r.send("queue_depth", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordQueueDepth(ctx, queue, depth) })
}

func (r *AsyncMetricRecorder) RecordDuration(_ context.Context, name string, d time.Duration, tags map[string]string) {
	r.send("duration", func(ctx context.Context, rec metrics.MetricRecorder) { rec.RecordDuration(ctx, name, d, tags) })
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
