package taskqueue

import (
	"context"
	"sync"
	"time"

	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	DefaultWorkers = 4
	DefaultBuffer  = 256
)

type LocalConfig struct {
	Workers int
	Buffer  int
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// Local is an in-process worker pool. Tasks pending when the process exits
// are lost; the recovery sweep re-enqueues their jobs.
type Local struct {
	cfg   LocalConfig
	mux   *Mux
	log   *zap.Logger
	tasks chan Task

	mu      sync.RWMutex
	closed  bool
	stopCh  chan struct{}
	workers sync.WaitGroup
	delayed sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewLocal(cfg LocalConfig, mux *Mux, log *zap.Logger) *Local {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		cfg:     cfg,
		mux:     mux,
		log:     log.Named("taskqueue.local"),
		tasks:   make(chan Task, cfg.Buffer),
		stopCh:  make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (q *Local) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work(i)
	}
	q.log.Info("taskqueue.started", zap.Int("workers", q.cfg.Workers))
}

// Stop refuses new tasks and waits for in-flight handlers. Buffered and
// delayed tasks are dropped.
func (q *Local) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.delayed.Wait()
		q.workers.Wait()
		close(done)
	}()
	defer q.cancel()
	select {
	case <-done:
		if pending := len(q.tasks); pending > 0 {
			q.log.Warn("taskqueue.stopped.pending_dropped", zap.Int("pending", pending))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Local) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task = stamp(ctx, task)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	if task.Delay > 0 {
		q.delayed.Add(1)
		q.mu.RUnlock()
		go q.later(task)
		return nil
	}
	q.mu.RUnlock()

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopCh:
		return ErrQueueClosed
	}
}

func (q *Local) later(task Task) {
	defer q.delayed.Done()
	timer := time.NewTimer(task.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.stopCh:
		q.log.Warn("taskqueue.delayed.dropped", zap.String("kind", string(task.Kind)), zap.String("job_id", task.JobID))
		return
	}
	select {
	case q.tasks <- task:
	case <-q.stopCh:
		q.log.Warn("taskqueue.delayed.dropped", zap.String("kind", string(task.Kind)), zap.String("job_id", task.JobID))
	}
}

func (q *Local) work(id int) {
	defer q.workers.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case task := <-q.tasks:
			q.run(id, task)
		}
	}
}

func (q *Local) run(worker int, task Task) {
	ctx := q.baseCtx
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("taskqueue.task.panic",
				zap.Int("worker", worker),
				zap.String("kind", string(task.Kind)),
				zap.String("job_id", task.JobID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := q.mux.Dispatch(ctx, task); err != nil {
		obslogger.WithContext(ctx, q.log).Error("taskqueue.task.failed",
			zap.Int("worker", worker),
			zap.String("kind", string(task.Kind)),
			zap.String("job_id", task.JobID),
			zap.Error(err),
		)
	}
}
