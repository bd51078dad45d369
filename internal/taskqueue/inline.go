package taskqueue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Inline runs each task synchronously inside Enqueue. Delays are ignored.
// Tasks enqueued by a running handler are held until it returns and then run
// in order by the outermost Enqueue, so a handler never re-enters itself while
// it still holds its job guard or date locks.
type Inline struct {
	mux *Mux
	log *zap.Logger

	mu      sync.Mutex
	running bool
	pending []Task
}

func NewInline(mux *Mux, log *zap.Logger) *Inline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inline{mux: mux, log: log.Named("taskqueue.inline")}
}

// Enqueue returns the error of the given task's handler. Errors of deferred
// tasks are logged only; their own Enqueue already succeeded.
func (q *Inline) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task = stamp(ctx, task)
	if task.Delay > 0 {
		q.log.Debug("taskqueue.delay.ignored", zap.String("kind", string(task.Kind)), zap.Duration("delay", task.Delay))
	}

	q.mu.Lock()
	if q.running {
		q.pending = append(q.pending, task)
		q.mu.Unlock()
		q.log.Debug("taskqueue.inline.deferred", zap.String("kind", string(task.Kind)), zap.String("job_id", task.JobID))
		return nil
	}
	q.running = true
	q.mu.Unlock()
	defer q.reset()

	ctx = context.WithoutCancel(ctx)
	err := q.mux.Dispatch(ctx, task)
	for next, ok := q.next(); ok; next, ok = q.next() {
		if derr := q.mux.Dispatch(ctx, next); derr != nil {
			q.log.Warn("taskqueue.inline.failed",
				zap.String("kind", string(next.Kind)),
				zap.String("job_id", next.JobID),
				zap.Error(derr),
			)
		}
	}
	return err
}

func (q *Inline) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Task{}, false
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	return task, true
}

// reset also runs when a handler panics, so the queue does not stay stuck in
// deferring mode.
func (q *Inline) reset() {
	q.mu.Lock()
	q.running = false
	q.pending = nil
	q.mu.Unlock()
}
