package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.uber.org/zap"
)

// sweepRun accumulates per-kind outcomes for one scheduler tick.
type sweepRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	requeued  map[taskqueue.Kind]int
	failures  int
}

type sweepRunKey struct{}

func (r *sweepRun) AddRequeued(kind taskqueue.Kind, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.requeued[kind] += count
}

func (r *sweepRun) IncError() {
	if r == nil {
		return
	}
	r.failures++
}

func (s *Scheduler) ensureSweepRun(ctx context.Context, job string, batchSize int) (context.Context, *sweepRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := sweepRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &sweepRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
		requeued:  make(map[taskqueue.Kind]int, 2),
	}
	ctx = context.WithValue(ctx, sweepRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run, true
}

func sweepRunFromContext(ctx context.Context) *sweepRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(sweepRunKey{}).(*sweepRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logSweepFinish(ctx context.Context, run *sweepRun) {
	if run == nil {
		return
	}
	aggregated := run.requeued[taskqueue.KindAggregatedSync]
	daily := run.requeued[taskqueue.KindDailySync]
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("requeued_aggregated", aggregated),
		zap.Int("requeued_daily", daily),
		zap.Int("error_count", run.failures),
	}
	log := s.logger(ctx)
	switch {
	case run.failures > 0:
		log.Warn("scheduler.sweep.finish", fields...)
	case aggregated+daily > 0:
		log.Info("scheduler.sweep.finish", fields...)
	default:
		// idle ticks are the common case
		log.Debug("scheduler.sweep.finish", fields...)
	}
}

func (s *Scheduler) logRecoveryError(ctx context.Context, run *sweepRun, kind taskqueue.Kind, jobID string, err error) {
	if err == nil {
		return
	}
	run.IncError()
	s.logger(ctx).Error("scheduler.recovery.failed",
		zap.String("kind", string(kind)),
		zap.String("job_id", jobID),
		zap.String("error_reason", obsmetrics.ClassifyJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
		zap.Error(err),
	)
}
