package scheduler

import (
	"context"
	"errors"

	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/dailysync/service"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.uber.org/zap"
)

// RecoverySweepJob re-enqueues running jobs whose heartbeat is older than the
// recovery threshold. Each requeued job is touched so the next tick skips it.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.RecoveryThreshold)
	run := sweepRunFromContext(ctx)
	var jobErr error

	aggregated, err := s.syncRepo.ListStaleRunning(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	requeued := 0
	for _, job := range aggregated {
		payload := syncjobdomain.ChunkPayload{JobID: job.ID, ResumeFrom: job.ProcessedOrders}
		if err := s.requeue(ctx, taskqueue.KindAggregatedSync, job.ID, payload); err != nil {
			s.logRecoveryError(ctx, run, taskqueue.KindAggregatedSync, job.ID, err)
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if err := s.syncRepo.Touch(ctx, s.db, job.ID, now); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		requeued++
	}
	s.syncMetrics.AddRecoveryRequeued(obsmetrics.JobAggregatedChunk, requeued)
	run.AddRequeued(taskqueue.KindAggregatedSync, requeued)

	daily, err := s.dailyRepo.ListStaleRunning(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return errors.Join(jobErr, err)
	}
	requeued = 0
	for _, job := range daily {
		payload := dailydomain.ChunkPayload{JobID: job.ID, ResumeFromDay: service.ResumeIndex(job)}
		if err := s.requeue(ctx, taskqueue.KindDailySync, job.ID, payload); err != nil {
			s.logRecoveryError(ctx, run, taskqueue.KindDailySync, job.ID, err)
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if err := s.dailyRepo.Touch(ctx, s.db, job.ID, now); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		requeued++
	}
	s.syncMetrics.AddRecoveryRequeued(obsmetrics.JobDailyChunk, requeued)
	run.AddRequeued(taskqueue.KindDailySync, requeued)

	if len(aggregated)+len(daily) > 0 {
		s.logger(ctx).Info("scheduler.recovery.requeued",
			zap.Int("aggregated", len(aggregated)),
			zap.Int("daily", len(daily)),
		)
	}
	return jobErr
}

func (s *Scheduler) requeue(ctx context.Context, kind taskqueue.Kind, jobID string, payload any) error {
	task, err := taskqueue.NewTask(kind, jobID, payload)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, task)
}
