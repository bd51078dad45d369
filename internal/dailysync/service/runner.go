package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/lock"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"github.com/smallbiznis/ordersync/internal/observability/tracing"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const leaseMargin = 30 * time.Second

var (
	errJobDeleted = errors.New("job_deleted")
	errHalted     = errors.New("job_halted")
	errSuspended  = errors.New("job_suspended")
)

// runState carries one invocation's view of the job.
type runState struct {
	job   *domain.Job
	days  domain.DayStatuses
	dates []string
	index int
	log   *zap.Logger
	guard lock.Lease
	ttl   time.Duration
}

// RunChunk advances the daily job one date at a time until every date is
// terminal or the invocation budget is spent.
func (s *Service) RunChunk(ctx context.Context, payload domain.ChunkPayload) error {
	jobID := strings.TrimSpace(payload.JobID)
	if jobID == "" {
		return domain.ErrInvalidID
	}
	policy := s.policy.Get()

	ctx, span := tracing.StartSpan(ctx, "dailysync.run_chunk",
		attribute.String("job_id", jobID),
		attribute.Int("resume_from_day", payload.ResumeFromDay),
	)
	defer span.End()
	ctx = obscontext.WithJob(ctx, string(taskqueue.KindDailySync), jobID)
	log := obslogger.WithContext(ctx, s.log)

	// the guard is renewed before every date and every poll
	ttl := max(policy.LeaseTTL, policy.PollInterval+leaseMargin)
	guard, ok, err := s.jobGuard.Acquire(ctx, string(taskqueue.KindDailySync), jobID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("dailysync.chunk.busy")
		return nil
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("dailysync.chunk.release_failed", zap.Error(err))
		}
	}()

	start := s.clock.Now()
	s.syncMetrics.IncJobRun(obsmetrics.JobDailyChunk)
	defer func() {
		s.syncMetrics.ObserveJobDuration(obsmetrics.JobDailyChunk, s.clock.Now().Sub(start))
	}()

	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Info("dailysync.chunk.job_not_found")
		return nil
	}
	if job.Status.Halted() || job.Status.Terminal() {
		log.Info("dailysync.chunk.skipped", zap.String("status", string(job.Status)))
		return nil
	}
	if job.Status == domain.StatusPending {
		if _, err := s.repo.TransitionStatus(ctx, s.db, job.ID,
			[]domain.Status{domain.StatusPending}, domain.StatusRunning, s.clock.Now()); err != nil {
			return err
		}
	}

	dates, err := aggregation.DatesBetween(job.FromDate, job.ToDate)
	if err != nil {
		return s.fail(ctx, log, job, err)
	}
	days := job.Days()
	for _, date := range dates {
		if _, ok := days[date]; !ok {
			days[date] = domain.DayStatus{Status: domain.DayPending}
		}
	}
	index := payload.ResumeFromDay
	if index < 0 || index >= len(dates) {
		index = 0
	}
	st := &runState{job: job, days: days, dates: dates, index: index, log: log, guard: guard, ttl: ttl}

	err = s.runDays(ctx, st, start)
	switch {
	case err == nil:
		s.complete(ctx, st)
		return nil
	case errors.Is(err, errJobDeleted):
		log.Info("dailysync.chunk.job_deleted")
		return nil
	case errors.Is(err, errHalted), errors.Is(err, errSuspended):
		return nil
	default:
		return s.fail(ctx, log, job, err)
	}
}

func (s *Service) runDays(ctx context.Context, st *runState, start time.Time) error {
	policy := s.policy.Get()

	for ; st.index < len(st.dates); st.index++ {
		date := st.dates[st.index]
		if err := s.renewGuard(ctx, st); err != nil {
			return err
		}
		if err := s.checkLive(ctx, st); err != nil {
			return err
		}
		day := st.days[date]
		if day.Status.Terminal() {
			continue
		}
		if day.BackgroundJobID == "" && s.clock.Now().Sub(start) >= policy.DailyBudget {
			return s.suspend(ctx, st)
		}

		st.job.CurrentDay = date
		if day.BackgroundJobID == "" {
			spawned, err := s.startDay(ctx, st, date)
			if err != nil {
				return err
			}
			if !spawned {
				continue
			}
		}
		if err := s.pollDay(ctx, st, date, start); err != nil {
			return err
		}
	}
	return nil
}

// startDay builds the day's invoices and spawns a child job for them.
// It reports false when the day needed no child.
func (s *Service) startDay(ctx context.Context, st *runState, date string) (bool, error) {
	result, err := s.loader.Load(ctx, aggregation.Scope{FromDate: date, ToDate: date})
	if err != nil {
		return false, fmt.Errorf("build invoices for %s: %w", date, err)
	}

	now := s.clock.Now()
	day := st.days[date]
	day.TotalOrders = len(result.Invoices)
	day.StartedAt = &now
	if len(result.Invoices) == 0 {
		day.Status = domain.DayCompleted
		day.CompletedAt = &now
		st.days[date] = day
		st.log.Info("dailysync.day.completed", zap.String("date", date), zap.Int("total_orders", 0))
		return false, s.save(ctx, st)
	}

	day.Status = domain.DayRunning
	st.days[date] = day
	if err := s.save(ctx, st); err != nil {
		return false, err
	}

	child, err := s.jobs.Start(ctx, syncjobdomain.StartRequest{
		FromDate:         date,
		ToDate:           date,
		UserID:           st.job.UserID,
		UserEmail:        st.job.UserEmail,
		UserName:         st.job.UserName,
		ParentDailyJobID: st.job.ID,
		SuppressEmail:    true,
		Prebuilt:         &result,
	})
	if err != nil {
		st.log.Warn("dailysync.day.start_failed", zap.String("date", date), zap.Error(err))
		day.Status = domain.DayFailed
		day.CompletedAt = &now
		day.ErrorMessage = "start background job: " + err.Error()
		st.days[date] = day
		return false, s.save(ctx, st)
	}

	day.BackgroundJobID = child.ID
	st.days[date] = day
	st.log.Info("dailysync.day.started",
		zap.String("date", date),
		zap.String("background_job_id", child.ID),
		zap.Int("total_orders", day.TotalOrders),
	)
	return true, s.save(ctx, st)
}

// pollDay mirrors the child's counters until it is terminal. A poll window or
// invocation budget that runs out reschedules the same date; the day never
// moves on while its child is still running.
func (s *Service) pollDay(ctx context.Context, st *runState, date string, start time.Time) error {
	policy := s.policy.Get()
	windowStart := s.clock.Now()

	for {
		day := st.days[date]
		child, err := s.jobs.Get(ctx, day.BackgroundJobID)
		if err != nil && !isNotFound(err) {
			return err
		}

		now := s.clock.Now()
		if child == nil {
			day.Status = domain.DayFailed
			day.ErrorMessage = "background job not found"
			day.CompletedAt = &now
			st.days[date] = day
			return s.save(ctx, st)
		}

		day.ProcessedOrders = child.ProcessedOrders
		day.SuccessfulOrders = child.SuccessfulOrders
		day.FailedOrders = child.FailedOrders
		day.SkippedOrders = child.SkippedOrders
		if child.TotalOrders > 0 {
			day.TotalOrders = child.TotalOrders
		}

		if child.Status.Terminal() {
			day.CompletedAt = &now
			if child.Status == syncjobdomain.StatusCompleted {
				day.Status = domain.DayCompleted
			} else {
				day.Status = domain.DayFailed
				day.ErrorMessage = firstNonEmpty(child.ErrorMessage, "background job "+string(child.Status))
			}
			st.days[date] = day
			st.log.Info("dailysync.day."+string(day.Status),
				zap.String("date", date),
				zap.Int("successful", day.SuccessfulOrders),
				zap.Int("failed", day.FailedOrders),
			)
			return s.save(ctx, st)
		}

		st.days[date] = day
		if err := s.save(ctx, st); err != nil {
			return err
		}
		if now.Sub(windowStart) >= policy.PollTimeout {
			s.syncMetrics.IncJobTimeout(obsmetrics.JobDailyChunk)
			st.log.Warn("dailysync.day.poll_window_elapsed",
				zap.String("date", date),
				zap.String("background_job_id", day.BackgroundJobID),
				zap.Int("processed", day.ProcessedOrders),
			)
			return s.suspend(ctx, st)
		}
		if now.Sub(start) >= policy.DailyBudget {
			return s.suspend(ctx, st)
		}
		if err := s.clock.Sleep(ctx, policy.PollInterval); err != nil {
			st.log.Info("dailysync.chunk.interrupted", zap.Error(err))
			return errSuspended
		}
		if err := s.renewGuard(ctx, st); err != nil {
			return err
		}
		if err := s.checkLive(ctx, st); err != nil {
			return err
		}
	}
}

// renewGuard extends the job guard. A guard that is lost or cannot be renewed
// stops this invocation without a continuation; either another holder owns
// the job now or the recovery sweep requeues it once its heartbeat is stale.
func (s *Service) renewGuard(ctx context.Context, st *runState) error {
	held, err := st.guard.Refresh(ctx, st.ttl)
	if err != nil || !held {
		st.log.Warn("dailysync.chunk.lease_lost", zap.String("current_day", st.job.CurrentDay), zap.Error(err))
		return errSuspended
	}
	return nil
}

// checkLive stops at a suspension point when the job was paused, cancelled or deleted.
func (s *Service) checkLive(ctx context.Context, st *runState) error {
	live, err := s.repo.FindByID(ctx, s.db, st.job.ID)
	if err != nil {
		return err
	}
	if live == nil {
		return errJobDeleted
	}
	if live.Status.Halted() {
		st.log.Info("dailysync.chunk.halted", zap.String("status", string(live.Status)))
		if err := s.save(ctx, st); err != nil {
			return err
		}
		return errHalted
	}
	return nil
}

// suspend persists progress and schedules a continuation for the current date.
func (s *Service) suspend(ctx context.Context, st *runState) error {
	if err := s.save(ctx, st); err != nil {
		return err
	}
	next := domain.ChunkPayload{JobID: st.job.ID, ResumeFromDay: st.index}
	if err := s.enqueue(ctx, next); err != nil {
		return fmt.Errorf("enqueue continuation: %w", err)
	}
	s.syncMetrics.IncContinuation(obsmetrics.JobDailyChunk)
	st.log.Info("dailysync.chunk.continued",
		zap.Int("resume_from_day", st.index),
		zap.String("current_day", st.job.CurrentDay),
	)
	return errSuspended
}

func (s *Service) save(ctx context.Context, st *runState) error {
	st.job.ApplyDays(st.days)
	ok, err := s.repo.SaveProgress(ctx, s.db, st.job, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return errJobDeleted
	}
	return nil
}

func (s *Service) complete(ctx context.Context, st *runState) {
	st.job.CurrentDay = ""
	if err := s.save(ctx, st); err != nil {
		st.log.Error("dailysync.complete.failed", zap.Error(err))
		return
	}
	now := s.clock.Now()
	if err := s.repo.MarkCompleted(ctx, s.db, st.job.ID, now); err != nil {
		st.log.Error("dailysync.complete.failed", zap.Error(err))
		return
	}
	job, err := s.repo.FindByID(ctx, s.db, st.job.ID)
	if err != nil || job == nil || job.Status != domain.StatusCompleted {
		return
	}

	duration := since(now, job.StartedAt)
	st.log.Info("dailysync.completed",
		zap.Int("days", job.TotalDays),
		zap.Int("failed_days", job.FailedDays),
		zap.Int("successful", job.SuccessfulOrders),
		zap.Int("failed", job.FailedOrders),
		zap.Duration("duration", duration),
	)

	summary := notificationdomain.DailySummary{
		JobID:      job.ID,
		UserID:     job.UserID,
		UserEmail:  job.UserEmail,
		UserName:   job.UserName,
		FromDate:   job.FromDate,
		ToDate:     job.ToDate,
		Total:      job.TotalOrders,
		Successful: job.SuccessfulOrders,
		Failed:     job.FailedOrders,
		Skipped:    job.SkippedOrders,
		Duration:   duration,
	}
	days := job.Days()
	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		day := days[date]
		summary.Days = append(summary.Days, notificationdomain.DaySummary{
			Date:       date,
			Status:     string(day.Status),
			Total:      day.TotalOrders,
			Successful: day.SuccessfulOrders,
			Failed:     day.FailedOrders,
			Skipped:    day.SkippedOrders,
		})
	}
	if s.notifier.NotifyDailyCompleted(ctx, summary) {
		if err := s.repo.SetEmailSent(ctx, s.db, job.ID, s.clock.Now()); err != nil {
			st.log.Warn("dailysync.complete.email_flag_failed", zap.Error(err))
		}
	}
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, job *domain.Job, cause error) error {
	s.syncMetrics.IncJobError(obsmetrics.JobDailyChunk, cause)
	log.Error("dailysync.chunk.failed", zap.Error(cause))
	if err := s.repo.MarkFailed(context.WithoutCancel(ctx), s.db, job.ID, cause.Error(), s.clock.Now()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
