package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/lock"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"github.com/smallbiznis/ordersync/internal/observability/tracing"
	mappingdomain "github.com/smallbiznis/ordersync/internal/ordermapping/domain"
	"github.com/smallbiznis/ordersync/internal/stepexecutor"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SequenceLockRetryDelay is how long a chunk waits before retrying busy date locks.
const SequenceLockRetryDelay = 2 * time.Second

// leaseMargin covers the bookkeeping writes around one invoice.
const leaseMargin = 30 * time.Second

var errJobDeleted = errors.New("job_deleted")

// RunChunk processes up to ChunkSize invoices of one job within ChunkBudget.
// When the budget runs out it enqueues its own continuation. Failures are
// persisted on the job row; only bookkeeping failures of that write are returned.
func (s *Service) RunChunk(ctx context.Context, payload syncjobdomain.ChunkPayload) error {
	jobID := strings.TrimSpace(payload.JobID)
	if jobID == "" {
		return syncjobdomain.ErrInvalidID
	}
	ttl := s.leaseTTL(s.policy.Get())

	ctx = obscontext.WithJob(ctx, string(taskqueue.KindAggregatedSync), jobID)
	ctx, span := tracing.StartSpan(ctx, "syncjob.run_chunk",
		attribute.String("job_id", jobID),
		attribute.Int("resume_from", payload.ResumeFrom),
	)
	defer span.End()
	log := obslogger.WithContext(ctx, s.log)

	guard, ok, err := s.jobGuard.Acquire(ctx, string(taskqueue.KindAggregatedSync), jobID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("syncjob.chunk.busy")
		return nil
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("syncjob.chunk.release_failed", zap.Error(err))
		}
	}()

	start := s.clock.Now()
	s.syncMetrics.IncJobRun(obsmetrics.JobAggregatedChunk)
	defer func() {
		s.syncMetrics.ObserveJobDuration(obsmetrics.JobAggregatedChunk, s.clock.Now().Sub(start))
	}()

	job, err := s.repo.FindJob(ctx, s.db, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Info("syncjob.chunk.job_not_found")
		return nil
	}
	if job.Status.Halted() || job.Status.Terminal() {
		log.Info("syncjob.chunk.skipped", zap.String("status", string(job.Status)))
		return nil
	}
	if job.Status == syncjobdomain.StatusPending {
		if _, err := s.repo.TransitionStatus(ctx, s.db, job.ID,
			[]syncjobdomain.Status{syncjobdomain.StatusPending}, syncjobdomain.StatusRunning, s.clock.Now()); err != nil {
			return err
		}
	}

	run, err := s.ensureRun(ctx, job)
	if err != nil {
		return s.fail(ctx, log, job, nil, err)
	}

	done, err := s.runChunk(ctx, log, job, run, payload, start, guard)
	if err != nil {
		if errors.Is(err, errJobDeleted) {
			log.Info("syncjob.chunk.job_deleted")
			return nil
		}
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "chunk failed")
		return s.fail(ctx, log, job, run, err)
	}
	if done {
		s.complete(ctx, log, job.ID, run, start)
	}
	return nil
}

// runChunk reports done=true once every pending invoice has been processed.
func (s *Service) runChunk(
	ctx context.Context,
	log *zap.Logger,
	job *syncjobdomain.Job,
	run *syncjobdomain.Run,
	payload syncjobdomain.ChunkPayload,
	start time.Time,
	guard lock.Lease,
) (bool, error) {
	policy := s.policy.Get()
	ttl := s.leaseTTL(policy)

	var sources *aggregation.Sources
	var dates []string
	if payload.Prebuilt != nil {
		for date := range payload.Prebuilt.BaseSequence {
			dates = append(dates, date)
		}
	} else {
		fetched, err := s.loader.Fetch(ctx, scopeOf(job))
		if err != nil {
			return false, err
		}
		sources = fetched
		dates = fetched.Dates()
	}

	dateLease, ok, err := s.dateLocker.AcquireDates(ctx, dates, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire sequence locks: %w", err)
	}
	if !ok {
		s.syncMetrics.IncSequenceLockBusy()
		log.Info("syncjob.chunk.sequence_locked", zap.Strings("dates", dates))
		if err := s.repo.Touch(ctx, s.db, job.ID, s.clock.Now()); err != nil {
			return false, err
		}
		if err := s.enqueueChunk(ctx, payload, SequenceLockRetryDelay); err != nil {
			return false, fmt.Errorf("enqueue retry: %w", err)
		}
		return false, nil
	}
	defer func() {
		if err := dateLease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("syncjob.chunk.sequence_release_failed", zap.Error(err))
		}
	}()

	result, err := s.resolveInvoices(ctx, log, job, payload.Prebuilt, sources)
	if err != nil {
		return false, err
	}

	if job.TotalOrders == 0 && job.ProcessedOrders == 0 {
		if err := s.repo.SetTotal(ctx, s.db, job.ID, len(result.Invoices), s.clock.Now()); err != nil {
			return false, err
		}
	}

	processed, err := s.repo.ProcessedInvoiceKeys(ctx, s.db, job.ID)
	if err != nil {
		return false, err
	}
	pending := make([]aggregation.Invoice, 0, len(result.Invoices))
	for _, inv := range result.Invoices {
		if _, seen := processed[inv.Key.String()]; seen {
			continue
		}
		pending = append(pending, inv)
	}

	counters := job.Counters()
	log.Info("syncjob.chunk.started",
		zap.Int("resume_from", payload.ResumeFrom),
		zap.Int("pending_invoices", len(pending)),
		zap.Int("already_synced", result.AlreadySynced),
	)

	for n, inv := range pending {
		if n >= policy.ChunkSize || s.clock.Now().Sub(start) >= policy.ChunkBudget {
			if err := s.repo.UpdateProgress(ctx, s.db, job.ID, counters, "", s.clock.Now()); err != nil {
				return false, err
			}
			next := syncjobdomain.ChunkPayload{JobID: job.ID, ResumeFrom: counters.Processed}
			if err := s.enqueueChunk(ctx, next, 0); err != nil {
				return false, fmt.Errorf("enqueue continuation: %w", err)
			}
			s.syncMetrics.IncContinuation(obsmetrics.JobAggregatedChunk)
			log.Info("syncjob.chunk.continued",
				zap.Int("processed", counters.Processed),
				zap.Int("remaining", len(pending)-n),
			)
			return false, nil
		}

		live, err := s.repo.FindJob(ctx, s.db, job.ID)
		if err != nil {
			return false, err
		}
		if live == nil {
			return false, errJobDeleted
		}
		if live.Status.Halted() {
			log.Info("syncjob.chunk.halted", zap.String("status", string(live.Status)))
			return false, s.repo.UpdateProgress(ctx, s.db, job.ID, counters, "", s.clock.Now())
		}

		// each invoice may take both step timeouts; extend the guard and the
		// sequence locks so neither lapses while it is in flight
		if held, err := renewLeases(ctx, ttl, guard, dateLease); err != nil || !held {
			log.Warn("syncjob.chunk.lease_lost", zap.Int("processed", counters.Processed), zap.Error(err))
			if err := s.repo.UpdateProgress(ctx, s.db, job.ID, counters, "", s.clock.Now()); err != nil {
				return false, err
			}
			next := syncjobdomain.ChunkPayload{JobID: job.ID, ResumeFrom: counters.Processed}
			if err := s.enqueueChunk(ctx, next, SequenceLockRetryDelay); err != nil {
				return false, fmt.Errorf("enqueue continuation: %w", err)
			}
			return false, nil
		}

		detail, err := s.processInvoice(ctx, log, job, run, inv)
		if err != nil {
			return false, err
		}
		switch detail.Status {
		case syncjobdomain.DetailSuccess:
			counters.Successful++
			s.recordInvoice(ctx, obsmetrics.OutcomeSuccessful)
		case syncjobdomain.DetailSkipped:
			counters.Skipped++
			s.recordInvoice(ctx, obsmetrics.OutcomeSkipped)
		default:
			counters.Failed++
			s.recordInvoice(ctx, obsmetrics.OutcomeFailed)
		}
		counters.Processed = counters.Successful + counters.Failed + counters.Skipped

		if err := s.repo.UpdateProgress(ctx, s.db, job.ID, counters, inv.InvoiceNumber, s.clock.Now()); err != nil {
			return false, err
		}
	}

	if err := s.repo.UpdateProgress(ctx, s.db, job.ID, counters, "", s.clock.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// leaseTTL outlives one invoice: both step calls at their timeout plus bookkeeping.
func (s *Service) leaseTTL(policy config.SyncPolicy) time.Duration {
	return max(policy.LeaseTTL, 2*s.stepTimeout+leaseMargin, policy.ChunkBudget+leaseMargin)
}

func renewLeases(ctx context.Context, ttl time.Duration, leases ...lock.Lease) (bool, error) {
	for _, lease := range leases {
		held, err := lease.Refresh(ctx, ttl)
		if err != nil || !held {
			return false, err
		}
	}
	return true, nil
}

// resolveInvoices reuses a prebuilt result only when no other writer moved the
// per-date sequences since it was numbered.
func (s *Service) resolveInvoices(
	ctx context.Context,
	log *zap.Logger,
	job *syncjobdomain.Job,
	prebuilt *aggregation.Result,
	sources *aggregation.Sources,
) (aggregation.Result, error) {
	if prebuilt != nil {
		unchanged, err := s.loader.SequenceUnchanged(ctx, *prebuilt)
		if err != nil {
			return aggregation.Result{}, err
		}
		if unchanged {
			return *prebuilt, nil
		}
		log.Info("syncjob.chunk.prebuilt_stale")
	}
	if sources == nil {
		fetched, err := s.loader.Fetch(ctx, scopeOf(job))
		if err != nil {
			return aggregation.Result{}, err
		}
		sources = fetched
	}
	return s.loader.Build(ctx, sources)
}

func (s *Service) processInvoice(
	ctx context.Context,
	log *zap.Logger,
	job *syncjobdomain.Job,
	run *syncjobdomain.Run,
	inv aggregation.Invoice,
) (*syncjobdomain.RunDetail, error) {
	ctx, span := tracing.StartSpan(ctx, "syncjob.invoice",
		attribute.String("invoice_number", inv.InvoiceNumber),
		attribute.Int("orders", len(inv.OriginalOrderNumbers)),
	)
	defer span.End()

	detail := &syncjobdomain.RunDetail{
		ID:                   s.genID.Generate(),
		RunID:                run.ID,
		JobID:                job.ID,
		InvoiceNumber:        inv.InvoiceNumber,
		InvoiceKey:           inv.Key.String(),
		OriginalOrderNumbers: datatypes.JSONSlice[string](inv.OriginalOrderNumbers),
		LineCount:            len(inv.Lines),
		TotalAmount:          inv.GrandTotal,
		CustomerStep:         syncjobdomain.StepSkipped,
		BrandStep:            syncjobdomain.StepSkipped,
		ProductStep:          syncjobdomain.StepSkipped,
		PurchaseStep:         syncjobdomain.StepSkipped,
	}

	lines := toStepLines(inv, inv.Lines)
	order := s.executor.Execute(ctx, stepexecutor.StepOrder, lines, nil)
	detail.OrderStep = stepStatus(order)

	switch {
	case !order.Success:
		detail.Status = syncjobdomain.DetailFailed
		detail.ErrorMessage = order.Message
	case order.Skipped:
		detail.Status = syncjobdomain.DetailSkipped
	default:
		detail.Status = syncjobdomain.DetailSuccess
	}

	if order.Success && inv.HasNonStock {
		if nonStock := inv.NonStockLines(); len(nonStock) > 0 {
			purchase := s.executor.Execute(ctx, stepexecutor.StepPurchase, lines, toStepLines(inv, nonStock))
			detail.PurchaseStep = stepStatus(purchase)
			if !purchase.Success {
				detail.Status = syncjobdomain.DetailFailed
				detail.ErrorMessage = purchase.Message
			}
		}
	}

	if detail.Status != syncjobdomain.DetailFailed {
		if err := s.recordSent(ctx, job.ID, inv); err != nil {
			log.Warn("syncjob.invoice.bookkeeping_failed",
				zap.String("invoice_number", inv.InvoiceNumber),
				zap.Error(err),
			)
			detail.Status = syncjobdomain.DetailFailed
			detail.ErrorMessage = "post-sync bookkeeping failed: " + err.Error()
		}
	}
	if detail.Status == syncjobdomain.DetailFailed {
		span.SetStatus(codes.Error, "invoice failed")
		log.Info("syncjob.invoice.failed",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("error", detail.ErrorMessage),
		)
	}

	detail.CreatedAt = s.clock.Now()
	if err := s.repo.InsertDetail(ctx, s.db, detail); err != nil {
		return nil, fmt.Errorf("insert run detail: %w", err)
	}
	return detail, nil
}

// recordSent marks the original lines sent and writes the order mappings in one transaction.
func (s *Service) recordSent(ctx context.Context, jobID string, inv aggregation.Invoice) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transaction.MarkSent(ctx, tx, inv.OriginalOrderNumbers, now); err != nil {
			return err
		}
		mappings := make([]mappingdomain.OrderMapping, 0, len(inv.OriginalOrderNumbers))
		for _, orderNumber := range inv.OriginalOrderNumbers {
			mappings = append(mappings, mappingdomain.OrderMapping{
				ID:                      s.genID.Generate(),
				OriginalOrderNumber:     orderNumber,
				AggregatedInvoiceNumber: inv.InvoiceNumber,
				AggregationDate:         inv.Key.Date,
				Brand:                   inv.Key.Brand,
				PaymentMethod:           inv.Key.PaymentMethod,
				PaymentBrand:            inv.Key.PaymentBrand,
				CashierName:             inv.Key.Cashier,
				JobID:                   jobID,
				CreatedAt:               now,
				UpdatedAt:               now,
			})
		}
		return s.mapping.Upsert(ctx, tx, mappings)
	})
}

func (s *Service) ensureRun(ctx context.Context, job *syncjobdomain.Job) (*syncjobdomain.Run, error) {
	run, err := s.repo.FindLatestRun(ctx, s.db, job.ID)
	if err != nil {
		return nil, err
	}
	if run != nil && run.Status == syncjobdomain.StatusRunning {
		return run, nil
	}
	trigger := "api"
	if job.ParentDailyJobID != "" {
		trigger = "daily"
	}
	run = &syncjobdomain.Run{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		SyncType:    syncjobdomain.SyncTypeAggregated,
		Status:      syncjobdomain.StatusRunning,
		TriggeredBy: trigger,
		StartedAt:   s.clock.Now(),
	}
	if err := s.repo.InsertRun(ctx, s.db, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) complete(ctx context.Context, log *zap.Logger, jobID string, run *syncjobdomain.Run, start time.Time) {
	now := s.clock.Now()
	if err := s.repo.MarkCompleted(ctx, s.db, jobID, now); err != nil {
		log.Error("syncjob.complete.failed", zap.Error(err))
		return
	}
	job, err := s.repo.FindJob(ctx, s.db, jobID)
	if err != nil || job == nil {
		log.Warn("syncjob.complete.reload_failed", zap.Error(err))
		return
	}
	if job.Status != syncjobdomain.StatusCompleted {
		log.Info("syncjob.complete.superseded", zap.String("status", string(job.Status)))
		return
	}
	s.closeRun(ctx, log, run, job, syncjobdomain.StatusCompleted, "")

	var duration time.Duration
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt)
	}
	log.Info("syncjob.completed",
		zap.Int("total", job.TotalOrders),
		zap.Int("successful", job.SuccessfulOrders),
		zap.Int("failed", job.FailedOrders),
		zap.Int("skipped", job.SkippedOrders),
		zap.Duration("duration", duration),
	)

	if job.SuppressEmail {
		return
	}
	summary := notificationdomain.AggregatedSummary{
		JobID:      job.ID,
		UserID:     job.UserID,
		UserEmail:  job.UserEmail,
		UserName:   job.UserName,
		FromDate:   job.FromDate,
		ToDate:     job.ToDate,
		Total:      job.TotalOrders,
		Processed:  job.ProcessedOrders,
		Successful: job.SuccessfulOrders,
		Failed:     job.FailedOrders,
		Skipped:    job.SkippedOrders,
		Duration:   duration,
	}
	if job.FailedOrders > 0 {
		details, err := s.repo.ListDetails(ctx, s.db, job.ID)
		if err != nil {
			log.Warn("syncjob.complete.details_failed", zap.Error(err))
		}
		for _, d := range details {
			if d.Status != syncjobdomain.DetailFailed {
				continue
			}
			summary.FailedItems = append(summary.FailedItems, notificationdomain.FailedInvoice{
				InvoiceNumber: d.InvoiceNumber,
				Orders:        strings.Join(d.OriginalOrderNumbers, ", "),
				Error:         d.ErrorMessage,
			})
		}
	}
	if s.notifier.NotifyAggregatedCompleted(ctx, summary) {
		if err := s.repo.SetEmailSent(ctx, s.db, job.ID, s.clock.Now()); err != nil {
			log.Warn("syncjob.complete.email_flag_failed", zap.Error(err))
		}
	}
}

// fail records a top-level error on the job. The error is not returned so the
// queue does not redeliver a job whose state is already persisted.
func (s *Service) fail(ctx context.Context, log *zap.Logger, job *syncjobdomain.Job, run *syncjobdomain.Run, cause error) error {
	s.syncMetrics.IncJobError(obsmetrics.JobAggregatedChunk, cause)
	log.Error("syncjob.chunk.failed", zap.Error(cause))

	ctx = context.WithoutCancel(ctx)
	if err := s.repo.MarkFailed(ctx, s.db, job.ID, cause.Error(), s.clock.Now()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if run != nil {
		current, err := s.repo.FindJob(ctx, s.db, job.ID)
		if err == nil && current != nil {
			s.closeRun(ctx, log, run, current, syncjobdomain.StatusFailed, cause.Error())
		}
	}
	return nil
}

func (s *Service) closeRun(ctx context.Context, log *zap.Logger, run *syncjobdomain.Run, job *syncjobdomain.Job, status syncjobdomain.Status, message string) {
	now := s.clock.Now()
	run.Status = status
	run.TotalOrders = job.TotalOrders
	run.SuccessfulOrders = job.SuccessfulOrders
	run.FailedOrders = job.FailedOrders
	run.SkippedOrders = job.SkippedOrders
	run.ErrorMessage = message
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	if err := s.repo.UpdateRun(ctx, s.db, run); err != nil {
		log.Warn("syncjob.run.update_failed", zap.Error(err))
	}
}

func (s *Service) recordInvoice(ctx context.Context, outcome string) {
	s.syncMetrics.IncInvoice(obsmetrics.JobAggregatedChunk, outcome)
	s.metrics.RecordInvoice(ctx, outcome)
}

func scopeOf(job *syncjobdomain.Job) aggregation.Scope {
	if len(job.SelectedOrderNumbers) > 0 {
		return aggregation.Scope{OrderNumbers: []string(job.SelectedOrderNumbers)}
	}
	return aggregation.Scope{FromDate: job.FromDate, ToDate: job.ToDate}
}

func stepStatus(r stepexecutor.Result) string {
	switch {
	case !r.Success:
		return syncjobdomain.StepFailed
	case r.Skipped:
		return syncjobdomain.StepSkipped
	default:
		return syncjobdomain.StepSuccess
	}
}

func toStepLines(inv aggregation.Invoice, lines []aggregation.ProductLine) []stepexecutor.TransactionLine {
	out := make([]stepexecutor.TransactionLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, stepexecutor.TransactionLine{
			OrderNumber:     inv.InvoiceNumber,
			TransactionDate: inv.Key.Date,
			Brand:           inv.Key.Brand,
			ProductSKU:      line.SKU,
			ProductName:     line.Name,
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			Total:           line.Amount,
			PaymentMethod:   inv.Key.PaymentMethod,
			PaymentBrand:    inv.Key.PaymentBrand,
			CashierName:     inv.Key.Cashier,
			Company:         inv.Company,
		})
	}
	return out
}
