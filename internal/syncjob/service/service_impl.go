package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/clock"
	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/lock"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	mappingdomain "github.com/smallbiznis/ordersync/internal/ordermapping/domain"
	"github.com/smallbiznis/ordersync/internal/providers/pdf"
	"github.com/smallbiznis/ordersync/internal/stepexecutor"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
	"github.com/smallbiznis/ordersync/pkg/db"
	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Repo        syncjobdomain.Repository
	Loader      *aggregation.Loader
	Transaction transactiondomain.Repository
	Mapping     mappingdomain.Repository
	Executor    stepexecutor.Executor
	Queue       taskqueue.Queue
	DateLocker  lock.DateLocker
	JobGuard    lock.JobGuard
	Policy      *config.SyncPolicyHolder
	Notifier    notificationdomain.Service
	PDF         pdf.Provider
	Config      config.Config           `optional:"true"`
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	repo        syncjobdomain.Repository
	loader      *aggregation.Loader
	transaction transactiondomain.Repository
	mapping     mappingdomain.Repository
	executor    stepexecutor.Executor
	queue       taskqueue.Queue
	dateLocker  lock.DateLocker
	jobGuard    lock.JobGuard
	policy      *config.SyncPolicyHolder
	notifier    notificationdomain.Service
	pdf         pdf.Provider
	stepTimeout time.Duration
	metrics     *obsmetrics.Metrics
	syncMetrics *obsmetrics.SyncMetrics
}

func New(p Params) syncjobdomain.Service {
	stepTimeout := p.Config.StepExecutor.Timeout
	if stepTimeout <= 0 {
		stepTimeout = stepexecutor.DefaultTimeout
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("syncjob.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		loader:      p.Loader,
		transaction: p.Transaction,
		mapping:     p.Mapping,
		executor:    p.Executor,
		queue:       p.Queue,
		dateLocker:  p.DateLocker,
		jobGuard:    p.JobGuard,
		policy:      p.Policy,
		notifier:    p.Notifier,
		pdf:         p.PDF,
		stepTimeout: stepTimeout,
		metrics:     p.Metrics,
		syncMetrics: p.SyncMetrics,
	}
}

func (s *Service) Start(ctx context.Context, req syncjobdomain.StartRequest) (*syncjobdomain.Job, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, syncjobdomain.ErrInvalidUser
	}
	selected := normalizeOrderNumbers(req.SelectedOrderNumbers)
	fromDate, toDate := strings.TrimSpace(req.FromDate), strings.TrimSpace(req.ToDate)
	if err := validateScope(fromDate, toDate, selected, s.policy.Get().Location()); err != nil {
		return nil, err
	}

	if jobID := strings.TrimSpace(req.JobID); jobID != "" {
		existing, err := s.repo.FindJob(ctx, s.db, jobID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.resumeExisting(ctx, existing, req.ResumeFrom)
		}
		if len(jobID) > 36 {
			return nil, syncjobdomain.ErrInvalidID
		}
		req.JobID = jobID
	} else {
		req.JobID = uuid.NewString()
	}

	now := s.clock.Now()
	job := &syncjobdomain.Job{
		ID:                   req.JobID,
		Status:               syncjobdomain.StatusRunning,
		FromDate:             fromDate,
		ToDate:               toDate,
		SelectedOrderNumbers: datatypes.JSONSlice[string](selected),
		UserID:               userID,
		UserEmail:            strings.TrimSpace(req.UserEmail),
		UserName:             strings.TrimSpace(req.UserName),
		ParentDailyJobID:     strings.TrimSpace(req.ParentDailyJobID),
		SuppressEmail:        req.SuppressEmail,
		StartedAt:            &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertJob(ctx, s.db, job); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// a concurrent trigger with the same client job id won the insert
		existing, findErr := s.repo.FindJob(ctx, s.db, job.ID)
		if findErr != nil || existing == nil {
			return nil, err
		}
		return s.resumeExisting(ctx, existing, req.ResumeFrom)
	}

	trigger := "api"
	if job.ParentDailyJobID != "" {
		trigger = "daily"
	}
	s.metrics.RecordJobStarted(ctx, syncjobdomain.SyncTypeAggregated, trigger)
	// a daily parent's context carries its own job; log under the new one
	log := obslogger.WithContext(obscontext.WithJob(ctx, string(taskqueue.KindAggregatedSync), job.ID), s.log)
	log.Info("syncjob.started",
		zap.String("from_date", fromDate),
		zap.String("to_date", toDate),
		zap.Int("selected_orders", len(selected)),
		zap.String("parent_daily_job_id", job.ParentDailyJobID),
	)

	if err := s.enqueueChunk(ctx, syncjobdomain.ChunkPayload{JobID: job.ID, Prebuilt: req.Prebuilt}, 0); err != nil {
		if markErr := s.repo.MarkFailed(ctx, s.db, job.ID, "enqueue failed: "+err.Error(), s.clock.Now()); markErr != nil {
			log.Error("syncjob.mark_failed", zap.Error(markErr))
		}
		return nil, err
	}
	return job, nil
}

// resumeExisting restarts an existing job. Completed jobs are returned untouched.
func (s *Service) resumeExisting(ctx context.Context, job *syncjobdomain.Job, resumeFrom *int) (*syncjobdomain.Job, error) {
	if job.Status == syncjobdomain.StatusCompleted {
		return job, nil
	}
	if job.Status != syncjobdomain.StatusRunning {
		ok, err := s.repo.TransitionStatus(ctx, s.db, job.ID, []syncjobdomain.Status{
			syncjobdomain.StatusPending,
			syncjobdomain.StatusPaused,
			syncjobdomain.StatusCancelled,
			syncjobdomain.StatusFailed,
		}, syncjobdomain.StatusRunning, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, syncjobdomain.ErrInvalidStatusTransition
		}
	}

	from := job.ProcessedOrders
	if resumeFrom != nil && *resumeFrom >= 0 {
		from = *resumeFrom
	}
	if err := s.enqueueChunk(ctx, syncjobdomain.ChunkPayload{JobID: job.ID, ResumeFrom: from}, 0); err != nil {
		return nil, err
	}
	obslogger.WithContext(ctx, s.log).Info("syncjob.resumed", zap.String("job_id", job.ID), zap.Int("resume_from", from))
	return s.repo.FindJob(ctx, s.db, job.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, syncjobdomain.ErrInvalidID
	}
	job, err := s.repo.FindJob(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, syncjobdomain.ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, req syncjobdomain.ListRequest) (syncjobdomain.ListResponse, error) {
	filter := syncjobdomain.ListFilter{
		UserID:           strings.TrimSpace(req.UserID),
		ParentDailyJobID: strings.TrimSpace(req.ParentDailyJobID),
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return syncjobdomain.ListResponse{}, err
		}
		filter.Status = parsed
	}

	items, err := s.repo.ListJobs(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return syncjobdomain.ListResponse{}, err
	}
	page, info, err := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(j *syncjobdomain.Job) pagination.Cursor {
		return pagination.Cursor{ID: j.ID, CreatedAt: j.CreatedAt}
	})
	if err != nil {
		return syncjobdomain.ListResponse{}, err
	}
	return syncjobdomain.ListResponse{PageInfo: *info, Jobs: page}, nil
}

func (s *Service) ListDetails(ctx context.Context, id string) ([]syncjobdomain.RunDetail, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDetails(ctx, s.db, job.ID)
}

func (s *Service) Pause(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	return s.transition(ctx, id, []syncjobdomain.Status{
		syncjobdomain.StatusPending,
		syncjobdomain.StatusRunning,
	}, syncjobdomain.StatusPaused)
}

func (s *Service) Cancel(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	return s.transition(ctx, id, []syncjobdomain.Status{
		syncjobdomain.StatusPending,
		syncjobdomain.StatusRunning,
		syncjobdomain.StatusPaused,
	}, syncjobdomain.StatusCancelled)
}

func (s *Service) Resume(ctx context.Context, id string) (*syncjobdomain.Job, error) {
	job, err := s.transition(ctx, id, []syncjobdomain.Status{syncjobdomain.StatusPaused}, syncjobdomain.StatusRunning)
	if err != nil {
		return nil, err
	}
	if err := s.enqueueChunk(ctx, syncjobdomain.ChunkPayload{JobID: job.ID, ResumeFrom: job.ProcessedOrders}, 0); err != nil {
		return nil, err
	}
	return job, nil
}

// transition applies a guarded status change. The halted runner notices it at
// the next invoice boundary.
func (s *Service) transition(ctx context.Context, id string, from []syncjobdomain.Status, to syncjobdomain.Status) (*syncjobdomain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.TransitionStatus(ctx, s.db, job.ID, from, to, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncjobdomain.ErrInvalidStatusTransition
	}
	obslogger.WithContext(ctx, s.log).Info("syncjob.status.changed",
		zap.String("job_id", job.ID),
		zap.String("from", string(job.Status)),
		zap.String("to", string(to)),
	)
	return s.repo.FindJob(ctx, s.db, job.ID)
}

func (s *Service) enqueueChunk(ctx context.Context, payload syncjobdomain.ChunkPayload, delay time.Duration) error {
	task, err := taskqueue.NewTask(taskqueue.KindAggregatedSync, payload.JobID, payload)
	if err != nil {
		return err
	}
	task.Delay = delay
	return s.queue.Enqueue(ctx, task)
}

func validateScope(fromDate, toDate string, selected []string, loc *time.Location) error {
	if fromDate == "" && toDate == "" {
		if len(selected) == 0 {
			return syncjobdomain.ErrInvalidScope
		}
		return nil
	}
	if _, _, err := aggregation.DateBounds(fromDate, toDate, loc); err != nil {
		if errors.Is(err, aggregation.ErrInvalidScope) {
			return syncjobdomain.ErrInvalidScope
		}
		return syncjobdomain.ErrInvalidDateRange
	}
	return nil
}

func normalizeOrderNumbers(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parseStatus(value string) (syncjobdomain.Status, error) {
	status := syncjobdomain.Status(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case syncjobdomain.StatusPending,
		syncjobdomain.StatusRunning,
		syncjobdomain.StatusPaused,
		syncjobdomain.StatusCancelled,
		syncjobdomain.StatusCompleted,
		syncjobdomain.StatusFailed:
		return status, nil
	default:
		return "", syncjobdomain.ErrInvalidStatus
	}
}
