package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/clock"
	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/lock"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        domain.Repository
	Loader      *aggregation.Loader
	Jobs        syncjobdomain.Service
	Queue       taskqueue.Queue
	JobGuard    lock.JobGuard
	Policy      *config.SyncPolicyHolder
	Notifier    notificationdomain.Service
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	loader      *aggregation.Loader
	jobs        syncjobdomain.Service
	queue       taskqueue.Queue
	jobGuard    lock.JobGuard
	policy      *config.SyncPolicyHolder
	notifier    notificationdomain.Service
	metrics     *obsmetrics.Metrics
	syncMetrics *obsmetrics.SyncMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dailysync.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		loader:      p.Loader,
		jobs:        p.Jobs,
		queue:       p.Queue,
		jobGuard:    p.JobGuard,
		policy:      p.Policy,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
		syncMetrics: p.SyncMetrics,
	}
}

func (s *Service) Start(ctx context.Context, req domain.StartRequest) (*domain.Job, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	fromDate, toDate := strings.TrimSpace(req.FromDate), strings.TrimSpace(req.ToDate)
	dates, err := aggregation.DatesBetween(fromDate, toDate)
	if err != nil {
		return nil, domain.ErrInvalidDateRange
	}

	if jobID := strings.TrimSpace(req.JobID); jobID != "" {
		existing, err := s.repo.FindByID(ctx, s.db, jobID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.resumeExisting(ctx, existing, req.ResumeFromDay)
		}
		if len(jobID) > 36 {
			return nil, domain.ErrInvalidID
		}
		req.JobID = jobID
	} else {
		req.JobID = uuid.NewString()
	}

	now := s.clock.Now()
	days := make(domain.DayStatuses, len(dates))
	for _, date := range dates {
		days[date] = domain.DayStatus{Status: domain.DayPending}
	}
	job := &domain.Job{
		ID:        req.JobID,
		Status:    domain.StatusRunning,
		FromDate:  fromDate,
		ToDate:    toDate,
		UserID:    userID,
		UserEmail: strings.TrimSpace(req.UserEmail),
		UserName:  strings.TrimSpace(req.UserName),
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.ApplyDays(days)
	if err := s.repo.Insert(ctx, s.db, job); err != nil {
		return nil, err
	}

	s.metrics.RecordJobStarted(ctx, "daily", "api")
	obslogger.WithContext(ctx, s.log).Info("dailysync.started",
		zap.String("job_id", job.ID),
		zap.String("from_date", fromDate),
		zap.String("to_date", toDate),
		zap.Int("days", len(dates)),
	)

	if err := s.enqueue(ctx, domain.ChunkPayload{JobID: job.ID}); err != nil {
		_ = s.repo.MarkFailed(ctx, s.db, job.ID, "enqueue failed: "+err.Error(), s.clock.Now())
		return nil, err
	}
	return job, nil
}

func (s *Service) resumeExisting(ctx context.Context, job *domain.Job, resumeFromDay *int) (*domain.Job, error) {
	if job.Status == domain.StatusCompleted {
		return job, nil
	}
	if job.Status != domain.StatusRunning {
		ok, err := s.repo.TransitionStatus(ctx, s.db, job.ID, []domain.Status{
			domain.StatusPending,
			domain.StatusPaused,
			domain.StatusCancelled,
			domain.StatusFailed,
		}, domain.StatusRunning, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidStatusTransition
		}
	}

	index := ResumeIndex(job)
	if resumeFromDay != nil && *resumeFromDay >= 0 {
		index = *resumeFromDay
	}
	if err := s.enqueue(ctx, domain.ChunkPayload{JobID: job.ID, ResumeFromDay: index}); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, job.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	job, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{UserID: strings.TrimSpace(req.UserID)}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch parsed := domain.Status(strings.ToLower(status)); parsed {
		case domain.StatusPending, domain.StatusRunning, domain.StatusPaused,
			domain.StatusCancelled, domain.StatusCompleted, domain.StatusFailed:
			filter.Status = parsed
		default:
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return domain.ListResponse{}, err
	}
	page, info, err := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(j *domain.Job) pagination.Cursor {
		return pagination.Cursor{ID: j.ID, CreatedAt: j.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	return domain.ListResponse{PageInfo: *info, Jobs: page}, nil
}

// Pause stops the daily runner at its next suspension point. A running child keeps going.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Job, error) {
	return s.transition(ctx, id, []domain.Status{domain.StatusPending, domain.StatusRunning}, domain.StatusPaused)
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	return s.transition(ctx, id, []domain.Status{
		domain.StatusPending,
		domain.StatusRunning,
		domain.StatusPaused,
	}, domain.StatusCancelled)
}

func (s *Service) Resume(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.transition(ctx, id, []domain.Status{domain.StatusPaused}, domain.StatusRunning)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, domain.ChunkPayload{JobID: job.ID, ResumeFromDay: ResumeIndex(job)}); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) transition(ctx context.Context, id string, from []domain.Status, to domain.Status) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.TransitionStatus(ctx, s.db, job.ID, from, to, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidStatusTransition
	}
	obslogger.WithContext(ctx, s.log).Info("dailysync.status.changed",
		zap.String("job_id", job.ID),
		zap.String("from", string(job.Status)),
		zap.String("to", string(to)),
	)
	return s.repo.FindByID(ctx, s.db, job.ID)
}

func (s *Service) enqueue(ctx context.Context, payload domain.ChunkPayload) error {
	task, err := taskqueue.NewTask(taskqueue.KindDailySync, payload.JobID, payload)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, task)
}

// ResumeIndex locates the current day within the job range, or 0 when the marker is stale.
func ResumeIndex(job *domain.Job) int {
	if job.CurrentDay == "" {
		return 0
	}
	dates, err := aggregation.DatesBetween(job.FromDate, job.ToDate)
	if err != nil {
		return 0
	}
	for i, date := range dates {
		if date == job.CurrentDay {
			return i
		}
	}
	return 0
}

func isNotFound(err error) bool {
	return errors.Is(err, syncjobdomain.ErrNotFound)
}

func since(now time.Time, t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return now.Sub(*t)
}
