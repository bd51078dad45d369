package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var job domain.Job
	err := db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Job, error) {
	stmt := db.WithContext(ctx).Model(&domain.Job{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var items []*domain.Job
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStaleRunning(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]*domain.Job, error) {
	var items []*domain.Job
	err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(domain.StatusRunning), updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id string, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	fromValues := make([]string, 0, len(from))
	for _, s := range from {
		fromValues = append(fromValues, string(s))
	}
	updates := map[string]any{
		"status":     string(to),
		"updated_at": now,
	}
	if to == domain.StatusRunning {
		updates["error_message"] = ""
		updates["completed_at"] = nil
	}
	if to.Terminal() {
		updates["completed_at"] = now
	}

	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, fromValues).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SaveProgress(ctx context.Context, db *gorm.DB, job *domain.Job, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"current_day":       job.CurrentDay,
			"day_statuses":      job.DayStatuses,
			"total_days":        job.TotalDays,
			"completed_days":    job.CompletedDays,
			"failed_days":       job.FailedDays,
			"total_orders":      job.TotalOrders,
			"processed_orders":  job.ProcessedOrders,
			"successful_orders": job.SuccessfulOrders,
			"failed_orders":     job.FailedOrders,
			"skipped_orders":    job.SkippedOrders,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE daily_sync_jobs SET updated_at = ? WHERE id = ?`,
		now,
		id,
	).Error
}

// MarkCompleted only completes a running job; a concurrent pause or cancel wins.
func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE daily_sync_jobs
		 SET status = ?, current_day = '', completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusCompleted),
		now,
		now,
		id,
		string(domain.StatusRunning),
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id string, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE daily_sync_jobs
		 SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(domain.StatusFailed),
		message,
		now,
		now,
		id,
	).Error
}

func (r *repo) SetEmailSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE daily_sync_jobs SET email_sent = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		id,
	).Error
}
