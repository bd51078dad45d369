package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
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

func (r *repo) ListJobs(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Job, error) {
	stmt := db.WithContext(ctx).Model(&domain.Job{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.ParentDailyJobID != "" {
		stmt = stmt.Where("parent_daily_job_id = ?", filter.ParentDailyJobID)
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

func (r *repo) SetTotal(ctx context.Context, db *gorm.DB, id string, total int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE aggregated_sync_jobs SET total_orders = ?, updated_at = ? WHERE id = ?`,
		total,
		now,
		id,
	).Error
}

func (r *repo) UpdateProgress(ctx context.Context, db *gorm.DB, id string, counters domain.Counters, current string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE aggregated_sync_jobs
		 SET processed_orders = ?, successful_orders = ?, failed_orders = ?, skipped_orders = ?,
		     current_order_number = ?, updated_at = ?
		 WHERE id = ?`,
		counters.Processed,
		counters.Successful,
		counters.Failed,
		counters.Skipped,
		current,
		now,
		id,
	).Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE aggregated_sync_jobs SET updated_at = ? WHERE id = ?`,
		now,
		id,
	).Error
}

// MarkCompleted only completes a running job; a concurrent pause or cancel wins.
func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE aggregated_sync_jobs
		 SET status = ?, current_order_number = '', completed_at = ?, updated_at = ?
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
		`UPDATE aggregated_sync_jobs
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
		`UPDATE aggregated_sync_jobs SET email_sent = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		id,
	).Error
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.Run) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindLatestRun(ctx context.Context, db *gorm.DB, jobID string) (*domain.Run, error) {
	var run domain.Run
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) UpdateRun(ctx context.Context, db *gorm.DB, run *domain.Run) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sync_runs
		 SET status = ?, total_orders = ?, successful_orders = ?, failed_orders = ?, skipped_orders = ?,
		     error_message = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(run.Status),
		run.TotalOrders,
		run.SuccessfulOrders,
		run.FailedOrders,
		run.SkippedOrders,
		run.ErrorMessage,
		run.CompletedAt,
		run.DurationMs,
		run.ID,
	).Error
}

func (r *repo) InsertDetail(ctx context.Context, db *gorm.DB, detail *domain.RunDetail) error {
	return db.WithContext(ctx).Create(detail).Error
}

func (r *repo) ListDetails(ctx context.Context, db *gorm.DB, jobID string) ([]domain.RunDetail, error) {
	var items []domain.RunDetail
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ProcessedInvoiceKeys(ctx context.Context, db *gorm.DB, jobID string) (map[string]struct{}, error) {
	var keys []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT invoice_key FROM sync_run_details WHERE job_id = ?`,
		jobID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		out[key] = struct{}{}
	}
	return out, nil
}
