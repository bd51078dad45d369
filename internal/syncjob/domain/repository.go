package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertJob(ctx context.Context, db *gorm.DB, job *Job) error
	FindJob(ctx context.Context, db *gorm.DB, id string) (*Job, error)
	ListJobs(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Job, error)
	ListStaleRunning(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]*Job, error)

	// TransitionStatus moves the job to `to` only when its current status is one of `from`.
	TransitionStatus(ctx context.Context, db *gorm.DB, id string, from []Status, to Status, now time.Time) (bool, error)
	SetTotal(ctx context.Context, db *gorm.DB, id string, total int, now time.Time) error
	// UpdateProgress writes counters and the current invoice without touching status.
	UpdateProgress(ctx context.Context, db *gorm.DB, id string, counters Counters, current string, now time.Time) error
	Touch(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id string, message string, now time.Time) error
	SetEmailSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error

	InsertRun(ctx context.Context, db *gorm.DB, run *Run) error
	FindLatestRun(ctx context.Context, db *gorm.DB, jobID string) (*Run, error)
	UpdateRun(ctx context.Context, db *gorm.DB, run *Run) error

	InsertDetail(ctx context.Context, db *gorm.DB, detail *RunDetail) error
	ListDetails(ctx context.Context, db *gorm.DB, jobID string) ([]RunDetail, error)
	ProcessedInvoiceKeys(ctx context.Context, db *gorm.DB, jobID string) (map[string]struct{}, error)
}

type ListFilter struct {
	Status           Status
	UserID           string
	ParentDailyJobID string
}
