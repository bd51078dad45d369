package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/ordersync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Job, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Job, error)
	ListStaleRunning(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]*Job, error)

	TransitionStatus(ctx context.Context, db *gorm.DB, id string, from []Status, to Status, now time.Time) (bool, error)
	// SaveProgress persists the day map, aggregates and current day without touching status.
	// It reports false when the row no longer exists.
	SaveProgress(ctx context.Context, db *gorm.DB, job *Job, now time.Time) (bool, error)
	// Touch bumps updated_at only, leaving the day map to the runner that owns it.
	Touch(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id string, message string, now time.Time) error
	SetEmailSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error
}

type ListFilter struct {
	Status Status
	UserID string
}
