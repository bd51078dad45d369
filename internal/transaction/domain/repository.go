package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Filter selects unsent transaction lines either by date range or by order number.
type Filter struct {
	From                   time.Time
	To                     time.Time
	OrderNumbers           []string
	ExcludedPaymentMethods []string
}

type Repository interface {
	FindUnsent(ctx context.Context, db *gorm.DB, filter Filter) ([]Transaction, error)
	ListNonStockSKUs(ctx context.Context, db *gorm.DB) ([]string, error)
	MarkSent(ctx context.Context, db *gorm.DB, orderNumbers []string, now time.Time) error
}
