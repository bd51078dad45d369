package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByOrderNumbers(ctx context.Context, db *gorm.DB, orderNumbers []string) ([]OrderMapping, error)
	// MaxInvoiceNumbers returns the highest mapped invoice number per aggregation date.
	MaxInvoiceNumbers(ctx context.Context, db *gorm.DB, dates []string) (map[string]string, error)
	Upsert(ctx context.Context, db *gorm.DB, mappings []OrderMapping) error
}
