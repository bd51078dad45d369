package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/ordersync/internal/transaction/domain"
	"gorm.io/gorm"
)

// orderNumberBatch keeps IN lists under driver parameter limits.
const orderNumberBatch = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindUnsent(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.Transaction, error) {
	base := func() *gorm.DB {
		stmt := db.WithContext(ctx).
			Model(&domain.Transaction{}).
			Where("is_deleted = ?", false).
			Where("sent_to_erp = ?", false)
		if len(filter.ExcludedPaymentMethods) > 0 {
			stmt = stmt.Where("(payment_method IS NULL OR payment_method NOT IN ?)", filter.ExcludedPaymentMethods)
		}
		return stmt
	}

	if len(filter.OrderNumbers) == 0 {
		var rows []domain.Transaction
		err := base().
			Where("transaction_date >= ? AND transaction_date < ?", filter.From, filter.To).
			Order("transaction_date ASC, order_number ASC, id ASC").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	var rows []domain.Transaction
	for start := 0; start < len(filter.OrderNumbers); start += orderNumberBatch {
		end := min(start+orderNumberBatch, len(filter.OrderNumbers))
		var batch []domain.Transaction
		err := base().
			Where("order_number IN ?", filter.OrderNumbers[start:end]).
			Order("transaction_date ASC, order_number ASC, id ASC").
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

func (r *repo) ListNonStockSKUs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var skus []string
	err := db.WithContext(ctx).Raw(
		`SELECT sku FROM non_stock_products WHERE active = ? ORDER BY sku`,
		true,
	).Scan(&skus).Error
	if err != nil {
		return nil, err
	}
	return skus, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, orderNumbers []string, now time.Time) error {
	for start := 0; start < len(orderNumbers); start += orderNumberBatch {
		end := min(start+orderNumberBatch, len(orderNumbers))
		err := db.WithContext(ctx).Exec(
			`UPDATE transactions SET sent_to_erp = ?, updated_at = ? WHERE order_number IN ?`,
			true,
			now,
			orderNumbers[start:end],
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}
