package repository

import (
	"context"

	"github.com/smallbiznis/ordersync/internal/ordermapping/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lookupBatch = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrderNumbers(ctx context.Context, db *gorm.DB, orderNumbers []string) ([]domain.OrderMapping, error) {
	var out []domain.OrderMapping
	for start := 0; start < len(orderNumbers); start += lookupBatch {
		end := min(start+lookupBatch, len(orderNumbers))
		var batch []domain.OrderMapping
		err := db.WithContext(ctx).
			Where("original_order_number IN ?", orderNumbers[start:end]).
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (r *repo) MaxInvoiceNumbers(ctx context.Context, db *gorm.DB, dates []string) (map[string]string, error) {
	out := make(map[string]string, len(dates))
	if len(dates) == 0 {
		return out, nil
	}

	var rows []struct {
		AggregationDate string
		MaxNumber       string
	}
	err := db.WithContext(ctx).Raw(
		`SELECT aggregation_date, MAX(aggregated_invoice_number) AS max_number
		 FROM order_mappings
		 WHERE aggregation_date IN ?
		 GROUP BY aggregation_date`,
		dates,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.AggregationDate] = row.MaxNumber
	}
	return out, nil
}

// Upsert keys on original_order_number so a retried invoice overwrites its earlier mapping.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, mappings []domain.OrderMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "original_order_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"aggregated_invoice_number",
				"aggregation_date",
				"brand",
				"payment_method",
				"payment_brand",
				"cashier_name",
				"job_id",
				"updated_at",
			}),
		}).
		CreateInBatches(mappings, lookupBatch).Error
}
