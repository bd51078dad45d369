package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// OrderMapping records which aggregated invoice absorbed an original order.
// One original order number maps to at most one invoice.
type OrderMapping struct {
	ID                      snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OriginalOrderNumber     string       `gorm:"column:original_order_number;not null;uniqueIndex" json:"original_order_number"`
	AggregatedInvoiceNumber string       `gorm:"column:aggregated_invoice_number;not null;index" json:"aggregated_invoice_number"`
	AggregationDate         string       `gorm:"column:aggregation_date;type:varchar(10);not null;index" json:"aggregation_date"`
	Brand                   string       `gorm:"column:brand" json:"brand"`
	PaymentMethod           string       `gorm:"column:payment_method" json:"payment_method"`
	PaymentBrand            string       `gorm:"column:payment_brand" json:"payment_brand"`
	CashierName             string       `gorm:"column:cashier_name" json:"cashier_name"`
	JobID                   string       `gorm:"column:job_id;index" json:"job_id"`
	CreatedAt               time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"not null" json:"updated_at"`
}

func (OrderMapping) TableName() string { return "order_mappings" }
