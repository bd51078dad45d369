package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one sold-item line recorded by the point of sale.
type Transaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber     string          `gorm:"column:order_number;index" json:"order_number"`
	TransactionDate time.Time       `gorm:"column:transaction_date;not null;index" json:"transaction_date"`
	Brand           string          `gorm:"column:brand" json:"brand"`
	ProductSKU      string          `gorm:"column:product_sku" json:"product_sku"`
	ProductName     string          `gorm:"column:product_name" json:"product_name"`
	UnitPrice       decimal.Decimal `gorm:"column:unit_price;type:numeric(18,4);not null;default:0" json:"unit_price"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:numeric(18,4);not null;default:0" json:"quantity"`
	Total           decimal.Decimal `gorm:"column:total;type:numeric(18,4);not null;default:0" json:"total"`
	PaymentMethod   string          `gorm:"column:payment_method" json:"payment_method"`
	PaymentBrand    string          `gorm:"column:payment_brand" json:"payment_brand"`
	CashierName     string          `gorm:"column:cashier_name" json:"cashier_name"`
	Company         string          `gorm:"column:company" json:"company"`
	IsDeleted       bool            `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	SentToERP       bool            `gorm:"column:sent_to_erp;not null;default:false;index" json:"sent_to_erp"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// NonStockProduct marks a SKU that needs a companion purchase order.
type NonStockProduct struct {
	SKU    string `gorm:"column:sku;primaryKey" json:"sku"`
	Name   string `gorm:"column:name" json:"name"`
	Active bool   `gorm:"column:active;not null;default:true" json:"active"`
}

func (NonStockProduct) TableName() string { return "non_stock_products" }
