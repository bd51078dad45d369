// Package stepexecutor submits aggregated invoices to the external ERP step endpoint.
package stepexecutor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Step names accepted by the endpoint. The aggregated runner only calls
// StepOrder and StepPurchase; the others are recorded as skipped.
const (
	StepCustomer = "customer"
	StepBrand    = "brand"
	StepProduct  = "product"
	StepOrder    = "order"
	StepPurchase = "purchase"
)

// TransactionLine is the wire shape of one line submitted to a step.
type TransactionLine struct {
	OrderNumber     string          `json:"order_number"`
	TransactionDate string          `json:"transaction_date"`
	Brand           string          `json:"brand"`
	ProductSKU      string          `json:"product_sku"`
	ProductName     string          `json:"product_name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentBrand    string          `json:"payment_brand"`
	CashierName     string          `json:"cashier_name"`
	Company         string          `json:"company,omitempty"`
}

// Result is the normalised outcome of one step call.
// Skipped results are successful.
type Result struct {
	Success  bool
	Skipped  bool
	Message  string
	Duration time.Duration
}

type Executor interface {
	Execute(ctx context.Context, step string, transactions, nonStock []TransactionLine) Result
}
