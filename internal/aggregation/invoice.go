package aggregation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// InvoiceKey is the ERP invoice granularity: one invoice per day, brand,
// payment method, payment brand and cashier.
type InvoiceKey struct {
	Date          string `json:"date"`
	Brand         string `json:"brand"`
	PaymentMethod string `json:"payment_method"`
	PaymentBrand  string `json:"payment_brand"`
	Cashier       string `json:"cashier"`
}

func (k InvoiceKey) String() string {
	return strings.Join([]string{k.Date, k.Brand, k.PaymentMethod, k.PaymentBrand, k.Cashier}, "|")
}

func (k InvoiceKey) less(o InvoiceKey) bool {
	if k.Date != o.Date {
		return k.Date < o.Date
	}
	if k.Brand != o.Brand {
		return k.Brand < o.Brand
	}
	if k.PaymentMethod != o.PaymentMethod {
		return k.PaymentMethod < o.PaymentMethod
	}
	if k.PaymentBrand != o.PaymentBrand {
		return k.PaymentBrand < o.PaymentBrand
	}
	return k.Cashier < o.Cashier
}

type ProductLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	NonStock  bool            `json:"non_stock"`
}

// Invoice is a synthetic ERP invoice built from one or more original orders.
type Invoice struct {
	Key                  InvoiceKey      `json:"key"`
	InvoiceNumber        string          `json:"invoice_number"`
	Company              string          `json:"company,omitempty"`
	Lines                []ProductLine   `json:"lines"`
	GrandTotal           decimal.Decimal `json:"grand_total"`
	OriginalOrderNumbers []string        `json:"original_order_numbers"`
	HasNonStock          bool            `json:"has_non_stock"`
	ReusedNumber         bool            `json:"reused_number,omitempty"`
}

func (inv Invoice) NonStockLines() []ProductLine {
	var out []ProductLine
	for _, line := range inv.Lines {
		if line.NonStock {
			out = append(out, line)
		}
	}
	return out
}

// FormatInvoiceNumber renders YYYYMMDD followed by a 4-digit sequence.
func FormatInvoiceNumber(date string, seq int) string {
	return strings.ReplaceAll(date, "-", "") + fmt.Sprintf("%04d", seq)
}

// ParseSequence extracts the trailing 4-digit sequence of an invoice number.
func ParseSequence(invoiceNumber string) int {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if len(invoiceNumber) < 4 {
		return 0
	}
	seq, err := strconv.Atoi(invoiceNumber[len(invoiceNumber)-4:])
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
