package aggregation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tx(order, sku string, price, qty int64, at time.Time) transactiondomain.Transaction {
	return transactiondomain.Transaction{
		OrderNumber:     order,
		TransactionDate: at,
		Brand:           "KOPI",
		ProductSKU:      sku,
		ProductName:     "Product " + sku,
		UnitPrice:       decimal.NewFromInt(price),
		Quantity:        decimal.NewFromInt(qty),
		Total:           decimal.NewFromInt(price * qty),
		PaymentMethod:   "QRIS",
		PaymentBrand:    "GOPAY",
		CashierName:     "ana",
		Company:         "ACME",
	}
}

var day1 = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

func TestBuildGroupsOrdersIntoOneInvoice(t *testing.T) {
	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("A1", "SKU-1", 10, 2, day1),
			tx("A2", "SKU-1", 10, 1, day1.Add(time.Hour)),
		},
	})

	require.Len(t, result.Invoices, 1)
	inv := result.Invoices[0]
	assert.Equal(t, "202501010001", inv.InvoiceNumber)
	assert.Equal(t, []string{"A1", "A2"}, inv.OriginalOrderNumbers)
	require.Len(t, inv.Lines, 1)
	assert.True(t, decimal.NewFromInt(3).Equal(inv.Lines[0].Quantity))
	assert.True(t, decimal.NewFromInt(30).Equal(inv.Lines[0].Amount))
	assert.True(t, decimal.NewFromInt(30).Equal(inv.GrandTotal))
	assert.Equal(t, "ACME", inv.Company)
	assert.False(t, inv.HasNonStock)
	assert.Equal(t, 0, result.AlreadySynced)
	assert.Equal(t, map[string]int{"2025-01-01": 0}, result.BaseSequence)
}

func TestBuildSkipsFullyMappedGroups(t *testing.T) {
	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("A1", "SKU-1", 10, 2, day1),
			tx("A2", "SKU-1", 10, 1, day1),
		},
		Mappings:     map[string]string{"A1": "202501010001", "A2": "202501010001"},
		LastSequence: map[string]int{"2025-01-01": 1},
	})

	assert.Empty(t, result.Invoices)
	assert.Equal(t, 1, result.AlreadySynced)
}

func TestBuildContinuesSequenceFromExistingMax(t *testing.T) {
	other := tx("B1", "SKU-2", 5, 1, day1)
	other.CashierName = "budi"

	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("A1", "SKU-1", 10, 1, day1),
			other,
		},
		LastSequence: map[string]int{"2025-01-01": 7},
	})

	require.Len(t, result.Invoices, 2)
	assert.Equal(t, "202501010008", result.Invoices[0].InvoiceNumber)
	assert.Equal(t, "ana", result.Invoices[0].Key.Cashier)
	assert.Equal(t, "202501010009", result.Invoices[1].InvoiceNumber)
	assert.Equal(t, "budi", result.Invoices[1].Key.Cashier)
	assert.Equal(t, 7, result.BaseSequence["2025-01-01"])
}

func TestBuildReusesNumberForPartiallyMappedGroup(t *testing.T) {
	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("A1", "SKU-1", 10, 1, day1),
			tx("A2", "SKU-1", 10, 1, day1),
		},
		Mappings:     map[string]string{"A1": "202501010003"},
		LastSequence: map[string]int{"2025-01-01": 3},
	})

	require.Len(t, result.Invoices, 1)
	assert.Equal(t, "202501010003", result.Invoices[0].InvoiceNumber)
	assert.True(t, result.Invoices[0].ReusedNumber)
}

func TestBuildDropsLinesWithoutOrderNumber(t *testing.T) {
	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("  ", "SKU-1", 10, 1, day1),
			tx("A1", "SKU-1", 10, 1, day1),
		},
	})

	require.Len(t, result.Invoices, 1)
	assert.Equal(t, []string{"A1"}, result.Invoices[0].OriginalOrderNumbers)
	assert.True(t, decimal.NewFromInt(10).Equal(result.Invoices[0].GrandTotal))
}

func TestBuildMergesLinesBySkuAndPrice(t *testing.T) {
	result := Build(Input{
		Transactions: []transactiondomain.Transaction{
			tx("A1", "SKU-2", 12, 1, day1),
			tx("A1", "SKU-1", 10, 1, day1),
			tx("A2", "SKU-1", 11, 1, day1),
			tx("A2", "SKU-1", 10, 4, day1),
			tx("A2", "BAG", 1, 1, day1),
		},
		NonStockSKUs: map[string]struct{}{"BAG": {}},
	})

	require.Len(t, result.Invoices, 1)
	inv := result.Invoices[0]
	require.Len(t, inv.Lines, 4)
	assert.Equal(t, "BAG", inv.Lines[0].SKU)
	assert.True(t, inv.Lines[0].NonStock)
	assert.Equal(t, "SKU-1", inv.Lines[1].SKU)
	assert.True(t, decimal.NewFromInt(10).Equal(inv.Lines[1].UnitPrice))
	assert.True(t, decimal.NewFromInt(5).Equal(inv.Lines[1].Quantity))
	assert.True(t, decimal.NewFromInt(11).Equal(inv.Lines[2].UnitPrice))
	assert.Equal(t, "SKU-2", inv.Lines[3].SKU)
	assert.True(t, inv.HasNonStock)
	assert.Len(t, inv.NonStockLines(), 1)
	assert.True(t, decimal.NewFromInt(74).Equal(inv.GrandTotal))
}

func TestBuildUsesLocationForDate(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	late := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)

	result := Build(Input{
		Transactions: []transactiondomain.Transaction{tx("A1", "SKU-1", 10, 1, late)},
		Location:     jakarta,
	})

	require.Len(t, result.Invoices, 1)
	assert.Equal(t, "2025-01-02", result.Invoices[0].Key.Date)
	assert.Equal(t, "202501020001", result.Invoices[0].InvoiceNumber)
}

func TestInvoiceNumberFormatting(t *testing.T) {
	assert.Equal(t, "202501010042", FormatInvoiceNumber("2025-01-01", 42))
	assert.Equal(t, 42, ParseSequence("202501010042"))
	assert.Equal(t, 0, ParseSequence("abc"))
	assert.Equal(t, 0, ParseSequence(""))
}

func TestDatesBetween(t *testing.T) {
	dates, err := DatesBetween("2024-12-30", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02"}, dates)

	_, err = DatesBetween("2025-01-02", "2025-01-01")
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = DatesBetween("", "2025-01-01")
	assert.ErrorIs(t, err, ErrInvalidScope)
}
