package aggregation

import (
	"sort"
	"strings"
	"time"

	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
)

// Input is everything the builder needs; it performs no I/O.
type Input struct {
	Transactions []transactiondomain.Transaction
	NonStockSKUs map[string]struct{}
	// Mappings maps original order number to the invoice that absorbed it.
	Mappings map[string]string
	// LastSequence is the highest sequence already mapped per date (YYYY-MM-DD).
	LastSequence map[string]int
	Location     *time.Location
}

type Result struct {
	Invoices      []Invoice      `json:"invoices"`
	AlreadySynced int            `json:"already_synced"`
	BaseSequence  map[string]int `json:"base_sequence"`
}

type group struct {
	key    InvoiceKey
	lines  []transactiondomain.Transaction
	orders []string
}

// Build groups transaction lines into invoices. Groups whose every original
// order is already mapped are excluded and counted in AlreadySynced.
func Build(in Input) Result {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	byOrder := make(map[string][]transactiondomain.Transaction)
	for _, tx := range in.Transactions {
		orderNumber := strings.TrimSpace(tx.OrderNumber)
		if orderNumber == "" {
			continue
		}
		tx.OrderNumber = orderNumber
		byOrder[orderNumber] = append(byOrder[orderNumber], tx)
	}

	orderNumbers := make([]string, 0, len(byOrder))
	for orderNumber := range byOrder {
		orderNumbers = append(orderNumbers, orderNumber)
	}
	sort.Strings(orderNumbers)

	groups := make(map[InvoiceKey]*group)
	for _, orderNumber := range orderNumbers {
		for _, tx := range byOrder[orderNumber] {
			key := InvoiceKey{
				Date:          tx.TransactionDate.In(loc).Format(time.DateOnly),
				Brand:         tx.Brand,
				PaymentMethod: tx.PaymentMethod,
				PaymentBrand:  tx.PaymentBrand,
				Cashier:       tx.CashierName,
			}
			g, ok := groups[key]
			if !ok {
				g = &group{key: key}
				groups[key] = g
			}
			g.lines = append(g.lines, tx)
			if n := len(g.orders); n == 0 || g.orders[n-1] != orderNumber {
				g.orders = append(g.orders, orderNumber)
			}
		}
	}

	keys := make([]InvoiceKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	sequence := make(map[string]int, len(in.LastSequence))
	base := make(map[string]int)
	for date, seq := range in.LastSequence {
		sequence[date] = seq
	}

	result := Result{BaseSequence: base}
	for _, key := range keys {
		g := groups[key]
		base[key.Date] = in.LastSequence[key.Date]

		number, fullyMapped := existingNumber(g.orders, in.Mappings)
		if fullyMapped {
			result.AlreadySynced++
			continue
		}

		inv := Invoice{
			Key:                  key,
			OriginalOrderNumbers: g.orders,
		}
		if number != "" {
			inv.InvoiceNumber = number
			inv.ReusedNumber = true
		} else {
			sequence[key.Date]++
			inv.InvoiceNumber = FormatInvoiceNumber(key.Date, sequence[key.Date])
		}
		inv.Lines, inv.HasNonStock = mergeLines(g.lines, in.NonStockSKUs)
		for _, line := range inv.Lines {
			inv.GrandTotal = inv.GrandTotal.Add(line.Amount)
		}
		for _, tx := range g.lines {
			if tx.Company != "" {
				inv.Company = tx.Company
				break
			}
		}
		result.Invoices = append(result.Invoices, inv)
	}
	return result
}

// existingNumber reports whether every order is mapped, and the invoice
// number to reuse when all mapped orders agree on one.
func existingNumber(orders []string, mappings map[string]string) (string, bool) {
	mapped := 0
	number := ""
	consistent := true
	for _, orderNumber := range orders {
		existing, ok := mappings[orderNumber]
		if !ok {
			continue
		}
		mapped++
		if number == "" {
			number = existing
		} else if number != existing {
			consistent = false
		}
	}
	if mapped == len(orders) {
		return number, true
	}
	if !consistent {
		return "", false
	}
	return number, false
}

type lineKey struct {
	sku   string
	price string
}

func mergeLines(lines []transactiondomain.Transaction, nonStock map[string]struct{}) ([]ProductLine, bool) {
	merged := make(map[lineKey]*ProductLine)
	order := make([]lineKey, 0, len(lines))
	hasNonStock := false

	for _, tx := range lines {
		key := lineKey{sku: tx.ProductSKU, price: tx.UnitPrice.String()}
		line, ok := merged[key]
		if !ok {
			_, isNonStock := nonStock[tx.ProductSKU]
			line = &ProductLine{
				SKU:       tx.ProductSKU,
				Name:      tx.ProductName,
				UnitPrice: tx.UnitPrice,
				NonStock:  isNonStock,
			}
			merged[key] = line
			order = append(order, key)
		}
		line.Quantity = line.Quantity.Add(tx.Quantity)
		line.Amount = line.Amount.Add(tx.Total)
		if line.NonStock {
			hasNonStock = true
		}
	}

	out := make([]ProductLine, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].UnitPrice.LessThan(out[j].UnitPrice)
	})
	return out, hasNonStock
}
