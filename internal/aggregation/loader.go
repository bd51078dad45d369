package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/ordersync/internal/config"
	mappingdomain "github.com/smallbiznis/ordersync/internal/ordermapping/domain"
	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidScope     = errors.New("invalid_scope")
	ErrInvalidDateRange = errors.New("invalid_date_range")
)

// Scope selects the transactions to aggregate: an inclusive date range or explicit order numbers.
type Scope struct {
	FromDate     string   `json:"from_date,omitempty"`
	ToDate       string   `json:"to_date,omitempty"`
	OrderNumbers []string `json:"order_numbers,omitempty"`
}

// Sources holds fetched inputs before sequence numbers are read.
type Sources struct {
	Transactions []transactiondomain.Transaction
	NonStockSKUs map[string]struct{}
	Mappings     map[string]string
	location     *time.Location
}

// Dates returns the distinct calendar dates touched by the fetched transactions.
func (s *Sources) Dates() []string {
	seen := make(map[string]struct{})
	for _, tx := range s.Transactions {
		if strings.TrimSpace(tx.OrderNumber) == "" {
			continue
		}
		seen[tx.TransactionDate.In(s.location).Format(time.DateOnly)] = struct{}{}
	}
	dates := make([]string, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Policy      *config.SyncPolicyHolder
	Transaction transactiondomain.Repository
	Mapping     mappingdomain.Repository
}

// Loader fetches aggregation inputs from the database and runs Build.
type Loader struct {
	db          *gorm.DB
	log         *zap.Logger
	policy      *config.SyncPolicyHolder
	transaction transactiondomain.Repository
	mapping     mappingdomain.Repository
}

func NewLoader(p Params) *Loader {
	return &Loader{
		db:          p.DB,
		log:         p.Log.Named("aggregation.loader"),
		policy:      p.Policy,
		transaction: p.Transaction,
		mapping:     p.Mapping,
	}
}

// Load fetches and builds in one step.
func (l *Loader) Load(ctx context.Context, scope Scope) (Result, error) {
	sources, err := l.Fetch(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	return l.Build(ctx, sources)
}

func (l *Loader) Fetch(ctx context.Context, scope Scope) (*Sources, error) {
	policy := l.policy.Get()
	loc := policy.Location()

	filter := transactiondomain.Filter{ExcludedPaymentMethods: policy.ExcludedPaymentMethods}
	if len(scope.OrderNumbers) > 0 {
		filter.OrderNumbers = dedupe(scope.OrderNumbers)
	} else {
		from, to, err := DateBounds(scope.FromDate, scope.ToDate, loc)
		if err != nil {
			return nil, err
		}
		filter.From, filter.To = from, to
	}

	rows, err := l.transaction.FindUnsent(ctx, l.db, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	skus, err := l.transaction.ListNonStockSKUs(ctx, l.db)
	if err != nil {
		return nil, fmt.Errorf("fetch non-stock products: %w", err)
	}
	nonStock := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		nonStock[sku] = struct{}{}
	}

	orderSet := make(map[string]struct{})
	for _, tx := range rows {
		if orderNumber := strings.TrimSpace(tx.OrderNumber); orderNumber != "" {
			orderSet[orderNumber] = struct{}{}
		}
	}
	orderNumbers := make([]string, 0, len(orderSet))
	for orderNumber := range orderSet {
		orderNumbers = append(orderNumbers, orderNumber)
	}
	sort.Strings(orderNumbers)

	existing, err := l.mapping.FindByOrderNumbers(ctx, l.db, orderNumbers)
	if err != nil {
		return nil, fmt.Errorf("fetch order mappings: %w", err)
	}
	mappings := make(map[string]string, len(existing))
	for _, m := range existing {
		mappings[m.OriginalOrderNumber] = m.AggregatedInvoiceNumber
	}

	l.log.Debug("aggregation.fetch",
		zap.Int("transactions", len(rows)),
		zap.Int("orders", len(orderNumbers)),
		zap.Int("mapped_orders", len(mappings)),
	)

	return &Sources{
		Transactions: rows,
		NonStockSKUs: nonStock,
		Mappings:     mappings,
		location:     loc,
	}, nil
}

// Build reads the current per-date sequence high-water marks and aggregates.
// Callers that need race-free numbering hold the per-date lock across Build and the mapping writes.
func (l *Loader) Build(ctx context.Context, sources *Sources) (Result, error) {
	maxNumbers, err := l.mapping.MaxInvoiceNumbers(ctx, l.db, sources.Dates())
	if err != nil {
		return Result{}, fmt.Errorf("fetch invoice sequences: %w", err)
	}
	lastSeq := make(map[string]int, len(maxNumbers))
	for date, number := range maxNumbers {
		lastSeq[date] = ParseSequence(number)
	}

	return Build(Input{
		Transactions: sources.Transactions,
		NonStockSKUs: sources.NonStockSKUs,
		Mappings:     sources.Mappings,
		LastSequence: lastSeq,
		Location:     sources.location,
	}), nil
}

// SequenceUnchanged reports whether the per-date high-water marks still match
// the ones a prebuilt result was numbered from.
func (l *Loader) SequenceUnchanged(ctx context.Context, result Result) (bool, error) {
	dates := make([]string, 0, len(result.BaseSequence))
	for date := range result.BaseSequence {
		dates = append(dates, date)
	}
	maxNumbers, err := l.mapping.MaxInvoiceNumbers(ctx, l.db, dates)
	if err != nil {
		return false, fmt.Errorf("fetch invoice sequences: %w", err)
	}
	for _, date := range dates {
		if ParseSequence(maxNumbers[date]) != result.BaseSequence[date] {
			return false, nil
		}
	}
	return true, nil
}

// DateBounds converts an inclusive YYYY-MM-DD range into [from 00:00, to+1 00:00) in loc.
func DateBounds(fromDate, toDate string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	fromDate, toDate = strings.TrimSpace(fromDate), strings.TrimSpace(toDate)
	if fromDate == "" || toDate == "" {
		return time.Time{}, time.Time{}, ErrInvalidScope
	}
	from, err := time.ParseInLocation(time.DateOnly, fromDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	to, err := time.ParseInLocation(time.DateOnly, toDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	return from, to.AddDate(0, 0, 1), nil
}

// DatesBetween lists every calendar date in the inclusive range.
func DatesBetween(fromDate, toDate string) ([]string, error) {
	from, end, err := DateBounds(fromDate, toDate, time.UTC)
	if err != nil {
		return nil, err
	}
	var dates []string
	for d := from; d.Before(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(time.DateOnly))
	}
	return dates, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
