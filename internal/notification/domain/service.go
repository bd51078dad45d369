package domain

import (
	"context"
	"errors"
	"time"
)

// FailedInvoice is one failed row in the completion email.
type FailedInvoice struct {
	InvoiceNumber string
	Orders        string
	Error         string
}

type AggregatedSummary struct {
	JobID       string
	UserID      string
	UserEmail   string
	UserName    string
	FromDate    string
	ToDate      string
	Total       int
	Processed   int
	Successful  int
	Failed      int
	Skipped     int
	Duration    time.Duration
	FailedItems []FailedInvoice
}

type DaySummary struct {
	Date       string
	Status     string
	Total      int
	Successful int
	Failed     int
	Skipped    int
}

type DailySummary struct {
	JobID      string
	UserID     string
	UserEmail  string
	UserName   string
	FromDate   string
	ToDate     string
	Total      int
	Successful int
	Failed     int
	Skipped    int
	Duration   time.Duration
	Days       []DaySummary
}

// Service sends completion mail. Send failures are logged and reported as false, never returned.
type Service interface {
	NotifyAggregatedCompleted(ctx context.Context, summary AggregatedSummary) bool
	NotifyDailyCompleted(ctx context.Context, summary DailySummary) bool
}

var (
	ErrNoSender          = errors.New("no_sender_configured")
	ErrInvalidSecretKey  = errors.New("invalid_secret_key")
	ErrInvalidCiphertext = errors.New("invalid_ciphertext")
)
