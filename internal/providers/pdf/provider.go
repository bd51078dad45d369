package pdf

import (
	"context"
	"io"
)

// RunReport is the printable summary of one aggregated sync job.
type RunReport struct {
	JobID       string
	Status      string
	Scope       string
	RequestedBy string
	StartedAt   string
	CompletedAt string
	Duration    string
	Total       int
	Processed   int
	Successful  int
	Failed      int
	Skipped     int
	Invoices    []RunReportInvoice
}

type RunReportInvoice struct {
	InvoiceNumber string
	Orders        string
	Amount        string
	Status        string
	Error         string
}

type Provider interface {
	GenerateRunReport(ctx context.Context, report RunReport) (io.Reader, error)
}

func New() Provider {
	return &PDFProvider{}
}
