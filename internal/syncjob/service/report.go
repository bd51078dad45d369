package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/ordersync/internal/providers/pdf"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
)

const reportTimeLayout = "2006-01-02 15:04:05 MST"

// Report renders the job summary with one row per processed invoice.
func (s *Service) Report(ctx context.Context, id string) (io.Reader, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := s.repo.ListDetails(ctx, s.db, job.ID)
	if err != nil {
		return nil, err
	}

	report := pdf.RunReport{
		JobID:       job.ID,
		Status:      string(job.Status),
		Scope:       describeScope(job),
		RequestedBy: firstNonEmpty(job.UserName, job.UserEmail, job.UserID),
		StartedAt:   formatTime(job.StartedAt),
		CompletedAt: formatTime(job.CompletedAt),
		Total:       job.TotalOrders,
		Processed:   job.ProcessedOrders,
		Successful:  job.SuccessfulOrders,
		Failed:      job.FailedOrders,
		Skipped:     job.SkippedOrders,
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		report.Duration = job.CompletedAt.Sub(*job.StartedAt).Round(time.Second).String()
	}
	for _, d := range details {
		report.Invoices = append(report.Invoices, pdf.RunReportInvoice{
			InvoiceNumber: d.InvoiceNumber,
			Orders:        strings.Join(d.OriginalOrderNumbers, ", "),
			Amount:        d.TotalAmount.StringFixed(2),
			Status:        d.Status,
			Error:         d.ErrorMessage,
		})
	}
	return s.pdf.GenerateRunReport(ctx, report)
}

func describeScope(job *syncjobdomain.Job) string {
	if len(job.SelectedOrderNumbers) > 0 {
		return strings.Join(job.SelectedOrderNumbers, ", ")
	}
	if job.FromDate == job.ToDate {
		return job.FromDate
	}
	return job.FromDate + " to " + job.ToDate
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(reportTimeLayout)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
