package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func (p *PDFProvider) GenerateRunReport(ctx context.Context, report RunReport) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Order sync report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(26,
		col.New(7).Add(
			text.New("Job: "+report.JobID, props.Text{Top: 0, Size: 9}),
			text.New("Scope: "+report.Scope, props.Text{Top: 5, Size: 9}),
			text.New("Requested by: "+report.RequestedBy, props.Text{Top: 10, Size: 9}),
			text.New("Status: "+report.Status, props.Text{Top: 15, Style: fontstyle.Bold, Size: 9}),
		),
		col.New(5).Add(
			text.New("Started: "+report.StartedAt, props.Text{Top: 0, Size: 9}),
			text.New("Completed: "+report.CompletedAt, props.Text{Top: 5, Size: 9}),
			text.New("Duration: "+report.Duration, props.Text{Top: 10, Size: 9}),
		),
	)

	counters := []struct {
		label string
		value int
	}{
		{"Total", report.Total},
		{"Processed", report.Processed},
		{"Successful", report.Successful},
		{"Failed", report.Failed},
		{"Skipped", report.Skipped},
	}
	for _, c := range counters {
		m.AddRow(6,
			text.NewCol(3, c.label, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", c.value), props.Text{Size: 9, Align: align.Right}),
			col.New(7),
		)
	}

	m.AddRow(10,
		text.NewCol(3, "Invoice", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3}),
		text.NewCol(3, "Orders", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3, Align: align.Right}),
		text.NewCol(1, "Status", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3, Left: 2}),
		text.NewCol(3, "Error", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, inv := range report.Invoices {
		m.AddRow(8,
			text.NewCol(3, inv.InvoiceNumber, props.Text{Size: 8}),
			text.NewCol(3, inv.Orders, props.Text{Size: 8}),
			text.NewCol(2, inv.Amount, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(1, inv.Status, props.Text{Size: 8, Left: 2}),
			text.NewCol(3, inv.Error, props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
