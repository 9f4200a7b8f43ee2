// Package pdf renders invoices and receipts as PDF documents.
package pdf

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/invoice/render"
)

type Input struct {
	IssuerName  string
	TenantName  string
	TenantEmail string
	Invoice     invoicedomain.Invoice
}

type Renderer interface {
	Render(input Input) ([]byte, error)
}

type MarotoRenderer struct{}

func New() Renderer {
	return &MarotoRenderer{}
}

// Render produces a receipt for paid invoices and an invoice otherwise.
func (r *MarotoRenderer) Render(input Input) ([]byte, error) {
	inv := input.Invoice
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return nil, invoicedomain.ErrInvoiceUnnumbered
	}
	paid := inv.Status == invoicedomain.InvoiceStatusPaid

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	title := "Invoice"
	if paid {
		title = "Receipt"
	}
	m.AddRow(14,
		text.NewCol(12, title, props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
	)

	meta := []string{
		"Invoice number: " + inv.InvoiceNumber,
		"Date of issue: " + formatDate(&inv.InvoiceDate),
		"Date due: " + formatDate(inv.DueDate),
	}
	if inv.PeriodStart != nil && inv.PeriodEnd != nil {
		meta = append(meta, "Service period: "+formatDate(inv.PeriodStart)+" - "+formatDate(inv.PeriodEnd))
	}
	if paid && inv.PaidAt != nil {
		meta = append(meta, "Date paid: "+formatDate(inv.PaidAt))
	}
	metaCol := col.New(6)
	for i, line := range meta {
		metaCol.Add(text.New(line, props.Text{Top: float64(i * 4), Size: 9}))
	}
	m.AddRow(float64(len(meta)*4+6), metaCol, col.New(6))

	m.AddRow(24,
		col.New(6).Add(
			text.New(input.IssuerName, props.Text{Style: fontstyle.Bold}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(input.TenantName, props.Text{Top: 5}),
			text.New(input.TenantEmail, props.Text{Top: 10}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, summary(inv, paid), props.Text{Size: 14, Style: fontstyle.Bold, Top: 5}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range inv.Lines() {
		unit := item.Amount
		if item.Quantity > 0 {
			unit = item.Amount / item.Quantity
		}
		m.AddRow(10,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, render.FormatMoney(unit, inv.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, render.FormatMoney(item.Amount, inv.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct {
		label  string
		amount int64
		bold   bool
	}{
		{"Subtotal", inv.Subtotal, false},
		{"Tax", inv.Tax, false},
		{"Total", inv.Total, false},
		{"Amount paid", inv.AmountPaid, false},
		{"Amount due", inv.AmountDue, true},
	}
	for _, row := range totals {
		style := props.Text{Size: 9}
		if row.bold {
			style.Style = fontstyle.Bold
		}
		right := style
		right.Align = align.Right
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, row.label, style),
			text.NewCol(2, render.FormatMoney(row.amount, inv.Currency), right),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func summary(inv invoicedomain.Invoice, paid bool) string {
	if paid {
		return render.FormatMoney(inv.AmountPaid, inv.Currency) + " paid"
	}
	due := render.FormatMoney(inv.AmountDue, inv.Currency) + " due"
	if inv.DueDate != nil {
		due += " " + formatDate(inv.DueDate)
	}
	return due
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("January 2, 2006")
}
