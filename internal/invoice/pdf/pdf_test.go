package pdf

import (
	"bytes"
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
)

func sampleInvoice(t *testing.T) invoicedomain.Invoice {
	t.Helper()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	due := start.AddDate(0, 0, 14)
	inv := invoicedomain.Invoice{
		InvoiceNumber: "INV-2026-ACME-002",
		Status:        invoicedomain.InvoiceStatusOpen,
		Currency:      "usd",
		Subtotal:      5800,
		InvoiceDate:   start,
		DueDate:       &due,
		PeriodStart:   &start,
		PeriodEnd:     &end,
	}
	inv.Recalculate()
	if err := inv.SetLines([]invoicedomain.LineItem{{Description: "Pro plan seats", Amount: 5800, Quantity: 2}}); err != nil {
		t.Fatalf("set lines: %v", err)
	}
	return inv
}

func TestRenderInvoiceAndReceipt(t *testing.T) {
	r := New()
	inv := sampleInvoice(t)

	doc, err := r.Render(Input{IssuerName: "Tenantbill", TenantName: "Acme", TenantEmail: "billing@acme.test", Invoice: inv})
	if err != nil {
		t.Fatalf("render invoice: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}

	if _, err := inv.MarkPaid(inv.InvoiceDate.AddDate(0, 0, 3)); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	receipt, err := r.Render(Input{TenantName: "Acme", Invoice: inv})
	if err != nil {
		t.Fatalf("render receipt: %v", err)
	}
	if !bytes.HasPrefix(receipt, []byte("%PDF")) {
		t.Fatalf("expected a PDF receipt")
	}
}

func TestRenderRejectsUnnumberedInvoice(t *testing.T) {
	if _, err := New().Render(Input{}); err != invoicedomain.ErrInvoiceUnnumbered {
		t.Fatalf("expected ErrInvoiceUnnumbered, got %v", err)
	}
}
