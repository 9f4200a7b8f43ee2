package render

import (
	"strings"
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
)

func TestRenderHTMLIncludesTotalsAndLines(t *testing.T) {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	inv := invoicedomain.Invoice{
		InvoiceNumber: "INV-2026-ACME-001",
		Currency:      "usd",
		Subtotal:      2900,
		Tax:           290,
		InvoiceDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       &due,
	}
	inv.Recalculate()
	if err := inv.SetLines([]invoicedomain.LineItem{{Description: "Pro plan <monthly>", Amount: 2900, Quantity: 1}}); err != nil {
		t.Fatalf("set lines: %v", err)
	}

	html, err := NewRenderer().RenderHTML(RenderInput{
		Brand:      Brand{CompanyName: "Tenantbill", PrimaryColor: "red; background: url(x)"},
		TenantName: "Acme",
		Invoice:    inv,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{"INV-2026-ACME-001", "USD 31.90", "USD 2.90", "2026-05-01", "Pro plan &lt;monthly&gt;", "#111827"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected rendered html to contain %q", want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[int64]string{0: "USD 0.00", 2900: "USD 29.00", 5: "USD 0.05", -150: "USD -1.50"}
	for amount, want := range cases {
		if got := FormatMoney(amount, ""); got != want {
			t.Fatalf("FormatMoney(%d) = %q, want %q", amount, got, want)
		}
	}
}
