// Package render turns invoices into HTML fragments for email bodies.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
)

// invoiceHTMLTemplate is a fragment with inline styles so it can be embedded
// in a notification email layout.
const invoiceHTMLTemplate = `<div style="border:1px solid #e3e8ee;border-radius:4px;padding:24px;margin:24px 0;">
  <h2 style="margin:0 0 4px;font-size:20px;color:{{.Brand.PrimaryColor}};">{{.Brand.CompanyName}}</h2>
  <div>Invoice {{.Invoice.InvoiceNumber}} for {{.TenantName}}</div>
  <div style="font-size:11px;text-transform:uppercase;color:#8792a2;margin-top:16px;">Issued</div>
  <div>{{formatDate .Invoice.InvoiceDate}}</div>
  <div style="font-size:11px;text-transform:uppercase;color:#8792a2;margin-top:16px;">Due</div>
  <div>{{formatDatePtr .Invoice.DueDate}}</div>
  <table style="width:100%;border-collapse:collapse;margin:24px 0;">
    <thead>
      <tr><th align="left">Description</th><th align="right">Qty</th><th align="right">Amount</th></tr>
    </thead>
    <tbody>
      {{range .Lines}}
      <tr>
        <td>{{.Description}}</td>
        <td align="right">{{.Quantity}}</td>
        <td align="right">{{formatMoney .Amount $.Invoice.Currency}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  <table style="width:100%;border-collapse:collapse;">
    <tr><td>Subtotal</td><td align="right">{{formatMoney .Invoice.Subtotal .Invoice.Currency}}</td></tr>
    <tr><td>Tax</td><td align="right">{{formatMoney .Invoice.Tax .Invoice.Currency}}</td></tr>
    <tr><td><strong>Total</strong></td><td align="right"><strong>{{formatMoney .Invoice.Total .Invoice.Currency}}</strong></td></tr>
    <tr><td>Amount due</td><td align="right">{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</td></tr>
  </table>
  {{if .Brand.FooterNotes}}<p style="font-size:12px;color:#8792a2;">{{.Brand.FooterNotes}}</p>{{end}}
</div>
`

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Brand struct {
	CompanyName  string
	PrimaryColor string
	FooterNotes  string
}

type RenderInput struct {
	Brand      Brand
	TenantName string
	Invoice    invoicedomain.Invoice
	Lines      []invoicedomain.LineItem
}

type Renderer interface {
	RenderHTML(input RenderInput) (string, error)
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney":   FormatMoney,
		"formatDate":    formatDate,
		"formatDatePtr": formatDatePtr,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input RenderInput) (string, error) {
	input.Brand.PrimaryColor = sanitizeColor(input.Brand.PrimaryColor)
	if input.Brand.CompanyName == "" {
		input.Brand.CompanyName = "Invoice"
	}
	if input.Lines == nil {
		input.Lines = input.Invoice.Lines()
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatMoney renders minor units as "USD 29.00".
func FormatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, amount/100, amount%100)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}

func formatDatePtr(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return formatDate(*value)
}

func sanitizeColor(value string) string {
	trimmed := strings.TrimSpace(value)
	if hexColorPattern.MatchString(trimmed) {
		return trimmed
	}
	return "#111827"
}
