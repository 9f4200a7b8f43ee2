package email

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[string]string{
	"subscription_created":  "Welcome to the {{.PlanName}} plan",
	"subscription_canceled": "Your {{.PlanName}} subscription was canceled",
	"trial_ending_soon":     "Your trial ends on {{.TrialEndsAt}}",
	"invoice_generated":     "Invoice {{.InvoiceNumber}} is available",
	"payment_succeeded":     "Payment received for {{.InvoiceNumber}}",
	"payment_failed":        "Payment failed for {{.InvoiceNumber}}",
	"payment_reminder":      "Reminder: invoice {{.InvoiceNumber}} is unpaid",
}

// Data feeds every notification template. Empty fields are skipped by the templates.
type Data struct {
	Subject       string
	TenantName    string
	PlanName      string
	InvoiceNumber string
	Amount        string
	DueDate       string
	PeriodEnd     string
	TrialEndsAt   string
	InvoiceHTML   template.HTML
}

type compiled struct {
	subject *texttemplate.Template
	body    *template.Template
}

// Templates holds one compiled subject and body per notification kind.
type Templates struct {
	byName map[string]compiled
}

func NewTemplates() (*Templates, error) {
	t := &Templates{byName: make(map[string]compiled, len(subjects))}
	for name, subject := range subjects {
		subj, err := texttemplate.New(name).Option("missingkey=error").Parse(subject)
		if err != nil {
			return nil, err
		}
		body, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		t.byName[name] = compiled{subject: subj, body: body}
	}
	return t, nil
}

// Render returns the subject line and HTML body for the named template.
func (t *Templates) Render(name string, data Data) (string, string, error) {
	c, ok := t.byName[name]
	if !ok {
		return "", "", ErrUnknownTemplate
	}

	var subject bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return "", "", err
	}
	data.Subject = strings.TrimSpace(subject.String())

	var body bytes.Buffer
	if err := c.body.ExecuteTemplate(&body, "layout", data); err != nil {
		return "", "", err
	}
	return data.Subject, body.String(), nil
}
