package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidTenant     = errkind.Validation("invalid_tenant")
	ErrInvalidStatus     = errkind.Validation("invalid_invoice_status")
	ErrInvalidAmount     = errkind.Validation("invalid_invoice_amount")
	ErrInvalidCurrency   = errkind.Validation("invalid_currency")
	ErrInvalidPeriod     = errkind.Validation("invalid_period")
	ErrInvalidTransition = errkind.Conflict("invalid_invoice_transition")
	ErrInvalidPageToken  = errkind.Validation("invalid_page_token")
	ErrInvoiceNotFound   = errkind.NotFound("invoice_not_found")
	ErrInvoiceUnnumbered = errkind.Validation("invoice_unnumbered")
)
