package service

import (
	"context"
	"time"

	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"gorm.io/gorm"
)

const (
	auditInvoiceGenerated     = "invoice.generated"
	auditInvoiceSynced        = "invoice.synced"
	auditInvoicePaid          = "invoice.paid"
	auditInvoiceUncollectible = "invoice.uncollectible"
)

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, action string, inv invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"status":         string(inv.Status),
		"currency":       inv.Currency,
		"total":          inv.Total,
		"amount_due":     inv.AmountDue,
	}
	if inv.SubscriptionID != nil {
		metadata["subscription_id"] = inv.SubscriptionID.String()
	}
	if inv.ExternalRef != nil {
		metadata["external_ref"] = *inv.ExternalRef
	}
	if inv.PeriodStart != nil {
		metadata["period_start"] = inv.PeriodStart.Format(time.RFC3339)
	}
	if inv.PeriodEnd != nil {
		metadata["period_end"] = inv.PeriodEnd.Format(time.RFC3339)
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	_ = s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
		TenantID:   inv.TenantID,
		Action:     action,
		TargetType: "invoice",
		TargetID:   inv.ID.String(),
		Metadata:   metadata,
	})
}
