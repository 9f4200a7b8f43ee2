package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) UpsertExternalTx(ctx context.Context, tx *gorm.DB, req invoicedomain.ExternalInvoice) (invoicedomain.Invoice, bool, error) {
	ref := strings.TrimSpace(req.ExternalRef)
	if req.TenantID == 0 || ref == "" {
		return invoicedomain.Invoice{}, false, invoicedomain.ErrInvalidTenant
	}
	status := req.Status
	if status == "" || status == invoicedomain.InvoiceStatusPaid {
		status = invoicedomain.InvoiceStatusOpen
	}
	if !status.Valid() {
		return invoicedomain.Invoice{}, false, invoicedomain.ErrInvalidStatus
	}

	existing, err := s.repo.FindByExternalRefForUpdate(ctx, tx, ref)
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	if req.SubscriptionID != nil && req.PeriodStart != nil {
		local, err := s.repo.FindBySubscriptionPeriodForUpdate(ctx, tx, *req.SubscriptionID, req.PeriodStart.UTC())
		if err != nil {
			return invoicedomain.Invoice{}, false, err
		}
		if local != nil {
			adopted, err := s.adopt(ctx, tx, *local, ref, status, req)
			return adopted, false, err
		}
	}

	var inv invoicedomain.Invoice
	err = tx.Transaction(func(sp *gorm.DB) error {
		var createErr error
		inv, createErr = s.CreateTx(ctx, sp, invoicedomain.NewInvoice{
			TenantID:       req.TenantID,
			SubscriptionID: req.SubscriptionID,
			Status:         status,
			Currency:       req.Currency,
			Subtotal:       req.Subtotal,
			Tax:            req.Tax,
			ExternalRef:    &ref,
			Lines:          req.Lines,
			PeriodStart:    utcPtr(req.PeriodStart),
			PeriodEnd:      utcPtr(req.PeriodEnd),
			InvoiceDate:    req.InvoiceDate,
			DueDate:        utcPtr(req.DueDate),
		})
		return createErr
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			again, findErr := s.repo.FindByExternalRefForUpdate(ctx, tx, ref)
			if findErr == nil && again != nil {
				return *again, false, nil
			}
		}
		return invoicedomain.Invoice{}, false, err
	}
	s.emitAudit(ctx, tx, auditInvoiceSynced, inv, nil)
	return inv, true, nil
}

// adopt links a locally generated invoice to the processor's copy. Amounts
// follow the processor while the invoice is still mutable.
func (s *Service) adopt(
	ctx context.Context,
	tx *gorm.DB,
	inv invoicedomain.Invoice,
	ref string,
	status invoicedomain.InvoiceStatus,
	req invoicedomain.ExternalInvoice,
) (invoicedomain.Invoice, error) {
	if inv.ExternalRef != nil && *inv.ExternalRef != ref {
		s.log.Warn("subscription period already billed under another external invoice",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("stored_ref", *inv.ExternalRef),
			zap.String("reported_ref", ref),
		)
		return inv, nil
	}

	now := s.clock.Now()
	inv.ExternalRef = &ref
	if inv.Mutable() {
		if req.Currency != "" {
			inv.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
		}
		inv.Subtotal = req.Subtotal
		inv.Tax = req.Tax
		if len(req.Lines) > 0 {
			if err := inv.SetLines(req.Lines); err != nil {
				return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount.Wrap(err)
			}
		}
		if req.DueDate != nil {
			inv.DueDate = utcPtr(req.DueDate)
		}
		inv.Recalculate()
	}
	if inv.Status != status && inv.Status.CanTransition(status) {
		inv.Status = status
	}
	inv.UpdatedAt = now
	if err := inv.Validate(); err != nil {
		return invoicedomain.Invoice{}, err
	}
	if err := s.repo.Update(ctx, tx, &inv); err != nil {
		return invoicedomain.Invoice{}, err
	}
	s.log.Info("adopted local invoice for external invoice",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("external_ref", ref),
	)
	return inv, nil
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (invoicedomain.Invoice, bool, error) {
	return s.mutateTx(ctx, tx, id, auditInvoicePaid, func(inv *invoicedomain.Invoice) (bool, error) {
		return inv.MarkPaid(s.clock.Now())
	})
}

func (s *Service) MarkUncollectibleTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (invoicedomain.Invoice, bool, error) {
	return s.mutateTx(ctx, tx, id, auditInvoiceUncollectible, func(inv *invoicedomain.Invoice) (bool, error) {
		return inv.MarkUncollectible(s.clock.Now())
	})
}

func (s *Service) mutateTx(
	ctx context.Context,
	tx *gorm.DB,
	id snowflake.ID,
	action string,
	mutate func(*invoicedomain.Invoice) (bool, error),
) (invoicedomain.Invoice, bool, error) {
	inv, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, false, invoicedomain.ErrInvoiceNotFound
	}

	changed, err := mutate(inv)
	if err != nil || !changed {
		return *inv, false, err
	}
	if err := inv.Validate(); err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	if err := s.repo.Update(ctx, tx, inv); err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	s.log.Info("invoice status changed",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("status", string(inv.Status)),
	)
	s.emitAudit(ctx, tx, action, *inv, nil)
	return *inv, true, nil
}

func (s *Service) ListDueForReminder(ctx context.Context, limit int) ([]invoicedomain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now()
	interval := s.policy.Get().PaymentReminderInterval
	return s.repo.ListDueForReminder(ctx, s.db, now, now.Add(-interval), limit)
}

func (s *Service) MarkReminderSent(ctx context.Context, id snowflake.ID) error {
	return s.repo.MarkReminderSent(ctx, s.db, id, s.clock.Now())
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
