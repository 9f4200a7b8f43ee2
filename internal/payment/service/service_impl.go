package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/clock"
	paymentdomain "github.com/smallbiznis/tenantbill/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  paymentdomain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  paymentdomain.Repository
	audit auditdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

func (s *Service) RecordAttemptTx(
	ctx context.Context,
	tx *gorm.DB,
	tenantID, invoiceID snowflake.ID,
	attempt paymentdomain.Attempt,
) (paymentdomain.Payment, bool, error) {
	if err := validateAttempt(&attempt); err != nil {
		return paymentdomain.Payment{}, false, err
	}
	if tenantID == 0 || invoiceID == 0 {
		return paymentdomain.Payment{}, false, paymentdomain.ErrInvalidPayment
	}

	now := s.clock.Now()
	existing, err := s.repo.FindByIntentRefForUpdate(ctx, tx, attempt.IntentRef)
	if err != nil {
		return paymentdomain.Payment{}, false, err
	}

	if existing == nil {
		intentRef := attempt.IntentRef
		payment := paymentdomain.Payment{
			ID:                s.genID.Generate(),
			TenantID:          tenantID,
			InvoiceID:         invoiceID,
			ExternalIntentRef: &intentRef,
			CreatedAt:         now,
		}
		applyAttempt(&payment, attempt, now)
		if err := s.repo.Insert(ctx, tx, &payment); err != nil {
			return paymentdomain.Payment{}, false, err
		}
		s.log.Info("payment recorded",
			zap.String("payment_id", payment.ID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.String("status", string(payment.Status)),
		)
		s.emitAudit(ctx, tx, "payment.recorded", payment, "")
		return payment, true, nil
	}

	if existing.Status == attempt.Status {
		return *existing, false, nil
	}
	if !existing.Status.CanTransition(attempt.Status) {
		s.log.Info("ignoring payment report for final payment",
			zap.String("payment_id", existing.ID.String()),
			zap.String("stored_status", string(existing.Status)),
			zap.String("reported_status", string(attempt.Status)),
		)
		return *existing, false, nil
	}

	updated := *existing
	applyAttempt(&updated, attempt, now)
	if err := s.repo.Update(ctx, tx, &updated); err != nil {
		return paymentdomain.Payment{}, false, err
	}
	s.emitAudit(ctx, tx, "payment.updated", updated, existing.Status)
	return updated, true, nil
}

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, action string, p paymentdomain.Payment, previous paymentdomain.PaymentStatus) {
	if s.audit == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id": p.InvoiceID.String(),
		"status":     string(p.Status),
		"amount":     p.Amount,
		"currency":   p.Currency,
	}
	if previous != "" {
		metadata["previous_status"] = string(previous)
	}
	if p.ExternalIntentRef != nil {
		metadata["external_intent_ref"] = *p.ExternalIntentRef
	}
	if p.FailureCode != nil {
		metadata["failure_code"] = *p.FailureCode
	}
	_ = s.audit.AuditLogTx(ctx, tx, auditdomain.Entry{
		TenantID:   p.TenantID,
		Action:     action,
		TargetType: "payment",
		TargetID:   p.ID.String(),
		Metadata:   metadata,
	})
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	return s.repo.ListByInvoice(ctx, s.db, invoiceID)
}

func validateAttempt(attempt *paymentdomain.Attempt) error {
	attempt.IntentRef = strings.TrimSpace(attempt.IntentRef)
	if attempt.IntentRef == "" {
		return paymentdomain.ErrInvalidPayment
	}
	if !attempt.Status.Valid() {
		return paymentdomain.ErrInvalidStatus
	}
	if attempt.Amount < 0 {
		return paymentdomain.ErrInvalidAmount
	}
	attempt.Currency = strings.ToLower(strings.TrimSpace(attempt.Currency))
	if attempt.Currency == "" {
		return paymentdomain.ErrInvalidPayment
	}
	return nil
}

func applyAttempt(p *paymentdomain.Payment, attempt paymentdomain.Attempt, now time.Time) {
	p.Amount = attempt.Amount
	p.Currency = attempt.Currency
	p.Status = attempt.Status
	if attempt.Method != "" {
		p.Method = attempt.Method
	}
	if attempt.ChargeRef != "" {
		chargeRef := attempt.ChargeRef
		p.ExternalChargeRef = &chargeRef
	}
	if attempt.Status == paymentdomain.PaymentStatusFailed {
		p.FailureCode = optional(attempt.FailureCode)
		p.FailureMessage = optional(attempt.FailureMessage)
	} else {
		p.FailureCode = nil
		p.FailureMessage = nil
	}
	p.UpdatedAt = now
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
