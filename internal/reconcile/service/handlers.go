package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/tenantbill/internal/payment/domain"
	reconciledomain "github.com/smallbiznis/tenantbill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event gatewaydomain.Event, eff *effects) (reconciledomain.Outcome, error) {
	switch event.Type {
	case gatewaydomain.EventSubscriptionCreated, gatewaydomain.EventSubscriptionUpdated:
		return s.handleSubscription(ctx, tx, event, false, eff)
	case gatewaydomain.EventSubscriptionDeleted:
		return s.handleSubscription(ctx, tx, event, true, eff)
	case gatewaydomain.EventInvoiceCreated:
		return s.handleInvoiceCreated(ctx, tx, event, eff)
	case gatewaydomain.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, tx, event, eff)
	case gatewaydomain.EventInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, tx, event, eff)
	case gatewaydomain.EventPaymentSucceeded:
		return s.handlePayment(ctx, tx, event, paymentdomain.PaymentStatusSucceeded)
	case gatewaydomain.EventPaymentFailed:
		return s.handlePayment(ctx, tx, event, paymentdomain.PaymentStatusFailed)
	default:
		s.log.Debug("ignoring unhandled webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.RawType),
		)
		return reconciledomain.OutcomeIgnored, nil
	}
}

func (s *Service) handleSubscription(
	ctx context.Context,
	tx *gorm.DB,
	event gatewaydomain.Event,
	deleted bool,
	eff *effects,
) (reconciledomain.Outcome, error) {
	if event.Subscription == nil {
		return reconciledomain.OutcomeIgnored, nil
	}
	remote := *event.Subscription
	if deleted {
		remote.Status = string(subscriptiondomain.SubscriptionStatusCanceled)
	}

	result, err := s.subscriptions.ApplyGatewayReportTx(ctx, tx, remote, event.CreatedAt, subscriptiondomain.SourceWebhook)
	if err != nil {
		return "", err
	}
	if result.Outcome == subscriptiondomain.OutcomeApplied {
		eff.applied = append(eff.applied, result)
	}
	return fromApply(result.Outcome), nil
}

func (s *Service) handleInvoiceCreated(ctx context.Context, tx *gorm.DB, event gatewaydomain.Event, eff *effects) (reconciledomain.Outcome, error) {
	inv, created, err := s.resolveInvoice(ctx, tx, event.Invoice)
	if err != nil || inv == nil {
		return reconciledomain.OutcomeIgnored, err
	}
	if !created {
		return reconciledomain.OutcomeDuplicate, nil
	}
	eff.notify(notificationdomain.InvoiceJob(notificationdomain.KindInvoiceGenerated, inv.TenantID, inv.ID))
	return reconciledomain.OutcomeApplied, nil
}

// handleInvoicePaid creates the invoice first when invoice.created has not
// been seen yet.
func (s *Service) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event gatewaydomain.Event, eff *effects) (reconciledomain.Outcome, error) {
	inv, _, err := s.resolveInvoice(ctx, tx, event.Invoice)
	if err != nil || inv == nil {
		return reconciledomain.OutcomeIgnored, err
	}

	paid, changed, err := s.invoices.MarkPaidTx(ctx, tx, inv.ID)
	if errors.Is(err, invoicedomain.ErrInvalidTransition) {
		s.log.Info("ignoring payment for settled invoice",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("status", string(inv.Status)),
		)
		return reconciledomain.OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return reconciledomain.OutcomeDuplicate, nil
	}
	eff.notify(notificationdomain.InvoiceJob(notificationdomain.KindPaymentSucceeded, paid.TenantID, paid.ID))
	return reconciledomain.OutcomeApplied, nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, tx *gorm.DB, event gatewaydomain.Event, eff *effects) (reconciledomain.Outcome, error) {
	inv, _, err := s.resolveInvoice(ctx, tx, event.Invoice)
	if err != nil || inv == nil {
		return reconciledomain.OutcomeIgnored, err
	}

	failed, changed, err := s.invoices.MarkUncollectibleTx(ctx, tx, inv.ID)
	if errors.Is(err, invoicedomain.ErrInvalidTransition) {
		// A late failure report for an invoice that was paid or voided since.
		return reconciledomain.OutcomeStale, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return reconciledomain.OutcomeDuplicate, nil
	}
	eff.notify(notificationdomain.InvoiceJob(notificationdomain.KindPaymentFailed, failed.TenantID, failed.ID))
	return reconciledomain.OutcomeApplied, nil
}

func (s *Service) handlePayment(
	ctx context.Context,
	tx *gorm.DB,
	event gatewaydomain.Event,
	status paymentdomain.PaymentStatus,
) (reconciledomain.Outcome, error) {
	remote := event.Payment
	if remote == nil || strings.TrimSpace(remote.IntentID) == "" {
		return reconciledomain.OutcomeIgnored, nil
	}
	if strings.TrimSpace(remote.InvoiceID) == "" {
		s.log.Debug("ignoring payment without invoice", zap.String("intent_ref", remote.IntentID))
		return reconciledomain.OutcomeIgnored, nil
	}

	inv, err := s.invoiceRepo.FindByExternalRefForUpdate(ctx, tx, remote.InvoiceID)
	if err != nil {
		return "", err
	}
	if inv == nil {
		return "", reconciledomain.ErrInvoiceNotYetKnown
	}

	_, changed, err := s.payments.RecordAttemptTx(ctx, tx, inv.TenantID, inv.ID, paymentdomain.Attempt{
		IntentRef:      remote.IntentID,
		ChargeRef:      remote.ChargeID,
		Amount:         remote.Amount,
		Currency:       firstNonEmpty(remote.Currency, inv.Currency),
		Method:         remote.Method,
		Status:         status,
		FailureCode:    remote.FailureCode,
		FailureMessage: remote.FailureMessage,
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return reconciledomain.OutcomeDuplicate, nil
	}
	return reconciledomain.OutcomeApplied, nil
}

// resolveInvoice returns the local copy of a processor invoice, creating it
// when needed. It returns nil when the invoice belongs to no known tenant.
func (s *Service) resolveInvoice(ctx context.Context, tx *gorm.DB, remote *gatewaydomain.Invoice) (*invoicedomain.Invoice, bool, error) {
	if remote == nil || strings.TrimSpace(remote.ID) == "" {
		return nil, false, nil
	}
	existing, err := s.invoiceRepo.FindByExternalRefForUpdate(ctx, tx, remote.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if remote.CustomerID == "" {
		return nil, false, nil
	}
	tenant, err := s.tenants.FindByExternalCustomerRef(ctx, tx, remote.CustomerID)
	if err != nil {
		return nil, false, err
	}
	if tenant == nil {
		s.log.Warn("invoice for unknown customer",
			zap.String("external_ref", remote.ID),
			zap.String("customer_ref", remote.CustomerID),
		)
		return nil, false, nil
	}

	var subscriptionID *snowflake.ID
	if remote.SubscriptionID != "" {
		sub, err := s.subRepo.FindByExternalRef(ctx, tx, remote.SubscriptionID)
		if err != nil {
			return nil, false, err
		}
		if sub != nil && sub.TenantID == tenant.ID {
			id := sub.ID
			subscriptionID = &id
		}
	}

	lines := make([]invoicedomain.LineItem, 0, len(remote.Lines))
	for _, line := range remote.Lines {
		quantity := line.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		lines = append(lines, invoicedomain.LineItem{Description: line.Description, Amount: line.Amount, Quantity: quantity})
	}
	subtotal := remote.Subtotal
	if subtotal == 0 && remote.Total > remote.Tax {
		subtotal = remote.Total - remote.Tax
	}

	inv, created, err := s.invoices.UpsertExternalTx(ctx, tx, invoicedomain.ExternalInvoice{
		TenantID:       tenant.ID,
		SubscriptionID: subscriptionID,
		ExternalRef:    remote.ID,
		Status:         invoiceStatus(remote.Status),
		Currency:       remote.Currency,
		Subtotal:       subtotal,
		Tax:            remote.Tax,
		Lines:          lines,
		PeriodStart:    remote.PeriodStart,
		PeriodEnd:      remote.PeriodEnd,
		InvoiceDate:    remote.CreatedAt,
		DueDate:        remote.DueDate,
	})
	if err != nil {
		return nil, false, err
	}
	return &inv, created, nil
}

func invoiceStatus(raw string) invoicedomain.InvoiceStatus {
	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return invoicedomain.InvoiceStatusOpen
	}
	return status
}

func fromApply(outcome subscriptiondomain.ApplyOutcome) reconciledomain.Outcome {
	switch outcome {
	case subscriptiondomain.OutcomeApplied:
		return reconciledomain.OutcomeApplied
	case subscriptiondomain.OutcomeDuplicate:
		return reconciledomain.OutcomeDuplicate
	case subscriptiondomain.OutcomeStale:
		return reconciledomain.OutcomeStale
	default:
		return reconciledomain.OutcomeIgnored
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
