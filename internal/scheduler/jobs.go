package scheduler

import (
	"context"
	"errors"
	"fmt"

	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"github.com/smallbiznis/tenantbill/internal/tenantcontext"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TrialSweepJob settles tenants whose trial ended: converted when a paid
// subscription is live, deactivated otherwise.
func (s *Scheduler) TrialSweepJob(ctx context.Context, run *jobRun) error {
	var errs error
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tenants, err := s.tenants.ListExpiredTrials(ctx, s.db, s.clock.Now(), run.batchSize)
		if err != nil {
			return errors.Join(errs, fmt.Errorf("list expired trials: %w", err))
		}

		settled := 0
		for _, tenant := range tenants {
			tctx := tenantcontext.WithTenantID(ctx, tenant.ID)
			outcome, err := s.subs.ExpireTrial(tctx, tenant.ID)
			if err != nil {
				s.logEntityError(tctx, run, "trial sweep failed", tenant.ID, err)
				errs = errors.Join(errs, err)
				continue
			}
			if outcome != subscriptiondomain.TrialSkipped {
				settled++
			}
		}
		run.AddProcessed(settled)
		s.schedMetrics.AddBatchProcessed(run.job, "tenants", settled)

		if len(tenants) < run.batchSize || settled == 0 {
			break
		}
	}
	return errs
}

// InvoiceGenerationJob bills the next period of every subscription whose
// current period has ended. Local subscriptions are rolled forward in the
// same transaction; remote ones move when the processor reports the renewal.
func (s *Scheduler) InvoiceGenerationJob(ctx context.Context, run *jobRun) error {
	var errs error
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		subs, err := s.subRepo.ListDueForRenewal(ctx, s.db, s.clock.Now(), run.batchSize)
		if err != nil {
			return errors.Join(errs, fmt.Errorf("list due subscriptions: %w", err))
		}

		billed := 0
		for _, sub := range subs {
			tctx := tenantcontext.WithTenantID(ctx, sub.TenantID)
			if err := s.billPeriod(tctx, sub); err != nil {
				s.logEntityError(tctx, run, "invoice generation failed", sub.TenantID, err,
					zap.String("subscription_id", sub.ID.String()),
				)
				errs = errors.Join(errs, err)
				continue
			}
			billed++
		}
		run.AddProcessed(billed)
		s.schedMetrics.AddBatchProcessed(run.job, "subscriptions", billed)

		if len(subs) < run.batchSize || billed == 0 {
			break
		}
	}
	return errs
}

func (s *Scheduler) billPeriod(ctx context.Context, sub subscriptiondomain.Subscription) error {
	var (
		invoice invoicedomain.Invoice
		created bool
		ended   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.plans.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return subscriptiondomain.ErrPlanNotBillable
		}

		start := sub.CurrentPeriodEnd
		end := plan.PeriodEnd(start)
		if !sub.HasRemote() {
			renewed, err := s.subs.RenewPeriodTx(ctx, tx, sub)
			if err != nil {
				return err
			}
			if renewed.Ended {
				ended = true
				return nil
			}
			start = renewed.Subscription.CurrentPeriodStart
			end = renewed.Subscription.CurrentPeriodEnd
		}

		invoice, created, err = s.invoices.CreateDraftForPeriodTx(ctx, tx, invoicedomain.DraftRequest{
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID,
			Currency:       plan.Currency,
			Lines:          []invoicedomain.LineItem{planLine(*plan)},
			PeriodStart:    start,
			PeriodEnd:      end,
		})
		return err
	})
	if err != nil {
		return err
	}

	if ended {
		s.notifier.Notify(ctx, notificationdomain.SubscriptionCanceled(sub.TenantID, sub.ID))
		return nil
	}
	if created {
		s.metrics.AddInvoicesGenerated(1)
		s.notifier.Notify(ctx, notificationdomain.InvoiceJob(notificationdomain.KindInvoiceGenerated, sub.TenantID, invoice.ID))
	}
	return nil
}

func planLine(plan plandomain.Plan) invoicedomain.LineItem {
	return invoicedomain.LineItem{
		Description: fmt.Sprintf("%s (%s)", plan.Name, plan.Interval),
		Amount:      plan.Price,
		Quantity:    1,
	}
}

// UsageAggregationJob rebuilds per-tenant usage summaries over the policy window.
func (s *Scheduler) UsageAggregationJob(ctx context.Context, run *jobRun) error {
	result, err := s.usage.Aggregate(ctx, s.policy.Get().UsageWindow)
	if err != nil {
		return fmt.Errorf("aggregate usage: %w", err)
	}
	run.AddProcessed(int(result.Summaries))
	s.schedMetrics.AddBatchProcessed(run.job, "usage_summaries", int(result.Summaries))
	return nil
}

// PastDueResyncJob re-reads PAST_DUE subscriptions from the processor in case a
// webhook was missed.
func (s *Scheduler) PastDueResyncJob(ctx context.Context, run *jobRun) error {
	subs, err := s.subRepo.ListByStatus(ctx, s.db, subscriptiondomain.SubscriptionStatusPastDue, run.batchSize)
	if err != nil {
		return fmt.Errorf("list past due subscriptions: %w", err)
	}

	var errs error
	synced := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}
		if !sub.HasRemote() {
			continue
		}
		tctx := tenantcontext.WithTenantID(ctx, sub.TenantID)
		result, err := s.subs.ResyncFromGateway(tctx, sub)
		if err != nil {
			s.logEntityError(tctx, run, "past due resync failed", sub.TenantID, err,
				zap.String("subscription_id", sub.ID.String()),
			)
			errs = errors.Join(errs, err)
			continue
		}
		if result.Outcome == subscriptiondomain.OutcomeApplied {
			synced++
		}
	}
	run.AddProcessed(synced)
	s.schedMetrics.AddBatchProcessed(run.job, "subscriptions", synced)
	return errs
}

// TrialEndingWarningJob warns each trialing tenant once, TrialWarningDays before
// the trial ends.
func (s *Scheduler) TrialEndingWarningJob(ctx context.Context, run *jobRun) error {
	days := s.policy.Get().TrialWarningDays
	if days <= 0 {
		return nil
	}
	now := s.clock.Now()
	tenants, err := s.tenants.ListTrialsEndingBefore(ctx, s.db, now, now.AddDate(0, 0, days), run.batchSize)
	if err != nil {
		return fmt.Errorf("list ending trials: %w", err)
	}

	var errs error
	warned := 0
	for _, tenant := range tenants {
		tctx := tenantcontext.WithTenantID(ctx, tenant.ID)
		if err := s.tenants.MarkTrialWarningSent(tctx, s.db, tenant.ID, now); err != nil {
			s.logEntityError(tctx, run, "trial warning failed", tenant.ID, err)
			errs = errors.Join(errs, err)
			continue
		}
		s.notifier.Notify(tctx, notificationdomain.TrialEndingSoon(tenant.ID))
		warned++
	}
	run.AddProcessed(warned)
	s.schedMetrics.AddBatchProcessed(run.job, "tenants", warned)
	return errs
}

// PaymentReminderJob nudges tenants with overdue invoices, at most once per
// reminder interval per invoice.
func (s *Scheduler) PaymentReminderJob(ctx context.Context, run *jobRun) error {
	invoices, err := s.invoices.ListDueForReminder(ctx, run.batchSize)
	if err != nil {
		return fmt.Errorf("list overdue invoices: %w", err)
	}

	var errs error
	reminded := 0
	for _, inv := range invoices {
		tctx := tenantcontext.WithTenantID(ctx, inv.TenantID)
		if err := s.invoices.MarkReminderSent(tctx, inv.ID); err != nil {
			s.logEntityError(tctx, run, "payment reminder failed", inv.TenantID, err,
				zap.String("invoice_id", inv.ID.String()),
			)
			errs = errors.Join(errs, err)
			continue
		}
		s.notifier.Notify(tctx, notificationdomain.InvoiceJob(notificationdomain.KindPaymentReminder, inv.TenantID, inv.ID))
		reminded++
	}
	run.AddProcessed(reminded)
	s.schedMetrics.AddBatchProcessed(run.job, "invoices", reminded)
	return errs
}
