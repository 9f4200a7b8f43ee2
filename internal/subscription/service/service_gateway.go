package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ApplyGatewayReportTx runs on the caller's transaction and never calls the
// processor, so it is safe inside webhook handling. It does not notify; callers
// do that after commit based on the result.
func (s *Service) ApplyGatewayReportTx(
	ctx context.Context,
	tx *gorm.DB,
	remote gatewaydomain.Subscription,
	reportedAt time.Time,
	source subscriptiondomain.Source,
) (subscriptiondomain.ApplyResult, error) {
	if remote.ID == "" {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidEvent
	}
	status, err := subscriptiondomain.ParseStatus(remote.Status)
	if err != nil {
		s.log.Warn("ignoring unsupported gateway subscription status",
			zap.String("external_ref", remote.ID),
			zap.String("status", remote.Status),
		)
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored}, nil
	}

	current, err := s.repo.FindByExternalRefForUpdate(ctx, tx, remote.ID)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	if current == nil {
		return s.insertFromGateway(ctx, tx, remote, status, reportedAt, source)
	}

	event := subscriptiondomain.GatewayStatusReport{
		Status:            status,
		PeriodStart:       utcPtr(remote.CurrentPeriodStart),
		PeriodEnd:         utcPtr(remote.CurrentPeriodEnd),
		TrialStart:        utcPtr(remote.TrialStart),
		TrialEnd:          utcPtr(remote.TrialEnd),
		CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
		CanceledAt:        utcPtr(remote.CanceledAt),
		EndedAt:           utcPtr(remote.EndedAt),
		ReportedAt:        reportedAt.UTC(),
	}
	next, err := subscriptiondomain.Transition(*current, event, s.clock.Now())
	if errors.Is(err, subscriptiondomain.ErrStaleEvent) {
		s.log.Info("stale gateway report",
			zap.String("subscription_id", current.ID.String()),
			zap.String("stored_status", string(current.Status)),
			zap.String("reported_status", string(status)),
		)
		return subscriptiondomain.ApplyResult{
			Outcome:      subscriptiondomain.OutcomeStale,
			Previous:     current.Status,
			Subscription: current,
		}, nil
	}
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if remote.PriceID != "" {
		plan, err := s.plans.FindByExternalPriceRef(ctx, tx, remote.PriceID)
		if err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
		if plan != nil && plan.ID != next.PlanID {
			next.PlanID = plan.ID
			next.UpdatedAt = s.clock.Now()
		}
	}

	if next.SameState(*current) {
		return subscriptiondomain.ApplyResult{
			Outcome:      subscriptiondomain.OutcomeDuplicate,
			Previous:     current.Status,
			Subscription: current,
		}, nil
	}

	if next.Status.Live() && !current.Status.Live() {
		if err := s.ensureNoOtherLive(ctx, tx, next); err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
	}
	if err := s.repo.Update(ctx, tx, &next); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrActiveSubscriptionExists
		}
		return subscriptiondomain.ApplyResult{}, err
	}

	s.recordTransition(ctx, tx, *current, next, source, subscriptiondomain.EventGatewayStatusReport)
	return subscriptiondomain.ApplyResult{
		Outcome:      subscriptiondomain.OutcomeApplied,
		Previous:     current.Status,
		Subscription: &next,
	}, nil
}

func (s *Service) insertFromGateway(
	ctx context.Context,
	tx *gorm.DB,
	remote gatewaydomain.Subscription,
	status subscriptiondomain.SubscriptionStatus,
	reportedAt time.Time,
	source subscriptiondomain.Source,
) (subscriptiondomain.ApplyResult, error) {
	ignored := subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored}
	if remote.CustomerID == "" || remote.PriceID == "" {
		s.log.Warn("gateway subscription missing customer or price",
			zap.String("external_ref", remote.ID),
		)
		return ignored, nil
	}
	tenant, err := s.tenants.FindByExternalCustomerRef(ctx, tx, remote.CustomerID)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	if tenant == nil {
		s.log.Warn("gateway subscription for unknown customer",
			zap.String("external_ref", remote.ID),
			zap.String("customer_ref", remote.CustomerID),
		)
		return ignored, nil
	}
	plan, err := s.plans.FindByExternalPriceRef(ctx, tx, remote.PriceID)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	if plan == nil {
		s.log.Warn("gateway subscription for unknown price",
			zap.String("external_ref", remote.ID),
			zap.String("price_ref", remote.PriceID),
		)
		return ignored, nil
	}

	if _, err := s.tenants.FindByIDForUpdate(ctx, tx, tenant.ID); err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	now := s.clock.Now()
	ref := remote.ID
	reported := reportedAt.UTC()
	sub := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           tenant.ID,
		PlanID:             plan.ID,
		Status:             status,
		ExternalRef:        &ref,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.PeriodEnd(now),
		TrialStart:         utcPtr(remote.TrialStart),
		TrialEnd:           utcPtr(remote.TrialEnd),
		GatewayEventAt:     &reported,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if remote.CurrentPeriodStart != nil && remote.CurrentPeriodEnd != nil && remote.CurrentPeriodStart.Before(*remote.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = remote.CurrentPeriodStart.UTC()
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd.UTC()
	}
	if status.Terminal() {
		sub.CanceledAt = firstNonNil(utcPtr(remote.CanceledAt), &now)
		sub.EndedAt = firstNonNil(utcPtr(remote.EndedAt), &now)
	} else if remote.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = firstNonNil(utcPtr(remote.CanceledAt), &now)
	}
	if err := sub.Validate(); err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if sub.Status.Live() {
		if err := s.ensureNoOtherLive(ctx, tx, sub); err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
	}
	if err := s.repo.Insert(ctx, tx, &sub); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrActiveSubscriptionExists
		}
		return subscriptiondomain.ApplyResult{}, err
	}

	s.log.Info("subscription recorded from gateway",
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("external_ref", ref),
		zap.String("status", string(sub.Status)),
	)
	s.metrics.RecordStatusTransition("", string(sub.Status), string(source))
	s.audit(ctx, tx, sub, auditSubscriptionCreated, source, nil)
	return subscriptiondomain.ApplyResult{
		Outcome:      subscriptiondomain.OutcomeApplied,
		Subscription: &sub,
	}, nil
}

func (s *Service) ensureNoOtherLive(ctx context.Context, tx *gorm.DB, sub subscriptiondomain.Subscription) error {
	live, err := s.repo.FindLiveByTenant(ctx, tx, sub.TenantID)
	if err != nil {
		return err
	}
	if live != nil && live.ID != sub.ID {
		return subscriptiondomain.ErrActiveSubscriptionExists
	}
	return nil
}

func (s *Service) ResyncFromGateway(ctx context.Context, sub subscriptiondomain.Subscription) (subscriptiondomain.ApplyResult, error) {
	if !sub.HasRemote() {
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored, Subscription: &sub}, nil
	}
	client, ok := s.gateways.Default()
	if !ok {
		return subscriptiondomain.ApplyResult{}, ErrGatewayUnavailable
	}
	remote, err := client.RetrieveSubscription(ctx, *sub.ExternalRef)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	var result subscriptiondomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ApplyGatewayReportTx(ctx, tx, remote, s.clock.Now(), subscriptiondomain.SourceScheduler)
		return err
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	s.NotifyApplied(ctx, result)
	return result, nil
}

// NotifyApplied emits the notifications owed for a committed gateway report.
func (s *Service) NotifyApplied(ctx context.Context, result subscriptiondomain.ApplyResult) {
	if result.BecameCanceled() {
		s.notifier.Notify(ctx, notificationdomain.SubscriptionCanceled(result.Subscription.TenantID, result.Subscription.ID))
	}
}

// ExpireTrial converts a tenant whose trial has ended when its subscription is
// paid for and deactivates it otherwise. Remote subscriptions are refreshed
// from the processor first; local ones convert only when the plan is free.
func (s *Service) ExpireTrial(ctx context.Context, tenantID snowflake.ID) (subscriptiondomain.TrialOutcome, error) {
	live, err := s.repo.FindLiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.TrialSkipped, err
	}

	if live != nil && live.Status == subscriptiondomain.SubscriptionStatusTrialing {
		if live.HasRemote() {
			if _, err := s.ResyncFromGateway(ctx, *live); err != nil {
				return subscriptiondomain.TrialSkipped, err
			}
		} else if err := s.expireLocalTrial(ctx, *live); err != nil {
			return subscriptiondomain.TrialSkipped, err
		}
	}

	outcome := subscriptiondomain.TrialSkipped
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenants.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil || !tenant.IsActive || !tenant.TrialExpired(s.clock.Now()) {
			return nil
		}
		current, err := s.repo.FindLiveByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current != nil && current.Status == subscriptiondomain.SubscriptionStatusActive {
			outcome = subscriptiondomain.TrialConverted
			return s.tenants.MarkTrialConverted(ctx, tx, tenantID, s.clock.Now())
		}
		outcome = subscriptiondomain.TrialDeactivated
		return s.tenants.Deactivate(ctx, tx, tenantID, s.clock.Now())
	})
	if err != nil {
		return subscriptiondomain.TrialSkipped, err
	}
	if outcome != subscriptiondomain.TrialSkipped {
		s.log.Info("trial settled",
			zap.String("tenant_id", tenantID.String()),
			zap.String("outcome", string(outcome)),
		)
	}
	return outcome, nil
}

func (s *Service) expireLocalTrial(ctx context.Context, live subscriptiondomain.Subscription) error {
	plan, err := s.plans.FindByID(ctx, s.db, live.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	var before, after subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, live.TenantID, live.ID)
		if err != nil || locked == nil {
			return err
		}
		next, err := subscriptiondomain.Transition(*locked, subscriptiondomain.TrialExpired{
			HasPaymentMethod: plan.Price == 0,
			NextPeriodEnd:    plan.PeriodEnd(locked.CurrentPeriodEnd),
		}, s.clock.Now())
		if errors.Is(err, subscriptiondomain.ErrPaymentMethodRequired) || errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		before, after = *locked, next
		return s.repo.Update(ctx, tx, &next)
	})
	if err != nil {
		return err
	}
	if after.ID != 0 {
		s.afterTransition(ctx, before, after, subscriptiondomain.SourceScheduler, subscriptiondomain.EventTrialExpired)
	}
	return nil
}

// RenewPeriodTx advances a local subscription past its period end, or ends it
// when a cancellation was scheduled. Remote subscriptions are renewed by the
// processor and reach us as gateway reports.
func (s *Service) RenewPeriodTx(ctx context.Context, tx *gorm.DB, sub subscriptiondomain.Subscription) (subscriptiondomain.RenewResult, error) {
	if sub.HasRemote() {
		return subscriptiondomain.RenewResult{Subscription: sub}, nil
	}
	locked, err := s.repo.FindByIDForUpdate(ctx, tx, sub.TenantID, sub.ID)
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}
	if locked == nil {
		return subscriptiondomain.RenewResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	plan, err := s.plans.FindByID(ctx, tx, locked.PlanID)
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}
	if plan == nil {
		return subscriptiondomain.RenewResult{}, subscriptiondomain.ErrPlanNotBillable
	}

	next, err := subscriptiondomain.Transition(*locked, subscriptiondomain.PeriodRenewed{
		NextPeriodEnd: plan.PeriodEnd(locked.CurrentPeriodEnd),
	}, s.clock.Now())
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}
	if err := s.repo.Update(ctx, tx, &next); err != nil {
		return subscriptiondomain.RenewResult{}, err
	}

	ended := next.Status == subscriptiondomain.SubscriptionStatusCanceled
	s.log.Debug("subscription period renewed",
		zap.String("subscription_id", next.ID.String()),
		zap.Time("period_end", next.CurrentPeriodEnd),
		zap.Bool("ended", ended),
	)
	if ended {
		s.metrics.RecordStatusTransition(string(locked.Status), string(next.Status), string(subscriptiondomain.SourceScheduler))
	}
	s.audit(ctx, tx, next, auditSubscriptionPrefix+string(subscriptiondomain.EventPeriodRenewed), subscriptiondomain.SourceScheduler, map[string]any{
		"from":  string(locked.Status),
		"to":    string(next.Status),
		"ended": ended,
	})
	return subscriptiondomain.RenewResult{Subscription: next, Ended: ended}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func firstNonNil(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
