package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrGatewayUnavailable is returned when a subscription is mirrored remotely
// but no processor client is configured to mutate it.
var ErrGatewayUnavailable = errkind.RemoteGateway("gateway_unavailable", errors.New("no payment processor configured"))

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     subscriptiondomain.Repository
	Tenants  tenantdomain.Repository
	Plans    plandomain.Repository
	PlanSvc  plandomain.Service
	Gateways *gateway.Registry
	Notifier notificationdomain.Notifier
	Policy   *config.BillingPolicyHolder
	Metrics  *metrics.Metrics    `optional:"true"`
	Audit    auditdomain.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     subscriptiondomain.Repository
	tenants  tenantdomain.Repository
	plans    plandomain.Repository
	plansvc  plandomain.Service
	gateways *gateway.Registry
	notifier notificationdomain.Notifier
	policy   *config.BillingPolicyHolder
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		tenants:  p.Tenants,
		plans:    p.Plans,
		plansvc:  p.PlanSvc,
		gateways: p.Gateways,
		notifier: p.Notifier,
		policy:   p.Policy,
		metrics:  p.Metrics,
		auditSvc: p.Audit,
	}
}

// Create rejects a second live subscription before any remote call, creates the
// remote subscription when the plan is billable at the processor, and commits
// locally in a short transaction. A conflict discovered at commit time cancels
// the remote subscription again.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	plan, err := s.plansvc.Resolve(ctx, req.Plan)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, req.TenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if tenant == nil || !tenant.IsActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	live, err := s.repo.FindLiveByTenant(ctx, s.db, tenant.ID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if live != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrActiveSubscriptionExists
	}

	id := s.genID.Generate()
	var remote *gatewaydomain.Subscription
	client, remoteEnabled := s.gateways.Default()
	if remoteEnabled && plan.ExternalPriceRef != nil && *plan.ExternalPriceRef != "" {
		customerRef, err := s.ensureCustomer(ctx, client, tenant)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		created, err := client.CreateSubscription(ctx, gatewaydomain.CreateSubscriptionInput{
			CustomerID:      customerRef,
			PriceID:         *plan.ExternalPriceRef,
			TrialDays:       plan.TrialDays,
			PaymentMethodID: req.PaymentMethodID,
			TenantID:        tenant.ID.String(),
			IdempotencyKey:  "subscription-" + id.String(),
		})
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		remote = &created
	}

	now := s.clock.Now()
	sub := s.initialSubscription(id, tenant.ID, plan, remote, req.PaymentMethodID != "", now)
	if err := sub.Validate(); err != nil {
		s.compensate(ctx, client, remote)
		return subscriptiondomain.Subscription{}, err
	}

	err = s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if _, err := s.tenants.FindByIDForUpdate(ctx, tx, tenant.ID); err != nil {
			return err
		}
		if remote != nil {
			existing, err := s.repo.FindByExternalRefForUpdate(ctx, tx, remote.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				// The processor's webhook already recorded it.
				sub = *existing
				return nil
			}
		}

		live, err := s.repo.FindLiveByTenant(ctx, tx, tenant.ID)
		if err != nil {
			return err
		}
		if live != nil {
			return subscriptiondomain.ErrActiveSubscriptionExists
		}
		if err := s.repo.Insert(ctx, tx, &sub); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrActiveSubscriptionExists
			}
			return err
		}
		s.audit(ctx, tx, sub, auditSubscriptionCreated, subscriptiondomain.SourceUser, nil)
		return nil
	})
	if err != nil {
		s.compensate(ctx, client, remote)
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", string(sub.Status)),
		zap.Bool("remote", remote != nil),
	)
	s.metrics.RecordStatusTransition("", string(sub.Status), string(subscriptiondomain.SourceUser))
	s.notifier.Notify(ctx, notificationdomain.SubscriptionCreated(tenant.ID, sub.ID))
	return sub, nil
}

func (s *Service) initialSubscription(
	id snowflake.ID,
	tenantID snowflake.ID,
	plan plandomain.Plan,
	remote *gatewaydomain.Subscription,
	hasPaymentMethod bool,
	now time.Time,
) subscriptiondomain.Subscription {
	status := s.initialStatus(plan, remote, hasPaymentMethod)

	sub := subscriptiondomain.Subscription{
		ID:                 id,
		TenantID:           tenantID,
		PlanID:             plan.ID,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.PeriodEnd(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if status == subscriptiondomain.SubscriptionStatusTrialing {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}

	if remote == nil {
		return sub
	}
	ref := remote.ID
	sub.ExternalRef = &ref
	if remote.CurrentPeriodStart != nil && remote.CurrentPeriodEnd != nil && remote.CurrentPeriodStart.Before(*remote.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = remote.CurrentPeriodStart.UTC()
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd.UTC()
	}
	if remote.TrialStart != nil {
		sub.TrialStart = remote.TrialStart
	}
	if remote.TrialEnd != nil {
		sub.TrialEnd = remote.TrialEnd
	}
	return sub
}

func (s *Service) initialStatus(plan plandomain.Plan, remote *gatewaydomain.Subscription, hasPaymentMethod bool) subscriptiondomain.SubscriptionStatus {
	fallback := subscriptiondomain.SubscriptionStatusActive
	if plan.HasTrial() {
		fallback = subscriptiondomain.SubscriptionStatusTrialing
	}

	switch s.policy.Get().InitialStatusPolicy {
	case config.InitialStatusIncompleteWithoutPaymentMethod:
		if fallback == subscriptiondomain.SubscriptionStatusActive && !hasPaymentMethod && plan.Price > 0 {
			return subscriptiondomain.SubscriptionStatusIncomplete
		}
	case config.InitialStatusGatewayReported:
		if remote != nil {
			if status, err := subscriptiondomain.ParseStatus(remote.Status); err == nil {
				return status
			}
		}
	}
	return fallback
}

func (s *Service) ensureCustomer(ctx context.Context, client gatewaydomain.Client, tenant *tenantdomain.Tenant) (string, error) {
	if tenant.ExternalCustomerRef != nil && *tenant.ExternalCustomerRef != "" {
		return *tenant.ExternalCustomerRef, nil
	}
	customer, err := client.CreateCustomer(ctx, gatewaydomain.CreateCustomerInput{
		TenantID: tenant.ID.String(),
		Name:     tenant.Name,
		Email:    tenant.Email,
	})
	if err != nil {
		return "", err
	}
	if err := s.tenants.SetExternalCustomerRef(context.WithoutCancel(ctx), s.db, tenant.ID, customer.ID, s.clock.Now()); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// compensate cancels a remote subscription whose local insert failed.
func (s *Service) compensate(ctx context.Context, client gatewaydomain.Client, remote *gatewaydomain.Subscription) {
	if client == nil || remote == nil {
		return
	}
	if _, err := client.CancelSubscription(context.WithoutCancel(ctx), remote.ID); err != nil {
		s.log.Error("failed to cancel orphaned remote subscription",
			zap.String("external_ref", remote.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) CreateLocalTx(ctx context.Context, tx *gorm.DB, req subscriptiondomain.LocalSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	now := s.clock.Now()
	sub := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           req.TenantID,
		PlanID:             req.PlanID,
		Status:             req.Status,
		CurrentPeriodStart: req.PeriodStart,
		CurrentPeriodEnd:   req.PeriodEnd,
		TrialStart:         req.TrialStart,
		TrialEnd:           req.TrialEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := sub.Validate(); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub.Status.Live() {
		live, err := s.repo.FindLiveByTenant(ctx, tx, req.TenantID)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		if live != nil {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrActiveSubscriptionExists
		}
	}
	if err := s.repo.Insert(ctx, tx, &sub); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrActiveSubscriptionExists
		}
		return subscriptiondomain.Subscription{}, err
	}
	s.audit(ctx, tx, sub, auditSubscriptionCreated, subscriptiondomain.SourceUser, nil)
	return sub, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidTenant
	}
	filter := subscriptiondomain.ListFilter{TenantID: req.TenantID, Limit: req.Limit()}
	if req.Status != "" {
		status, err := subscriptiondomain.ParseStatus(req.Status)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		filter.Status = status
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidSubscription.Wrap(err)
	}
	filter.Cursor = cursor

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	page, info, err := pagination.Page(items, req.Pagination, func(sub subscriptiondomain.Subscription) pagination.Cursor {
		return pagination.Cursor{ID: int64(sub.ID), CreatedAt: sub.CreatedAt}
	})
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	if page == nil {
		page = []subscriptiondomain.Subscription{}
	}
	return subscriptiondomain.ListSubscriptionResponse{PageInfo: info, Subscriptions: page}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) GetActive(ctx context.Context, tenantID snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindLiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) ChangePlan(ctx context.Context, req subscriptiondomain.ChangePlanRequest) (subscriptiondomain.Subscription, error) {
	plan, err := s.plansvc.Resolve(ctx, req.Plan)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	event := subscriptiondomain.UserChangePlan{PlanID: plan.ID}

	return s.userTransition(ctx, req.TenantID, req.ID, event, func(client gatewaydomain.Client, ref string) error {
		if plan.ExternalPriceRef == nil || *plan.ExternalPriceRef == "" {
			return subscriptiondomain.ErrPlanNotBillable
		}
		_, err := client.UpdateSubscription(ctx, ref, gatewaydomain.UpdateSubscriptionInput{PriceID: plan.ExternalPriceRef})
		return err
	})
}

// Cancel is all-or-nothing: when the processor call fails nothing is written.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	event := subscriptiondomain.UserCancel{Immediate: req.Immediate}

	return s.userTransition(ctx, req.TenantID, req.ID, event, func(client gatewaydomain.Client, ref string) error {
		if req.Immediate {
			_, err := client.CancelSubscription(ctx, ref)
			return err
		}
		_, err := client.UpdateSubscription(ctx, ref, gatewaydomain.UpdateSubscriptionInput{CancelAtPeriodEnd: boolPtr(true)})
		return err
	})
}

func (s *Service) Resume(ctx context.Context, tenantID, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	return s.userTransition(ctx, tenantID, id, subscriptiondomain.UserResume{}, func(client gatewaydomain.Client, ref string) error {
		_, err := client.UpdateSubscription(ctx, ref, gatewaydomain.UpdateSubscriptionInput{CancelAtPeriodEnd: boolPtr(false)})
		return err
	})
}

// userTransition validates event against the current row, performs the remote
// mutation, then re-applies event to the locked row in a short transaction.
func (s *Service) userTransition(
	ctx context.Context,
	tenantID, id snowflake.ID,
	event subscriptiondomain.Event,
	remoteCall func(client gatewaydomain.Client, ref string) error,
) (subscriptiondomain.Subscription, error) {
	if tenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now()
	next, err := subscriptiondomain.Transition(current, event, now)
	if err != nil {
		return current, err
	}
	if next.SameState(current) {
		return current, nil
	}

	if current.HasRemote() {
		client, ok := s.gateways.Default()
		if !ok {
			return current, ErrGatewayUnavailable
		}
		if err := remoteCall(client, *current.ExternalRef); err != nil {
			s.log.Warn("remote subscription update failed",
				zap.String("subscription_id", current.ID.String()),
				zap.String("event", string(event.Kind())),
				zap.Error(err),
			)
			return current, err
		}
	}

	var saved subscriptiondomain.Subscription
	settled := false
	err = s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if locked == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		updated, err := subscriptiondomain.Transition(*locked, event, now)
		if err != nil {
			// The processor's webhook for this very change committed while
			// the remote call was in flight.
			if locked.Status.Terminal() && locked.Status == next.Status {
				saved = *locked
				settled = true
				return nil
			}
			return err
		}
		saved = updated
		if updated.SameState(*locked) {
			return nil
		}
		return s.repo.Update(ctx, tx, &saved)
	})
	if err != nil {
		return current, err
	}
	if settled {
		return saved, nil
	}

	s.afterTransition(ctx, current, saved, subscriptiondomain.SourceUser, event.Kind())
	return saved, nil
}

// afterTransition records the change and emits notifications once committed.
func (s *Service) afterTransition(ctx context.Context, before, after subscriptiondomain.Subscription, source subscriptiondomain.Source, kind subscriptiondomain.EventKind) {
	if !s.recordTransition(ctx, s.db, before, after, source, kind) {
		return
	}
	if before.Status != after.Status && after.Status == subscriptiondomain.SubscriptionStatusCanceled {
		s.notifier.Notify(ctx, notificationdomain.SubscriptionCanceled(after.TenantID, after.ID))
	}
}

// recordTransition logs, counts and audits a change through tx.
func (s *Service) recordTransition(ctx context.Context, tx *gorm.DB, before, after subscriptiondomain.Subscription, source subscriptiondomain.Source, kind subscriptiondomain.EventKind) bool {
	if before.SameState(after) {
		return false
	}
	s.log.Info("subscription transitioned",
		zap.String("tenant_id", after.TenantID.String()),
		zap.String("subscription_id", after.ID.String()),
		zap.String("event", string(kind)),
		zap.String("source", string(source)),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
	)
	if before.Status != after.Status {
		s.metrics.RecordStatusTransition(string(before.Status), string(after.Status), string(source))
	}
	s.audit(ctx, tx, after, auditSubscriptionPrefix+string(kind), source, map[string]any{
		"from": string(before.Status),
		"to":   string(after.Status),
	})
	return true
}

func boolPtr(v bool) *bool { return &v }
