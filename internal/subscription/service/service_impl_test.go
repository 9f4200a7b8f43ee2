package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepository "github.com/smallbiznis/tenantbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/tenantbill/internal/audit/service"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	"github.com/smallbiznis/tenantbill/internal/gateway/gatewaytest"
	"github.com/smallbiznis/tenantbill/internal/notification"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	planrepository "github.com/smallbiznis/tenantbill/internal/plan/repository"
	planservice "github.com/smallbiznis/tenantbill/internal/plan/service"
	"github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"github.com/smallbiznis/tenantbill/internal/subscription/repository"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/tenantbill/internal/tenant/repository"
	"github.com/smallbiznis/tenantbill/internal/testutil"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	clock *clock.FakeClock
	fake  *gatewaytest.Fake
	notes *notification.Recorder
	genID *snowflake.Node
}

func newHarness(t *testing.T, remote bool) *harness {
	t.Helper()
	conn := testutil.OpenDB(t)
	genID := testutil.Node(t)
	clk := clock.NewFakeClock(start)
	plans := planrepository.Provide()

	h := &harness{clock: clk, notes: &notification.Recorder{}, genID: genID}
	registry := gateway.NewRegistry()
	if remote {
		h.fake = gatewaytest.NewFake()
		h.fake.Now = clk.Now
		registry = gateway.NewRegistry(h.fake)
	}

	h.svc = NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   genID,
		Clock:   clk,
		Repo:    repository.Provide(),
		Tenants: tenantrepository.Provide(),
		Plans:   plans,
		PlanSvc: planservice.New(planservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: genID,
			Clock: clk,
			Repo:  plans,
		}),
		Gateways: registry,
		Notifier: h.notes,
		Policy:   config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy()),
		Audit: auditservice.NewService(auditservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: genID,
			Clock: clk,
			Repo:  auditrepository.Provide(),
		}),
	}).(*Service)
	return h
}

func (h *harness) tenant(t *testing.T, slug string, trialDays int, customerRef string) tenantdomain.Tenant {
	t.Helper()
	now := h.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:        h.genID.Generate(),
		Name:      slug,
		Slug:      slug,
		Email:     slug + "@example.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if trialDays > 0 {
		trialEnd := now.AddDate(0, 0, trialDays)
		tenant.IsTrial = true
		tenant.TrialEndsAt = &trialEnd
	}
	if customerRef != "" {
		tenant.ExternalCustomerRef = &customerRef
	}
	if err := h.svc.tenants.Insert(context.Background(), h.svc.db, &tenant); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	return tenant
}

func (h *harness) plan(t *testing.T, code string, price int64, trialDays int, priceRef string) plandomain.Plan {
	t.Helper()
	now := h.clock.Now()
	plan := plandomain.Plan{
		ID:        h.genID.Generate(),
		Code:      code,
		Name:      code,
		Price:     price,
		Currency:  "usd",
		Interval:  plandomain.IntervalMonthly,
		TrialDays: trialDays,
		Features:  datatypes.JSON("[]"),
		IsActive:  true,
		IsPublic:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if priceRef != "" {
		plan.ExternalPriceRef = &priceRef
	}
	if err := h.svc.plans.Insert(context.Background(), h.svc.db, &plan); err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	return plan
}

func (h *harness) stored(t *testing.T, sub domain.Subscription) domain.Subscription {
	t.Helper()
	got, err := h.svc.Get(context.Background(), sub.TenantID, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return got
}

func (h *harness) apply(t *testing.T, remote gatewaydomain.Subscription, reportedAt time.Time) (domain.ApplyResult, error) {
	t.Helper()
	var result domain.ApplyResult
	err := h.svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = h.svc.ApplyGatewayReportTx(context.Background(), tx, remote, reportedAt, domain.SourceWebhook)
		return err
	})
	return result, err
}

func timePtr(t time.Time) *time.Time { return &t }

func paginationOf(size int, token string) pagination.Pagination {
	return pagination.Pagination{PageSize: size, PageToken: token}
}

func TestCreateLocalTrial(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 14, "")
	h.plan(t, "pro", 2900, 14, "")

	sub, err := h.svc.Create(context.Background(), domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != domain.SubscriptionStatusTrialing {
		t.Fatalf("expected TRIALING, got %s", sub.Status)
	}
	if sub.HasRemote() {
		t.Fatalf("expected local subscription, got ref %v", *sub.ExternalRef)
	}
	if sub.TrialEnd == nil || !sub.TrialEnd.Equal(start.AddDate(0, 0, 14)) {
		t.Fatalf("unexpected trial end %v", sub.TrialEnd)
	}
	if kinds := h.notes.Kinds(); len(kinds) != 1 || kinds[0] != notificationdomain.KindSubscriptionCreated {
		t.Fatalf("expected subscription_created notification, got %v", kinds)
	}
}

func TestCreateRemoteRecordsReferences(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")

	sub, err := h.svc.Create(context.Background(), domain.CreateSubscriptionRequest{
		TenantID:        tenant.ID,
		Plan:            "pro",
		PaymentMethodID: "pm_card",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != domain.SubscriptionStatusActive || !sub.HasRemote() {
		t.Fatalf("expected remote ACTIVE subscription, got %+v", sub)
	}

	stored, err := h.svc.tenants.FindByID(context.Background(), h.svc.db, tenant.ID)
	if err != nil {
		t.Fatalf("find tenant: %v", err)
	}
	if stored.ExternalCustomerRef == nil || *stored.ExternalCustomerRef == "" {
		t.Fatalf("expected customer reference to be stored")
	}
	if h.fake.Count("create_customer") != 1 || h.fake.Count("create_subscription") != 1 {
		t.Fatalf("unexpected gateway calls %v", h.fake.Calls)
	}
}

func TestCreateRejectsSecondLiveSubscriptionBeforeRemoteCall(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if !errors.Is(err, domain.ErrActiveSubscriptionExists) {
		t.Fatalf("expected active subscription conflict, got %v", err)
	}
	if got := h.fake.Count("create_subscription"); got != 1 {
		t.Fatalf("expected a single remote create, got %d", got)
	}
	testutil.AssertCount(t, h.svc.db, 1, "SELECT COUNT(*) FROM subscriptions WHERE tenant_id = ?", tenant.ID)
}

func TestCreateWithoutPaymentMethodIsIncompleteUnderPolicy(t *testing.T) {
	h := newHarness(t, false)
	policy := config.DefaultBillingPolicy()
	policy.InitialStatusPolicy = config.InitialStatusIncompleteWithoutPaymentMethod
	h.svc.policy = config.NewStaticBillingPolicyHolder(policy)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "")

	sub, err := h.svc.Create(context.Background(), domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != domain.SubscriptionStatusIncomplete {
		t.Fatalf("expected INCOMPLETE, got %s", sub.Status)
	}
}

func TestCreateRejectsInactiveTenant(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "")
	if err := h.svc.tenants.Deactivate(context.Background(), h.svc.db, tenant.ID, start); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := h.svc.Create(context.Background(), domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if !errors.Is(err, domain.ErrInvalidTenant) {
		t.Fatalf("expected invalid tenant, got %v", err)
	}
}

func TestImmediateCancelRemoteFailureWritesNothing(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.fake.FailOn("cancel_subscription", errors.New("503 service unavailable"))

	_, err = h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true})
	if !errkind.IsRemoteGateway(err) {
		t.Fatalf("expected remote gateway error, got %v", err)
	}

	stored := h.stored(t, sub)
	if stored.Status != domain.SubscriptionStatusActive || stored.CanceledAt != nil || stored.EndedAt != nil {
		t.Fatalf("expected untouched subscription, got %+v", stored)
	}
	for _, kind := range h.notes.Kinds() {
		if kind == notificationdomain.KindSubscriptionCanceled {
			t.Fatalf("unexpected cancel notification")
		}
	}
}

// cancelRacingWebhook applies the processor's deletion report before the
// cancel call returns, as a fast webhook delivery would.
type cancelRacingWebhook struct {
	*gatewaytest.Fake
	t *testing.T
	h *harness
}

func (c cancelRacingWebhook) CancelSubscription(ctx context.Context, id string) (gatewaydomain.Subscription, error) {
	remote, err := c.Fake.CancelSubscription(ctx, id)
	if err != nil {
		return remote, err
	}
	if _, err := c.h.apply(c.t, remote, c.h.clock.Now()); err != nil {
		c.t.Fatalf("apply deletion report: %v", err)
	}
	return remote, nil
}

func TestImmediateCancelAfterWebhookAlreadyCanceled(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.svc.gateways = gateway.NewRegistry(cancelRacingWebhook{Fake: h.fake, t: t, h: h})
	h.clock.Advance(time.Hour)
	before := len(h.notes.Kinds())

	canceled, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.SubscriptionStatusCanceled || canceled.EndedAt == nil {
		t.Fatalf("expected CANCELED, got %+v", canceled)
	}
	if stored := h.stored(t, sub); stored.Status != domain.SubscriptionStatusCanceled {
		t.Fatalf("expected stored CANCELED, got %s", stored.Status)
	}
	if got := len(h.notes.Kinds()) - before; got != 0 {
		t.Fatalf("expected no extra notification from the user path, got %d", got)
	}
}

func TestImmediateCancelWithoutGatewayForRemoteSubscription(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")

	result, err := h.apply(t, gatewaydomain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
		CurrentPeriodStart: timePtr(start), CurrentPeriodEnd: timePtr(start.AddDate(0, 1, 0)),
	}, start)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	_, err = h.svc.Cancel(context.Background(), domain.CancelRequest{TenantID: tenant.ID, ID: result.Subscription.ID, Immediate: true})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
}

func TestCancelAtPeriodEndThenResume(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	canceled, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.SubscriptionStatusActive || !canceled.CancelAtPeriodEnd || canceled.CanceledAt == nil {
		t.Fatalf("expected scheduled cancellation, got %+v", canceled)
	}

	again, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID})
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if !again.SameState(canceled) {
		t.Fatalf("expected repeat cancel to be a no-op")
	}
	if got := h.fake.Count("update_subscription"); got != 1 {
		t.Fatalf("expected one remote update, got %d", got)
	}

	resumed, err := h.svc.Resume(ctx, tenant.ID, sub.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.CancelAtPeriodEnd || resumed.CanceledAt != nil {
		t.Fatalf("expected resumed subscription, got %+v", resumed)
	}

	_, err = h.svc.Resume(ctx, tenant.ID, sub.ID)
	if !errors.Is(err, domain.ErrNotScheduled) {
		t.Fatalf("expected not scheduled, got %v", err)
	}
}

func TestImmediateCancelNotifies(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(time.Hour)
	canceled, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.SubscriptionStatusCanceled || canceled.EndedAt == nil {
		t.Fatalf("expected CANCELED, got %+v", canceled)
	}
	kinds := h.notes.Kinds()
	if kinds[len(kinds)-1] != notificationdomain.KindSubscriptionCanceled {
		t.Fatalf("expected cancel notification, got %v", kinds)
	}

	_, err = h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on canceled subscription, got %v", err)
	}

	// the tenant may subscribe again once nothing is live
	if _, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"}); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
}

func TestTransitionsAreAudited(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	testutil.AssertCount(t, h.svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE action = 'subscription.created' AND actor_type = 'user' AND target_id = ?`, sub.ID.String())
	testutil.AssertCount(t, h.svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE action = 'subscription.user_cancel' AND actor_type = 'user' AND tenant_id = ?`, tenant.ID)

	remote := gatewaydomain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
		CurrentPeriodStart: timePtr(start), CurrentPeriodEnd: timePtr(start.AddDate(0, 1, 0)),
	}
	if _, err := h.apply(t, remote, start); err != nil {
		t.Fatalf("apply: %v", err)
	}
	remote.CancelAtPeriodEnd = true
	if _, err := h.apply(t, remote, start.Add(time.Hour)); err != nil {
		t.Fatalf("apply scheduled cancel: %v", err)
	}
	testutil.AssertCount(t, h.svc.db, 2,
		`SELECT COUNT(*) FROM audit_logs WHERE actor_type = 'webhook' AND action IN ('subscription.created', 'subscription.gateway_status_report')`)

	// a rejected report leaves no audit row behind
	before := countAudit(t, h)
	_, err = h.apply(t, gatewaydomain.Subscription{
		ID: "sub_other", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
	}, start.Add(2*time.Hour))
	if !errors.Is(err, domain.ErrActiveSubscriptionExists) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := countAudit(t, h); got != before {
		t.Fatalf("expected %d audit rows, got %d", before, got)
	}
}

func countAudit(t *testing.T, h *harness) int64 {
	t.Helper()
	var n int64
	if err := h.svc.db.Raw(`SELECT COUNT(*) FROM audit_logs`).Scan(&n).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func TestChangePlan(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "price_pro")
	business := h.plan(t, "business", 9900, 0, "price_business")
	h.plan(t, "internal", 0, 0, "")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.svc.ChangePlan(ctx, domain.ChangePlanRequest{TenantID: tenant.ID, ID: sub.ID, Plan: "internal"})
	if !errors.Is(err, domain.ErrPlanNotBillable) {
		t.Fatalf("expected plan not billable, got %v", err)
	}
	_, err = h.svc.ChangePlan(ctx, domain.ChangePlanRequest{TenantID: tenant.ID, ID: sub.ID, Plan: "pro"})
	if !errors.Is(err, domain.ErrSamePlan) {
		t.Fatalf("expected same plan, got %v", err)
	}

	changed, err := h.svc.ChangePlan(ctx, domain.ChangePlanRequest{TenantID: tenant.ID, ID: sub.ID, Plan: "business"})
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if changed.PlanID != business.ID || h.stored(t, sub).PlanID != business.ID {
		t.Fatalf("expected plan %s, got %s", business.ID, changed.PlanID)
	}
}

func TestApplyGatewayReportInsertsUnknownSubscription(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "cus_1")
	plan := h.plan(t, "pro", 2900, 0, "price_pro")

	result, err := h.apply(t, gatewaydomain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_pro", Status: "trialing",
		CurrentPeriodStart: timePtr(start), CurrentPeriodEnd: timePtr(start.AddDate(0, 0, 14)),
		TrialStart: timePtr(start), TrialEnd: timePtr(start.AddDate(0, 0, 14)),
	}, start)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Created() {
		t.Fatalf("expected created outcome, got %+v", result)
	}
	if result.Subscription.TenantID != tenant.ID || result.Subscription.PlanID != plan.ID {
		t.Fatalf("unexpected owner %+v", result.Subscription)
	}
	if result.Subscription.Status != domain.SubscriptionStatusTrialing {
		t.Fatalf("expected TRIALING, got %s", result.Subscription.Status)
	}
}

func TestApplyGatewayReportIgnoresUnknownOwners(t *testing.T) {
	h := newHarness(t, false)
	h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")

	cases := []gatewaydomain.Subscription{
		{ID: "sub_1", CustomerID: "cus_missing", PriceID: "price_pro", Status: "active"},
		{ID: "sub_2", CustomerID: "cus_1", PriceID: "price_missing", Status: "active"},
		{ID: "sub_3", CustomerID: "cus_1", PriceID: "price_pro", Status: "paused"},
	}
	for _, remote := range cases {
		result, err := h.apply(t, remote, start)
		if err != nil {
			t.Fatalf("apply %s: %v", remote.ID, err)
		}
		if result.Outcome != domain.OutcomeIgnored {
			t.Fatalf("expected %s to be ignored, got %s", remote.ID, result.Outcome)
		}
	}
	testutil.AssertCount(t, h.svc.db, 0, "SELECT COUNT(*) FROM subscriptions")
}

func TestApplyGatewayReportDuplicateAndStale(t *testing.T) {
	h := newHarness(t, false)
	h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")

	active := gatewaydomain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
		CurrentPeriodStart: timePtr(start), CurrentPeriodEnd: timePtr(start.AddDate(0, 1, 0)),
	}
	if _, err := h.apply(t, active, start.Add(time.Minute)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	dup, err := h.apply(t, active, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if dup.Outcome != domain.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", dup.Outcome)
	}

	pastDue := active
	pastDue.Status = "past_due"
	stale, err := h.apply(t, pastDue, start)
	if err != nil {
		t.Fatalf("stale apply: %v", err)
	}
	if stale.Outcome != domain.OutcomeStale || stale.Subscription.Status != domain.SubscriptionStatusActive {
		t.Fatalf("expected stale outcome keeping ACTIVE, got %+v", stale)
	}

	newer, err := h.apply(t, pastDue, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("newer apply: %v", err)
	}
	if newer.Outcome != domain.OutcomeApplied || newer.Previous != domain.SubscriptionStatusActive ||
		newer.Subscription.Status != domain.SubscriptionStatusPastDue {
		t.Fatalf("expected PAST_DUE applied, got %+v", newer)
	}
}

func TestApplyGatewayReportRefusesSecondLiveSubscription(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")

	if _, err := h.svc.Create(context.Background(), domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := h.apply(t, gatewaydomain.Subscription{
		ID: "sub_other", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
	}, start)
	if !errors.Is(err, domain.ErrActiveSubscriptionExists) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGatewayCancellationNotifies(t *testing.T) {
	h := newHarness(t, false)
	h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")

	remote := gatewaydomain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
		CurrentPeriodStart: timePtr(start), CurrentPeriodEnd: timePtr(start.AddDate(0, 1, 0)),
	}
	if _, err := h.apply(t, remote, start); err != nil {
		t.Fatalf("apply: %v", err)
	}
	remote.Status = "canceled"
	remote.EndedAt = timePtr(start.Add(time.Hour))
	result, err := h.apply(t, remote, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("apply cancel: %v", err)
	}
	if !result.BecameCanceled() {
		t.Fatalf("expected transition into CANCELED, got %+v", result)
	}
	for _, kind := range h.notes.Kinds() {
		if kind == notificationdomain.KindSubscriptionCanceled {
			t.Fatalf("expected no notification before commit")
		}
	}

	h.svc.NotifyApplied(context.Background(), result)
	kinds := h.notes.Kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != notificationdomain.KindSubscriptionCanceled {
		t.Fatalf("expected cancel notification, got %v", kinds)
	}
}

func TestExpireTrialDeactivatesUnpaidTenant(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 14, "")
	h.plan(t, "pro", 2900, 14, "")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(15 * 24 * time.Hour)
	outcome, err := h.svc.ExpireTrial(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if outcome != domain.TrialDeactivated {
		t.Fatalf("expected deactivated, got %s", outcome)
	}
	stored, err := h.svc.tenants.FindByID(ctx, h.svc.db, tenant.ID)
	if err != nil {
		t.Fatalf("find tenant: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("expected tenant to be deactivated")
	}
	if got := h.stored(t, sub); got.Status != domain.SubscriptionStatusTrialing {
		t.Fatalf("expected subscription left TRIALING, got %s", got.Status)
	}

	again, err := h.svc.ExpireTrial(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if again != domain.TrialSkipped {
		t.Fatalf("expected second sweep to skip, got %s", again)
	}
}

func TestExpireTrialConvertsFreePlan(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 14, "")
	h.plan(t, "starter", 0, 14, "")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "starter"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(15 * 24 * time.Hour)

	outcome, err := h.svc.ExpireTrial(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if outcome != domain.TrialConverted {
		t.Fatalf("expected converted, got %s", outcome)
	}
	stored := h.stored(t, sub)
	if stored.Status != domain.SubscriptionStatusActive {
		t.Fatalf("expected ACTIVE, got %s", stored.Status)
	}
	if !stored.CurrentPeriodStart.Equal(start.AddDate(0, 0, 14)) {
		t.Fatalf("expected period to start at trial end, got %v", stored.CurrentPeriodStart)
	}
}

func TestExpireTrialConvertsRemoteActive(t *testing.T) {
	h := newHarness(t, true)
	tenant := h.tenant(t, "acme", 14, "")
	h.plan(t, "pro", 2900, 14, "price_pro")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro", PaymentMethodID: "pm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(15 * 24 * time.Hour)
	trialEnd := start.AddDate(0, 0, 14)
	h.fake.Put(gatewaydomain.Subscription{
		ID: *sub.ExternalRef, CustomerID: "cus_1", PriceID: "price_pro", Status: "active",
		CurrentPeriodStart: timePtr(trialEnd), CurrentPeriodEnd: timePtr(trialEnd.AddDate(0, 1, 0)),
		TrialStart: sub.TrialStart, TrialEnd: timePtr(trialEnd),
	})

	outcome, err := h.svc.ExpireTrial(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if outcome != domain.TrialConverted {
		t.Fatalf("expected converted, got %s", outcome)
	}
	if got := h.stored(t, sub); got.Status != domain.SubscriptionStatusActive {
		t.Fatalf("expected ACTIVE after resync, got %s", got.Status)
	}
}

func TestRenewPeriodTx(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "")
	ctx := context.Background()

	sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var renewed domain.RenewResult
	err = h.svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		renewed, err = h.svc.RenewPeriodTx(ctx, tx, sub)
		return err
	})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.Ended || !renewed.Subscription.CurrentPeriodStart.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("expected rollover to next period, got %+v", renewed)
	}

	if _, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID}); err != nil {
		t.Fatalf("schedule cancel: %v", err)
	}
	err = h.svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		renewed, err = h.svc.RenewPeriodTx(ctx, tx, sub)
		return err
	})
	if err != nil {
		t.Fatalf("renew scheduled: %v", err)
	}
	if !renewed.Ended || renewed.Subscription.Status != domain.SubscriptionStatusCanceled {
		t.Fatalf("expected scheduled cancellation to end the subscription, got %+v", renewed)
	}
}

func TestListPagesByCreation(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "")
	h.plan(t, "pro", 2900, 0, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sub, err := h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		h.clock.Advance(time.Minute)
		if _, err := h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: sub.ID, Immediate: true}); err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
		h.clock.Advance(time.Minute)
	}

	first, err := h.svc.List(ctx, domain.ListSubscriptionRequest{TenantID: tenant.ID, Pagination: paginationOf(2, "")})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Subscriptions) != 2 || !first.HasMore {
		t.Fatalf("expected first page of 2 with more, got %d", len(first.Subscriptions))
	}
	second, err := h.svc.List(ctx, domain.ListSubscriptionRequest{TenantID: tenant.ID, Pagination: paginationOf(2, first.NextPageToken)})
	if err != nil {
		t.Fatalf("list second: %v", err)
	}
	if len(second.Subscriptions) != 1 || second.HasMore {
		t.Fatalf("expected final page of 1, got %d", len(second.Subscriptions))
	}

	_, err = h.svc.List(ctx, domain.ListSubscriptionRequest{TenantID: tenant.ID, Status: "bogus"})
	if !errkind.IsValidation(err) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
}

// Random interleavings of user, gateway and scheduler inputs never leave a
// tenant with two live subscriptions.
func TestNoTenantEverHasTwoLiveSubscriptions(t *testing.T) {
	h := newHarness(t, false)
	tenant := h.tenant(t, "acme", 0, "cus_1")
	h.plan(t, "pro", 2900, 0, "price_pro")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	statuses := []string{"trialing", "active", "past_due", "unpaid", "canceled", "incomplete", "incomplete_expired"}

	for step := 0; step < 200; step++ {
		h.clock.Advance(time.Duration(rng.Intn(72)+1) * time.Hour)
		now := h.clock.Now()

		var err error
		switch rng.Intn(4) {
		case 0:
			_, err = h.svc.Create(ctx, domain.CreateSubscriptionRequest{TenantID: tenant.ID, Plan: "pro"})
		case 1:
			ref := "sub_" + string(rune('a'+rng.Intn(4)))
			_, err = h.apply(t, gatewaydomain.Subscription{
				ID: ref, CustomerID: "cus_1", PriceID: "price_pro",
				Status:             statuses[rng.Intn(len(statuses))],
				CurrentPeriodStart: timePtr(now), CurrentPeriodEnd: timePtr(now.AddDate(0, 1, 0)),
			}, now)
		case 2:
			live, findErr := h.svc.repo.FindLiveByTenant(ctx, h.svc.db, tenant.ID)
			if findErr != nil {
				t.Fatalf("find live: %v", findErr)
			}
			if live != nil && !live.HasRemote() {
				_, err = h.svc.Cancel(ctx, domain.CancelRequest{TenantID: tenant.ID, ID: live.ID, Immediate: rng.Intn(2) == 0})
			}
		case 3:
			_, err = h.svc.ExpireTrial(ctx, tenant.ID)
		}
		if err != nil && !errkind.IsConflict(err) && !errkind.IsValidation(err) {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}

		testutil.AssertCountAtMost(t, h.svc.db, 1,
			"SELECT COUNT(*) FROM subscriptions WHERE tenant_id = ? AND status IN ('ACTIVE', 'TRIALING')", tenant.ID)
	}
}
