package onboarding

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/onboarding/domain"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	seedInvoiceDueDays  = 14
	seedInvoicePaidDays = 1
)

type noopProvisioner struct{}

func NewNoopProvisioner() domain.Provisioner {
	return &noopProvisioner{}
}

func (p *noopProvisioner) Provision(context.Context, *gorm.DB, tenantdomain.Tenant) (domain.Provisioned, error) {
	return domain.Provisioned{}, nil
}

// HistoryProvisioner gives a new tenant a local subscription on the seed plan
// and a run of paid invoices for the preceding months. Nothing reaches the
// payment processor.
type HistoryProvisioner struct {
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.BillingPolicyHolder
	plans    plandomain.Repository
	subs     subscriptiondomain.Service
	invoices invoicedomain.Service
}

func NewHistoryProvisioner(
	genID *snowflake.Node,
	clk clock.Clock,
	policy *config.BillingPolicyHolder,
	plans plandomain.Repository,
	subs subscriptiondomain.Service,
	invoices invoicedomain.Service,
) *HistoryProvisioner {
	return &HistoryProvisioner{
		genID:    genID,
		clock:    clk,
		policy:   policy,
		plans:    plans,
		subs:     subs,
		invoices: invoices,
	}
}

func (p *HistoryProvisioner) Provision(ctx context.Context, tx *gorm.DB, tenant tenantdomain.Tenant) (domain.Provisioned, error) {
	onboarding := p.policy.Get().Onboarding
	plan, err := p.seedPlan(ctx, tx, onboarding.SeedPlanCode)
	if err != nil {
		return domain.Provisioned{}, err
	}

	now := p.clock.Now()
	req := subscriptiondomain.LocalSubscriptionRequest{
		TenantID:    tenant.ID,
		PlanID:      plan.ID,
		Status:      subscriptiondomain.SubscriptionStatusActive,
		PeriodStart: now,
		PeriodEnd:   plan.PeriodEnd(now),
	}
	if tenant.IsTrial && tenant.TrialEndsAt != nil && tenant.TrialEndsAt.After(now) {
		trialStart, trialEnd := now, *tenant.TrialEndsAt
		req.Status = subscriptiondomain.SubscriptionStatusTrialing
		req.PeriodEnd = trialEnd
		req.TrialStart = &trialStart
		req.TrialEnd = &trialEnd
	}
	sub, err := p.subs.CreateLocalTx(ctx, tx, req)
	if err != nil {
		return domain.Provisioned{}, err
	}

	line := invoicedomain.LineItem{
		Description: fmt.Sprintf("%s Plan - %s subscription", plan.Name, intervalLabel(plan.Interval)),
		Amount:      plan.Price,
		Quantity:    1,
	}
	invoices := make([]invoicedomain.Invoice, 0, onboarding.SeedInvoiceMonths)
	for i := 1; i <= onboarding.SeedInvoiceMonths; i++ {
		issued := now.AddDate(0, -i, 0)
		periodEnd := plan.PeriodEnd(issued)
		due := issued.AddDate(0, 0, seedInvoiceDueDays)
		paid := issued.AddDate(0, 0, seedInvoicePaidDays)
		subID := sub.ID

		inv, err := p.invoices.CreateTx(ctx, tx, invoicedomain.NewInvoice{
			TenantID:       tenant.ID,
			SubscriptionID: &subID,
			Status:         invoicedomain.InvoiceStatusPaid,
			Currency:       plan.Currency,
			Subtotal:       plan.Price,
			AmountPaid:     plan.Price,
			Lines:          []invoicedomain.LineItem{line},
			PeriodStart:    &issued,
			PeriodEnd:      &periodEnd,
			InvoiceDate:    issued,
			DueDate:        &due,
			PaidAt:         &paid,
		})
		if err != nil {
			return domain.Provisioned{}, fmt.Errorf("seed invoice %d: %w", i, err)
		}
		invoices = append(invoices, inv)
	}

	return domain.Provisioned{Subscription: &sub, Invoices: invoices}, nil
}

// seedPlan loads the configured plan, creating the default Pro plan when it is missing.
func (p *HistoryProvisioner) seedPlan(ctx context.Context, tx *gorm.DB, code string) (plandomain.Plan, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		code = "pro"
	}
	existing, err := p.plans.FindByCode(ctx, tx, code)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := p.clock.Now()
	plan := plandomain.Plan{
		ID:           p.genID.Generate(),
		Code:         code,
		Name:         "Pro",
		Description:  "Professional plan for growing businesses",
		Price:        2900,
		Currency:     p.policy.Get().DefaultCurrency,
		Interval:     plandomain.IntervalMonthly,
		TrialDays:    14,
		MaxUsers:     25,
		MaxAPICalls:  10000,
		MaxStorageGB: 50,
		Features:     datatypes.JSON(`["priority_support","analytics"]`),
		IsActive:     true,
		IsPublic:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.plans.Insert(ctx, tx, &plan); err != nil {
		return plandomain.Plan{}, err
	}
	return plan, nil
}

func intervalLabel(interval plandomain.Interval) string {
	if interval == plandomain.IntervalYearly {
		return "Yearly"
	}
	return "Monthly"
}
