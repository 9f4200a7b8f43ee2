// Package onboarding registers new tenants.
package onboarding

import (
	"context"
	"strings"

	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/onboarding/domain"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Policy  *config.BillingPolicyHolder
	Tenants tenantdomain.Service
	Plans   plandomain.Repository
	History *HistoryProvisioner
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	policy  *config.BillingPolicyHolder
	tenants tenantdomain.Service
	plans   plandomain.Repository
	history domain.Provisioner
	noop    domain.Provisioner
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("onboarding"),
		policy:  p.Policy,
		tenants: p.Tenants,
		plans:   p.Plans,
		history: p.History,
		noop:    NewNoopProvisioner(),
	}
}

func (s *service) Register(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, domain.ErrInvalidRequest
	}
	policy := s.policy.Get()

	trialDays, err := s.trialDays(ctx, req, policy.Onboarding)
	if err != nil {
		return nil, err
	}

	provisioner := s.noop
	if policy.Onboarding.SeedHistory && s.history != nil {
		provisioner = s.history
	}

	var result domain.Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenants.CreateTx(ctx, tx, tenantdomain.CreateTenantRequest{
			Name:      req.Name,
			Email:     req.Email,
			TrialDays: trialDays,
		})
		if err != nil {
			return err
		}
		provisioned, err := provisioner.Provision(ctx, tx, tenant)
		if err != nil {
			return err
		}
		result = domain.Result{
			Tenant:       tenant,
			Subscription: provisioned.Subscription,
			Invoices:     provisioned.Invoices,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant onboarded",
		zap.String("tenant_id", result.Tenant.ID.String()),
		zap.String("slug", result.Tenant.Slug),
		zap.Int("trial_days", trialDays),
		zap.Int("seeded_invoices", len(result.Invoices)),
	)
	return &result, nil
}

// trialDays follows the seed plan when the request does not set one.
func (s *service) trialDays(ctx context.Context, req domain.Request, onboarding config.OnboardingPolicy) (int, error) {
	if req.TrialDays != nil {
		if *req.TrialDays < 0 {
			return 0, tenantdomain.ErrInvalidTrialDays
		}
		return *req.TrialDays, nil
	}
	code := strings.ToLower(strings.TrimSpace(onboarding.SeedPlanCode))
	if code != "" {
		plan, err := s.plans.FindByCode(ctx, s.db, code)
		if err != nil {
			return 0, err
		}
		if plan != nil && plan.IsActive {
			return plan.TrialDays, nil
		}
	}
	return onboarding.DefaultTrialDays, nil
}
