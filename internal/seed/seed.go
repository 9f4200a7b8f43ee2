// Package seed installs the default public plan catalog on startup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const seedTimeout = 30 * time.Second

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

// DefaultCatalog is the plan set a fresh install offers.
func DefaultCatalog(currency string) []plandomain.CreatePlanRequest {
	return []plandomain.CreatePlanRequest{
		{
			Code:         "free",
			Name:         "Free",
			Description:  "For trying things out",
			Price:        0,
			Currency:     currency,
			Interval:     plandomain.IntervalMonthly,
			MaxUsers:     2,
			MaxAPICalls:  1000,
			MaxStorageGB: 1,
			Features:     []string{"basic_reports"},
			IsPublic:     true,
		},
		{
			Code:         "starter",
			Name:         "Starter",
			Description:  "For small teams",
			Price:        900,
			Currency:     currency,
			Interval:     plandomain.IntervalMonthly,
			TrialDays:    14,
			MaxUsers:     5,
			MaxAPICalls:  5000,
			MaxStorageGB: 10,
			Features:     []string{"basic_reports", "email_support"},
			IsPublic:     true,
		},
		{
			Code:         "pro",
			Name:         "Pro",
			Description:  "Professional plan for growing businesses",
			Price:        2900,
			Currency:     currency,
			Interval:     plandomain.IntervalMonthly,
			TrialDays:    14,
			MaxUsers:     25,
			MaxAPICalls:  10000,
			MaxStorageGB: 50,
			Features:     []string{"priority_support", "analytics"},
			IsPublic:     true,
		},
		{
			Code:         "pro-yearly",
			Name:         "Pro (yearly)",
			Description:  "Pro billed once a year",
			Price:        29000,
			Currency:     currency,
			Interval:     plandomain.IntervalYearly,
			TrialDays:    14,
			MaxUsers:     25,
			MaxAPICalls:  10000,
			MaxStorageGB: 50,
			Features:     []string{"priority_support", "analytics"},
			IsPublic:     true,
		},
	}
}

// Run seeds the default catalog when SEED_PLAN_CATALOG is enabled.
func Run(cfg config.Config, policy *config.BillingPolicyHolder, plans plandomain.Service, log *zap.Logger) error {
	log = log.Named("seed")
	if !cfg.SeedPlanCatalog {
		log.Info("plan catalog seed disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	created, err := EnsurePlanCatalog(ctx, plans, DefaultCatalog(policy.Get().DefaultCurrency))
	if err != nil {
		return err
	}
	log.Info("plan catalog ready", zap.Int("created", created))
	return nil
}

// EnsurePlanCatalog creates every plan whose code does not exist yet. Existing
// plans are left untouched, so operator edits survive restarts.
func EnsurePlanCatalog(ctx context.Context, plans plandomain.Service, catalog []plandomain.CreatePlanRequest) (int, error) {
	if plans == nil {
		return 0, errors.New("seed plan service is required")
	}

	created := 0
	for _, req := range catalog {
		_, err := plans.GetByCode(ctx, req.Code)
		if err == nil {
			continue
		}
		if !errkind.IsNotFound(err) {
			return created, err
		}

		if _, err := plans.Create(ctx, req); err != nil {
			// Another replica won the race.
			if errors.Is(err, plandomain.ErrDuplicateCode) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}
