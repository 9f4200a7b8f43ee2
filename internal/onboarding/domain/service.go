package domain

import (
	"context"

	"github.com/smallbiznis/tenantbill/internal/errkind"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"gorm.io/gorm"
)

type Service interface {
	Register(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	// TrialDays overrides the seed plan's trial length; zero registers without a trial.
	TrialDays *int `json:"trial_days,omitempty"`
}

type Result struct {
	Tenant       tenantdomain.Tenant              `json:"tenant"`
	Subscription *subscriptiondomain.Subscription `json:"subscription,omitempty"`
	Invoices     []invoicedomain.Invoice          `json:"invoices,omitempty"`
}

// Provisioned is what a provisioner wrote for the new tenant.
type Provisioned struct {
	Subscription *subscriptiondomain.Subscription
	Invoices     []invoicedomain.Invoice
}

// Provisioner prepares a freshly inserted tenant on the registration transaction.
type Provisioner interface {
	Provision(ctx context.Context, tx *gorm.DB, tenant tenantdomain.Tenant) (Provisioned, error)
}

var ErrInvalidRequest = errkind.Validation("invalid_onboarding_request")
