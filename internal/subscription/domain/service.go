package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateSubscriptionRequest struct {
	TenantID snowflake.ID `json:"-"`
	// Plan is a plan id or code.
	Plan            string `json:"plan"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

type ListSubscriptionRequest struct {
	TenantID snowflake.ID
	Status   string
	pagination.Pagination
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type CancelRequest struct {
	TenantID  snowflake.ID
	ID        snowflake.ID
	Immediate bool
}

type ChangePlanRequest struct {
	TenantID snowflake.ID
	ID       snowflake.ID
	Plan     string
}

// LocalSubscriptionRequest inserts a subscription that is never mirrored at the
// payment processor, used when seeding onboarding history.
type LocalSubscriptionRequest struct {
	TenantID    snowflake.ID
	PlanID      snowflake.ID
	Status      SubscriptionStatus
	PeriodStart time.Time
	PeriodEnd   time.Time
	TrialStart  *time.Time
	TrialEnd    *time.Time
}

// ApplyOutcome describes what a gateway report did to local state.
type ApplyOutcome string

const (
	OutcomeApplied   ApplyOutcome = "applied"
	OutcomeDuplicate ApplyOutcome = "duplicate"
	OutcomeStale     ApplyOutcome = "stale"
	OutcomeIgnored   ApplyOutcome = "ignored"
)

type ApplyResult struct {
	Outcome      ApplyOutcome
	Previous     SubscriptionStatus
	Subscription *Subscription
}

// BecameCanceled reports a transition into CANCELED during this apply.
func (r ApplyResult) BecameCanceled() bool {
	return r.Outcome == OutcomeApplied && r.Subscription != nil &&
		r.Previous != SubscriptionStatusCanceled && r.Subscription.Status == SubscriptionStatusCanceled
}

// Created reports that the apply inserted a previously unknown subscription.
func (r ApplyResult) Created() bool {
	return r.Outcome == OutcomeApplied && r.Subscription != nil && r.Previous == ""
}

type TrialOutcome string

const (
	TrialConverted   TrialOutcome = "converted"
	TrialDeactivated TrialOutcome = "deactivated"
	TrialSkipped     TrialOutcome = "skipped"
)

type RenewResult struct {
	Subscription Subscription
	// Ended is set when a scheduled cancellation took effect instead of a renewal.
	Ended bool
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	CreateLocalTx(ctx context.Context, tx *gorm.DB, req LocalSubscriptionRequest) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (Subscription, error)
	GetActive(ctx context.Context, tenantID snowflake.ID) (Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
	Resume(ctx context.Context, tenantID, id snowflake.ID) (Subscription, error)

	// ApplyGatewayReportTx reconciles the processor's view of one subscription on
	// the caller's transaction, inserting it when the external reference is new.
	ApplyGatewayReportTx(ctx context.Context, tx *gorm.DB, remote gatewaydomain.Subscription, reportedAt time.Time, source Source) (ApplyResult, error)
	// NotifyApplied enqueues what a committed ApplyGatewayReportTx owes.
	NotifyApplied(ctx context.Context, result ApplyResult)
	// ResyncFromGateway reads the remote subscription and applies it locally.
	ResyncFromGateway(ctx context.Context, sub Subscription) (ApplyResult, error)
	// ExpireTrial settles one tenant whose trial has ended.
	ExpireTrial(ctx context.Context, tenantID snowflake.ID) (TrialOutcome, error)
	// RenewPeriodTx rolls a locally billed subscription into its next period.
	RenewPeriodTx(ctx context.Context, tx *gorm.DB, sub Subscription) (RenewResult, error)
}
