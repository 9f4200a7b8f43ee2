package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Source tags who triggered a transition. It is recorded for audit only; the
// transition table is the same for every source.
type Source string

const (
	SourceUser      Source = "user"
	SourceWebhook   Source = "webhook"
	SourceScheduler Source = "scheduler"
)

type EventKind string

const (
	EventGatewayStatusReport EventKind = "gateway_status_report"
	EventUserCancel          EventKind = "user_cancel"
	EventUserResume          EventKind = "user_resume"
	EventUserChangePlan      EventKind = "user_change_plan"
	EventTrialExpired        EventKind = "trial_expired"
	EventPeriodRenewed       EventKind = "period_renewed"
)

// Event is one input to Transition.
type Event interface {
	Kind() EventKind
}

// GatewayStatusReport carries the gateway's view of a subscription. The gateway
// is the source of truth for status; nil fields leave the stored value alone.
type GatewayStatusReport struct {
	Status            SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	EndedAt           *time.Time
	// ReportedAt is the gateway's own event time, used to order reports that
	// carry the same period.
	ReportedAt time.Time
}

type UserCancel struct {
	Immediate bool
}

type UserResume struct{}

type UserChangePlan struct {
	PlanID snowflake.ID
}

// TrialExpired converts a trial to ACTIVE when a payment method is on file.
// Without one the subscription is left alone and the caller deactivates the tenant.
type TrialExpired struct {
	HasPaymentMethod bool
	NextPeriodEnd    time.Time
}

// PeriodRenewed rolls a locally billed subscription into its next period.
type PeriodRenewed struct {
	NextPeriodEnd time.Time
}

func (GatewayStatusReport) Kind() EventKind { return EventGatewayStatusReport }
func (UserCancel) Kind() EventKind          { return EventUserCancel }
func (UserResume) Kind() EventKind          { return EventUserResume }
func (UserChangePlan) Kind() EventKind      { return EventUserChangePlan }
func (TrialExpired) Kind() EventKind        { return EventTrialExpired }
func (PeriodRenewed) Kind() EventKind       { return EventPeriodRenewed }
