// Package domain contains the subscription model and its lifecycle state machine.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive            SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue           SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusUnpaid            SubscriptionStatus = "UNPAID"
	SubscriptionStatusCanceled          SubscriptionStatus = "CANCELED"
	SubscriptionStatusIncomplete        SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "INCOMPLETE_EXPIRED"
)

var allStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusUnpaid,
	SubscriptionStatusCanceled,
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
}

// LiveStatuses are the statuses limited to one subscription per tenant.
var LiveStatuses = []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}

// ParseStatus accepts any casing of a known status.
func ParseStatus(value string) (SubscriptionStatus, error) {
	status := SubscriptionStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

func (s SubscriptionStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal statuses absorb every later event.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

// Live reports whether the status counts toward the one-per-tenant limit.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription links a tenant to a plan.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID       `gorm:"not null;index" json:"tenant_id"`
	PlanID             snowflake.ID       `gorm:"not null" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	ExternalRef        *string            `json:"external_ref,omitempty"`
	CurrentPeriodStart time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"not null" json:"current_period_end"`
	TrialStart         *time.Time         `json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	GatewayEventAt     *time.Time         `json:"-"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// HasRemote reports whether the subscription is mirrored at the payment gateway.
func (s Subscription) HasRemote() bool {
	return s.ExternalRef != nil && *s.ExternalRef != ""
}

// Validate checks the structural invariants every persisted subscription holds.
func (s Subscription) Validate() error {
	if !s.Status.Valid() {
		return ErrInvalidStatus
	}
	if !s.CurrentPeriodStart.Before(s.CurrentPeriodEnd) {
		return ErrInvalidPeriod
	}
	if s.EndedAt != nil && !s.Status.Terminal() {
		return ErrInvalidTransition
	}
	if s.CanceledAt != nil && !s.Status.Terminal() && !s.CancelAtPeriodEnd {
		return ErrInvalidTransition
	}
	return nil
}

// SameState reports whether two snapshots carry identical lifecycle fields.
func (s Subscription) SameState(other Subscription) bool {
	return s.Status == other.Status &&
		s.PlanID == other.PlanID &&
		s.CurrentPeriodStart.Equal(other.CurrentPeriodStart) &&
		s.CurrentPeriodEnd.Equal(other.CurrentPeriodEnd) &&
		equalTime(s.TrialStart, other.TrialStart) &&
		equalTime(s.TrialEnd, other.TrialEnd) &&
		s.CancelAtPeriodEnd == other.CancelAtPeriodEnd &&
		equalTime(s.CanceledAt, other.CanceledAt) &&
		equalTime(s.EndedAt, other.EndedAt) &&
		equalTime(s.GatewayEventAt, other.GatewayEventAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
