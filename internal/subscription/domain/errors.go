package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidTenant       = errkind.Validation("invalid_tenant")
	ErrInvalidSubscription = errkind.Validation("invalid_subscription")
	ErrInvalidStatus       = errkind.Validation("invalid_status")
	ErrInvalidPeriod       = errkind.Validation("invalid_period")
	ErrInvalidEvent        = errkind.Validation("invalid_event")
	ErrSamePlan            = errkind.Validation("same_plan")
	ErrPlanNotBillable     = errkind.Validation("plan_not_billable")
	ErrNotScheduled        = errkind.Validation("cancellation_not_scheduled")

	ErrInvalidTransition        = errkind.Conflict("invalid_transition")
	ErrActiveSubscriptionExists = errkind.Conflict("active_subscription_exists")

	ErrSubscriptionNotFound = errkind.NotFound("subscription_not_found")
)

// Outcome sentinels; these are not failures and never leave the service layer as errors.
var (
	ErrStaleEvent            = errkind.Conflict("stale_event")
	ErrPaymentMethodRequired = errkind.Validation("payment_method_required")
)
