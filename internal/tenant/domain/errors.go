package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidTenant    = errkind.Validation("invalid_tenant")
	ErrInvalidName      = errkind.Validation("invalid_name")
	ErrInvalidEmail     = errkind.Validation("invalid_email")
	ErrInvalidTrialDays = errkind.Validation("invalid_trial_days")
	ErrDuplicateSlug    = errkind.Conflict("duplicate_tenant_slug")
	ErrTenantNotFound   = errkind.NotFound("tenant_not_found")
)
