package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidPlan     = errkind.Validation("invalid_plan")
	ErrInvalidCode     = errkind.Validation("invalid_plan_code")
	ErrInvalidPrice    = errkind.Validation("invalid_price")
	ErrInvalidInterval = errkind.Validation("invalid_interval")
	ErrInvalidCurrency = errkind.Validation("invalid_currency")
	ErrPlanInactive    = errkind.Validation("plan_inactive")
	ErrDuplicateCode   = errkind.Conflict("duplicate_plan_code")
	ErrPlanNotFound    = errkind.NotFound("plan_not_found")
)
