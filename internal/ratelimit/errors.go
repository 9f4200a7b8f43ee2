package ratelimit

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrRedisRequired = errkind.Validation("rate_limit_redis_required")
	ErrInvalidLimits = errkind.Validation("rate_limit_invalid_limits")
	ErrLimited       = errkind.Conflict("rate_limited")
)
