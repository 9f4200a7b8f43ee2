package scheduler

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidConfig = errkind.Validation("scheduler_invalid_config")
	ErrLockHeld      = errkind.Conflict("scheduler_lock_held")
)
