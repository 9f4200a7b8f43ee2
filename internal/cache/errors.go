package cache

import "github.com/smallbiznis/tenantbill/internal/errkind"

var ErrRedisAddrRequired = errkind.Validation("redis_addr_required")
