package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbill/internal/config"
	"go.uber.org/fx"
)

const keyUsageTenant = "tenantbill:usage:tenant:%s"

// UsageLimiter bounds usage metric writes per tenant. A nil or disabled
// limiter allows everything.
type UsageLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

type Params struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewUsageLimiter(p Params) (*UsageLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if p.Redis == nil {
		return nil, ErrRedisRequired
	}
	if cfg.UsageRate <= 0 || cfg.UsageBurst <= 0 {
		return nil, ErrInvalidLimits
	}
	return &UsageLimiter{
		bucket: NewTokenBucket(p.Redis),
		rate:   cfg.UsageRate,
		burst:  cfg.UsageBurst,
	}, nil
}

func (l *UsageLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowTenant takes one token from the tenant's bucket.
func (l *UsageLimiter) AllowTenant(ctx context.Context, tenantID snowflake.ID) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageTenant, tenantID.String()), l.rate, l.burst)
}
