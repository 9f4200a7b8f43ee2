package server

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbill/internal/observability/logger"
	"github.com/smallbiznis/tenantbill/internal/ratelimit"
	"go.uber.org/zap"
)

// UsageIngestRateLimit takes one token from the tenant's usage bucket per
// request. A missing or disabled limiter lets everything through.
func (s *Server) UsageIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		tenant, ok := requireTenant(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		result, err := s.usageLimiter.AllowTenant(ctx, tenant.ID)
		if err != nil {
			// Fail open when redis is unreachable.
			logger.FromContext(ctx).Warn("usage rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			denyUsageIngestRateLimit(c, result)
			return
		}
		c.Next()
	}
}

func denyUsageIngestRateLimit(c *gin.Context, result *ratelimit.RateLimitResult) {
	logger.FromContext(c.Request.Context()).Warn("usage ingest rate limit exceeded",
		zap.Int("limit", result.Limit),
		zap.Duration("retry_after", result.RetryAfter),
	)
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
	AbortWithError(c, ratelimit.ErrLimited)
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.RateLimitResult) {
	if result == nil || result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetTime.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
