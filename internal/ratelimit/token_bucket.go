// Package ratelimit throttles usage ingestion with a redis token bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// refillScript keeps {tokens, ts} in a hash. Time comes from the redis server
// so every API replica refills against the same clock. Tokens are returned as
// a string because redis truncates Lua numbers to integers.
var refillScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`)

// TokenBucket takes tokens from per-key buckets stored in redis.
type TokenBucket struct {
	client *redis.Client
}

// RateLimitResult describes one Allow decision. RetryAfter is zero when the
// call was allowed.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from key's bucket, refilled at rate tokens per second
// up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: burst}
	switch {
	case t == nil || t.client == nil:
		return denied, errors.New("rate limiter not configured")
	case key == "":
		return denied, errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return denied, fmt.Errorf("rate limiter needs a positive rate and burst, got %v/%d", rate, burst)
	}

	raw, err := refillScript.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return denied, err
	}
	if len(raw) != 3 {
		return denied, fmt.Errorf("unexpected token bucket reply of %d values", len(raw))
	}
	allowed, _ := raw[0].(int64)
	nowMillis, _ := raw[2].(int64)
	tokensText, _ := raw[1].(string)
	tokens, err := strconv.ParseFloat(tokensText, 64)
	if err != nil {
		return denied, fmt.Errorf("parse token bucket level %q: %w", tokensText, err)
	}

	res := &RateLimitResult{
		Allowed:   allowed == 1,
		Limit:     burst,
		Remaining: int(math.Floor(tokens)),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
	}
	res.ResetTime = time.UnixMilli(nowMillis).Add(res.RetryAfter)
	return res, nil
}

// bucketTTL lets an idle bucket expire after twice the time it takes to refill
// from empty.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
