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

// The bucket state lives in one hash per key. Tokens go back as a string so
// fractional refill survives the Lua to RESP conversion.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed / 1000) * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`)

// RateLimitResult describes one admission decision.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func validateBucket(key string, rate float64, burst int) error {
	switch {
	case key == "":
		return errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return errors.New("rate limiter rate and burst must be positive")
	}
	return nil
}

// decide builds the result from the bucket level after the attempt.
func decide(allowed bool, tokens, rate float64, burst int, now time.Time) *RateLimitResult {
	if tokens < 0 {
		tokens = 0
	}
	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(tokens),
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

// TokenBucket is a redis-backed limiter shared by every replica. Time comes
// from the redis server so replica clock skew does not matter.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return &RateLimitResult{}, errors.New("rate limiter not configured")
	}
	if err := validateBucket(key, rate, burst); err != nil {
		return &RateLimitResult{}, err
	}

	res, err := tokenBucketScript.Run(ctx, t.client, []string{key},
		rate, burst, bucketTTL(rate, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return &RateLimitResult{}, err
	}
	if len(res) != 3 {
		return &RateLimitResult{}, fmt.Errorf("token bucket: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	nowMs, _ := res[2].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return &RateLimitResult{}, fmt.Errorf("token bucket: parse tokens: %w", err)
	}
	return decide(allowed == 1, tokens, rate, burst, time.UnixMilli(nowMs)), nil
}

// bucketTTL keeps idle buckets around for two full refills.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}
