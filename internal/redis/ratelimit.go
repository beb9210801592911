package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key pattern: ratelimit:{scope}:{subject}, expiring with the window.

type RateLimitConfig struct {
	AuthLimit    int
	AuthWindow   time.Duration
	UploadLimit  int
	UploadWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		AuthLimit:    10,
		AuthWindow:   60 * time.Second,
		UploadLimit:  20,
		UploadWindow: time.Hour,
	}
}

type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, config: config}
}

// checkScript increments the counter only while it is under the limit.
var checkScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

// AllowAuth limits sign-in and sign-up attempts per client IP.
func (r *RateLimiter) AllowAuth(ctx context.Context, ip string) (*RateLimitResult, error) {
	return r.Allow(ctx, "auth", ip, r.config.AuthLimit, r.config.AuthWindow)
}

// AllowUpload limits how many uploads a user may start per window.
func (r *RateLimiter) AllowUpload(ctx context.Context, userID string) (*RateLimitResult, error) {
	return r.Allow(ctx, "uploads", userID, r.config.UploadLimit, r.config.UploadWindow)
}

func (r *RateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, subject)
	result, err := checkScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	ttl, _ := values[2].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttl) * time.Second,
		Limit:     limit,
	}, nil
}
