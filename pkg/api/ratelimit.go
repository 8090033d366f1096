package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/veriledger/veriledger/pkg/auth"
)

// Limiter gates requests per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// tokenBucketScript refills and consumes a tenant's bucket atomically in
// Redis, so every node enforces the same budget.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter enforces the tenant budget through Redis.
type RedisLimiter struct {
	client    *redis.Client
	perSecond float64
	burst     int
}

// NewRedisLimiter creates a limiter allowing perSecond sustained requests
// per tenant with the given burst capacity.
func NewRedisLimiter(client *redis.Client, perSecond float64, burst int) *RedisLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{client: client, perSecond: perSecond, burst: burst}
}

// Allow executes the bucket script for one request.
func (l *RedisLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := "ratelimit:tenant:" + tenantID
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.perSecond, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script response %v", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// LocalLimiter is the in-process fallback used when Redis is not configured.
// Budgets are per node.
type LocalLimiter struct {
	mu        sync.Mutex
	tenants   map[string]*tenantBucket
	perSecond rate.Limit
	burst     int
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates the in-process limiter and starts its cleanup loop.
func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	l := &LocalLimiter{
		tenants:   make(map[string]*tenantBucket),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
	}
	go l.cleanup()
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, tenantID string) (bool, error) {
	l.mu.Lock()
	b, ok := l.tenants[tenantID]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.tenants[tenantID] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow(), nil
}

// cleanup drops buckets idle for more than 3 minutes so the map does not
// grow with tenant churn.
func (l *LocalLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for id, b := range l.tenants {
			if time.Since(b.lastSeen) > 3*time.Minute {
				delete(l.tenants, id)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimitMiddleware enforces the per-tenant budget on authenticated
// requests. Requests without a principal (public paths) pass through, as
// does everything when no limiter is configured. Limiter failures fail open
// so a Redis outage does not take appends down with it.
func RateLimitMiddleware(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := auth.GetPrincipal(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), principal.TenantID)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, failing open",
					"error", err, "tenant_id", principal.TenantID)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				WriteTooManyRequests(w, r, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
