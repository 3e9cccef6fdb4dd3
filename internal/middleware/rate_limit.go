package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trailquest/checkin-service/internal/client"
	appcfg "github.com/trailquest/checkin-service/internal/config"
)

// LimiterConfig drives the HTTP-level token bucket. When Redis is set
// the bucket lives in Redis and is shared across instances; otherwise
// an in-memory bucket per key is used.
type LimiterConfig struct {
	RatePerInterval int
	Interval        time.Duration
	Burst           int
	RouteLimits     []appcfg.RouteLimit

	Redis     *client.RedisClient
	KeyPrefix string
	BucketTTL time.Duration

	TrustedProxyIPHeaders []string
	TrustedProxyCIDRs     []string
}

type RateLimiter struct {
	mu       sync.RWMutex
	cfg      LimiterConfig
	buckets  map[string]*tokenBucket
	trustedN []*net.IPNet
}

func NewRateLimiter(cfg LimiterConfig) *RateLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RatePerInterval <= 0 {
		cfg.RatePerInterval = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerInterval
	}
	return &RateLimiter{
		cfg:      cfg,
		buckets:  make(map[string]*tokenBucket),
		trustedN: mustParseCIDRs(cfg.TrustedProxyCIDRs),
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rate, interval, burst := rl.cfg.RatePerInterval, rl.cfg.Interval, rl.cfg.Burst
		for _, rlmt := range rl.cfg.RouteLimits {
			if strings.HasPrefix(r.URL.Path, rlmt.PathPrefix) {
				if rlmt.RatePerInterval > 0 {
					rate = rlmt.RatePerInterval
				}
				if rlmt.Interval > 0 {
					interval = rlmt.Interval.Std()
				}
				if rlmt.Burst > 0 {
					burst = rlmt.Burst
				}
				break
			}
		}

		key := rl.buildKey(r)

		if rl.cfg.Redis != nil {
			ok, err := redisAllow(
				r.Context(), rl.cfg.Redis,
				rl.cfg.KeyPrefix+key,
				rate, interval, burst, rl.cfg.BucketTTL,
			)
			if err != nil {
				// Fail open: a degraded limiter must not take scans down.
				w.Header().Set("X-RateLimit-Degraded", "true")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		b := rl.getOrCreateBucket(key, rate, interval, burst)
		if !b.allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// buildKey prefers the device key derived upstream by the fingerprint
// middleware, so NATed users sharing an IP get separate buckets.
func (rl *RateLimiter) buildKey(r *http.Request) string {
	if fp, ok := FromContext(r.Context()); ok && fp.DeviceKey != "" {
		return fp.DeviceKey
	}
	return clientIP(r, rl.cfg.TrustedProxyIPHeaders, rl.trustedN).String()
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(rate int, interval time.Duration, burst int) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: float64(rate) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) getOrCreateBucket(key string, rate int, interval time.Duration, burst int) *tokenBucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists := rl.buckets[key]; exists {
		return b
	}
	b = newBucket(rate, interval, burst)
	rl.buckets[key] = b
	return b
}

var bucketScript = client.NewScript(`
-- KEYS = bucket key
-- ARGV = now_ms, rate_per_sec, capacity, ttl_sec
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if not tokens or not ts then
  tokens = cap
  ts = now
else
  local elapsed = (now - ts) / 1000
  tokens = math.min(cap, tokens + (elapsed * rate))
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, ttl)

return allowed
`)

func redisAllow(
	ctx context.Context,
	rdb *client.RedisClient,
	key string,
	rate int,
	interval time.Duration,
	burst int,
	ttl time.Duration,
) (bool, error) {
	ratePerSec := float64(rate) / interval.Seconds()
	var res int64
	err := rdb.InstrumentedDo(ctx, func(ctx context.Context) error {
		var rerr error
		res, rerr = bucketScript.Run(ctx, rdb, []string{key},
			time.Now().UnixMilli(),
			ratePerSec,
			burst,
			int(ttl.Seconds()),
		).Int64()
		return rerr
	})
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
