// Package ratelimit enforces request rates on the operator HTTP surface and
// administrator socket connects, using a Redis store when the event bus is
// configured and falling back to in-memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/sfu-control/sfu-control/internal/logging"
	"github.com/sfu-control/sfu-control/internal/metrics"
)

// RateLimiter holds the operator/admin rate limiter instances.
type RateLimiter struct {
	operator *limiter.Limiter
	admin    *limiter.Limiter
	store    limiter.Store
}

// New constructs a RateLimiter. operatorRate/adminRate are ulule/limiter
// formatted rates (e.g. "600-M"). redisClient may be nil, in which case an
// in-memory store is used (single-instance mode).
func New(operatorRate, adminRate string, redisClient *redis.Client) (*RateLimiter, error) {
	opRate, err := limiter.NewRateFromFormatted(operatorRate)
	if err != nil {
		return nil, fmt.Errorf("invalid operator rate: %w", err)
	}
	adRate, err := limiter.NewRateFromFormatted(adminRate)
	if err != nil {
		return nil, fmt.Errorf("invalid admin rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "sfu:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (redis disabled)")
	}

	return &RateLimiter{
		operator: limiter.New(store, opRate),
		admin:    limiter.New(store, adRate),
		store:    store,
	}, nil
}

// GlobalMiddleware enforces the operator HTTP rate, keyed by tenant
// clientId when present, falling back to the caller's IP.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("clientId")
		if key == "" {
			key = c.GetHeader("x-sfu-client")
		}
		if key == "" {
			key = c.ClientIP()
		}

		ctx := c.Request.Context()
		lctx, err := rl.operator.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "operator").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckAdminSocketConnect enforces the administrator socket connect rate,
// keyed by the connecting userKey. Fails open on store errors.
func (rl *RateLimiter) CheckAdminSocketConnect(ctx context.Context, userKey string) error {
	lctx, err := rl.admin.Get(ctx, userKey)
	if err != nil {
		logging.Error(ctx, "admin socket rate limiter store failed")
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("admin_socket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for administrator %s", userKey)
	}
	metrics.RateLimitRequests.WithLabelValues("admin_socket_connect").Inc()
	return nil
}
