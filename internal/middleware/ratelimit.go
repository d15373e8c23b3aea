package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/response"
)

// RateLimiter decides whether another hit for key is allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (cache.Decision, error)
}

// RateLimit throttles per authenticated user, falling back to client IP. A limiter
// error lets the request through.
func RateLimit(limiter RateLimiter, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if claims := CurrentClaims(c); claims != nil && claims.UserID != "" {
			key = "user:" + claims.UserID
		}

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			metrics.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, "too many join requests, slow down"))
			c.Abort()
			return
		}
		c.Next()
	}
}
