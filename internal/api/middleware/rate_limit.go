package middleware

import (
	"fmt"
	"net/http"
	"time"

	"catch-hub/internal/services"
	"catch-hub/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RateLimitMiddleware struct {
	limiter services.RateLimiter
	logger  *zap.Logger
}

func NewRateLimitMiddleware(limiter services.RateLimiter, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger.With(zap.String("component", "rate_limit")),
	}
}

// RateLimitIP limits requests per client IP and route. Requests pass when the
// limiter itself fails.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requests <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.FullPath())
		allowed, err := rm.limiter.Allow(c.Request.Context(), key, requests, window)
		if err != nil {
			rm.logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, response.ErrCodeRateLimited,
				fmt.Sprintf("Too many requests. Limit: %d per %v", requests, window))
			return
		}

		c.Next()
	}
}
