package middleware

import (
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware enforces one of the route limits keyed
// by client IP. Each route registers its own Limiter instance (built with
// the N/window called for by that route) rather than sharing a single
// limiter across routes.
func RateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		ok, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.Error(apperrors.New(apperrors.ErrInternal, "rate limiter unavailable", err))
			c.Abort()
			return
		}
		if !ok {
			appErr := apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded", nil)
			c.JSON(appErr.HTTPStatus, appErr)
			c.Abort()
			return
		}

		c.Next()
	}
}
