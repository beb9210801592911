package middleware

import (
	"context"
	"net/http"
	"strconv"

	"volleystat/internal/redis"
	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// Limiter is implemented by *redis.RateLimiter.
type Limiter interface {
	AllowAuth(ctx context.Context, ip string) (*redis.RateLimitResult, error)
	AllowUpload(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// AuthRateLimitMiddleware limits sign-in and sign-up attempts per client IP.
func AuthRateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.AllowAuth(c.Request.Context(), c.ClientIP())
		if !check(c, result, err, "rate limit exceeded") {
			return
		}
		c.Next()
	}
}

// UploadRateLimitMiddleware limits how many uploads a user may start. It
// must run after AuthMiddleware.
func UploadRateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.AllowUpload(c.Request.Context(), userID.String())
		if !check(c, result, err, "upload rate limit exceeded") {
			return
		}
		c.Next()
	}
}

func check(c *gin.Context, result *redis.RateLimitResult, err error, msg string) bool {
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("rate limit unavailable", "SERVICE_UNAVAILABLE"))
		c.Abort()
		return false
	}

	setRateLimitHeaders(c, result)

	if !result.Allowed {
		c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(msg, "RATE_LIMITED"))
		c.Abort()
		return false
	}
	return true
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
