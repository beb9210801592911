package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"volleystat/internal/redis"
	"volleystat/internal/services"
	volley_errors "volleystat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parserFunc func(ctx context.Context, token string) (services.AccessClaims, error)

func (f parserFunc) ParseAccessToken(ctx context.Context, token string) (services.AccessClaims, error) {
	return f(ctx, token)
}

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) allow(subject string) (*redis.RateLimitResult, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.seen[subject]++
	n := l.seen[subject]
	return &redis.RateLimitResult{Allowed: n <= l.limit, Remaining: max(l.limit-n, 0), ResetIn: time.Minute, Limit: l.limit}, nil
}

func (l *countingLimiter) AllowAuth(_ context.Context, ip string) (*redis.RateLimitResult, error) {
	return l.allow("ip:" + ip)
}

func (l *countingLimiter) AllowUpload(_ context.Context, userID string) (*redis.RateLimitResult, error) {
	return l.allow("user:" + userID)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()

	parser := parserFunc(func(_ context.Context, token string) (services.AccessClaims, error) {
		switch token {
		case "good":
			return services.AccessClaims{UserID: userID.String()}, nil
		case "redis-down":
			return services.AccessClaims{}, volley_errors.ErrServiceUnavailable
		default:
			return services.AccessClaims{}, volley_errors.ErrUnauthorized
		}
	})

	r := gin.New()
	r.GET("/me", AuthMiddleware(parser), func(c *gin.Context) {
		id, ok := services.UserIDFromContext(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"deny list unavailable", "Bearer redis-down", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			}
		})
	}
}

func TestAuthRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{limit: 2, seen: map[string]int{}}

	r := gin.New()
	r.POST("/signin", AuthRateLimitMiddleware(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	var codes []int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signin", nil))
		codes = append(codes, w.Code)
		if i == 0 {
			assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	limiter.err = errors.New("redis down")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signin", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUploadRateLimitMiddleware_PerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{limit: 1, seen: map[string]int{}}

	r := gin.New()
	r.POST("/uploads", func(c *gin.Context) {
		id, _ := uuid.Parse(c.GetHeader("X-User"))
		c.Request = c.Request.WithContext(services.WithUserContext(c.Request.Context(), id, services.AccessClaims{}))
		c.Next()
	}, UploadRateLimitMiddleware(limiter), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	send := func(user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/uploads", nil)
		req.Header.Set("X-User", user.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, http.StatusAccepted, send(a))
	assert.Equal(t, http.StatusTooManyRequests, send(a))
	assert.Equal(t, http.StatusAccepted, send(b))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get("X-Request-Id"), 32)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "given")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Header().Get("X-Request-Id"))
}
