package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fixedLimiter(rps float64, burst int, now time.Time) *IPRateLimiter {
	l := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }
	return l
}

func TestIPRateLimiter_Burst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLimiter(1, 3, now)

	for i := 0; i < 3; i++ {
		ok, info := l.Allow("10.0.0.1")
		require.True(t, ok, "request %d", i)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}
	ok, info := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, info.RetryAfter)

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "other clients have their own bucket")
	assert.Equal(t, 2, l.Len())
}

func TestIPRateLimiter_Refill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLimiter(1, 1, now)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	l.now = func() time.Time { return now.Add(time.Second) }
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLimiter(5, 5, now)
	l.Allow("old")

	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	l.Allow("fresh")

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
	l.Stop()
	l.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLimiter(1, 1, now)

	r := gin.New()
	r.Use(RateLimit(l, RateLimitConfig{SkipPaths: []string{"/healthz"}}))
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/api")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = get("/api")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "too many requests")

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get("/healthz").Code)
	}
}

func TestIPRateLimiter_SetLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLimiter(1, 1, now)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	l.SetLimit(10, 5)
	l.now = func() time.Time { return now.Add(time.Second) }
	ok, info := l.Allow("k")
	assert.True(t, ok)
	assert.Equal(t, 5, info.Limit)

	l.SetLimit(0, 3)
	_, info = l.Allow("k")
	assert.Equal(t, 5, info.Limit, "invalid limits are ignored")
}
