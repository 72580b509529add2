package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// asService stamps the context the way Auth does, so the limiter keys on the
// service name.
func asService(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ServiceKey, name)
		c.Next()
	}
}

func newRateLimitRouter(r rate.Limit, b int, pre ...gin.HandlerFunc) *gin.Engine {
	eng := gin.New()
	eng.Use(pre...)
	eng.Use(RateLimit(r, b))
	eng.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func hit(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	r := newRateLimitRouter(100, 5)
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1"))
}

func TestRateLimit_RejectsPastBurst(t *testing.T) {
	// Near-zero refill so the bucket exhausts and stays exhausted.
	r := newRateLimitRouter(0.001, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "10.0.1.1"), "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.1.1"))
}

func TestRateLimit_KeysByServiceNotIP(t *testing.T) {
	r := newRateLimitRouter(0.001, 2, asService("world-shard-1"))
	// Two different source IPs share the shard's bucket.
	assert.Equal(t, http.StatusOK, hit(r, "10.0.2.1"))
	assert.Equal(t, http.StatusOK, hit(r, "10.0.2.2"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.2.3"))
}

func TestRateLimit_SeparateBucketsPerIPWhenUnauthenticated(t *testing.T) {
	r := newRateLimitRouter(0.001, 1)
	assert.Equal(t, http.StatusOK, hit(r, "10.0.3.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.3.1"))
	// A different caller still has its own bucket.
	assert.Equal(t, http.StatusOK, hit(r, "10.0.3.2"))
}
