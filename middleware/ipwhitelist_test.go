package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWhitelistRouter(entries []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(entries))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func pingFrom(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_EmptyAllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	assert.Equal(t, http.StatusOK, pingFrom(r, "1.2.3.4"))
}

func TestIPWhitelist_ExactIP(t *testing.T) {
	r := newWhitelistRouter([]string{"192.168.1.1"})
	assert.Equal(t, http.StatusOK, pingFrom(r, "192.168.1.1"))
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "192.168.1.2"))
}

func TestIPWhitelist_CIDRBlock(t *testing.T) {
	r := newWhitelistRouter([]string{"10.8.0.0/24"})
	assert.Equal(t, http.StatusOK, pingFrom(r, "10.8.0.77"))
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "10.8.1.1"))
}

func TestIPWhitelist_MixedEntries(t *testing.T) {
	r := newWhitelistRouter([]string{"172.16.0.0/16", "203.0.113.9"})
	assert.Equal(t, http.StatusOK, pingFrom(r, "172.16.44.2"))
	assert.Equal(t, http.StatusOK, pingFrom(r, "203.0.113.9"))
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "203.0.113.10"))
}

func TestIPWhitelist_MalformedEntriesIgnored(t *testing.T) {
	// Only the valid entry counts; the garbage ones never match anything.
	r := newWhitelistRouter([]string{"not-an-ip", "10.0.0.0/99", "192.168.1.1"})
	assert.Equal(t, http.StatusOK, pingFrom(r, "192.168.1.1"))
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "192.168.1.2"))
}
