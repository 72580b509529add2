package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/config"
)

const ServiceKey = "service"

// revokedKey is the cache key that marks a service's tokens as revoked.
func revokedKey(service string) string {
	return "svc.revoked:" + service
}

// Auth validates the Bearer JWT and rejects services whose credentials have
// been revoked since the token was issued.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		revoked, err := c.Exists(cacheCtx, revokedKey(claims.Service))
		if err != nil || revoked {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "credentials revoked"})
			return
		}

		ctx.Set(ServiceKey, claims.Service)
		ctx.Next()
	}
}

// GetService retrieves the authenticated service name from the Gin context.
func GetService(c *gin.Context) string {
	if v, exists := c.Get(ServiceKey); exists {
		return v.(string)
	}
	return ""
}

// AdminAuth guards operational endpoints with a static key header.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if adminKey == "" || ctx.GetHeader("X-Admin-Key") != adminKey {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		ctx.Next()
	}
}
