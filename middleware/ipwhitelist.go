package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// IPWhitelist restricts a route group to the given client addresses. Entries
// may be single IPs ("10.0.0.5") or CIDR blocks ("10.0.0.0/24"); malformed
// entries are ignored. An empty list allows every address, leaving access
// control to the admin key alone.
func IPWhitelist(entries []string) gin.HandlerFunc {
	exact := make(map[string]bool, len(entries))
	var nets []*net.IPNet
	for _, e := range entries {
		if _, block, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, block)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			exact[ip.String()] = true
		}
	}

	allowed := func(addr string) bool {
		ip := net.ParseIP(addr)
		if ip == nil {
			return false
		}
		if exact[ip.String()] {
			return true
		}
		for _, block := range nets {
			if block.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		if len(exact) == 0 && len(nets) == 0 {
			c.Next()
			return
		}
		if !allowed(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
