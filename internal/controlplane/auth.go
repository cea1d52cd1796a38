package controlplane

import (
	"github.com/gin-gonic/gin"
)

// HeaderSharedSecret is the operator authentication header (§6).
const HeaderSharedSecret = "x-sfu-secret"

// HeaderClientId disambiguates tenants when clientId isn't in the query string.
const HeaderClientId = "x-sfu-client"

// SharedSecretAuth rejects any request whose x-sfu-secret header does not
// match the configured secret.
func SharedSecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderSharedSecret) != secret {
			writeError(c, CodeUnauthorized, "missing or invalid shared secret", nil)
			return
		}
		c.Next()
	}
}

// clientIdFrom resolves the tenant id from the clientId query param, else
// the x-sfu-client header, else empty (meaning "search across tenants").
func clientIdFrom(c *gin.Context) string {
	if id := c.Query("clientId"); id != "" {
		return id
	}
	return c.GetHeader(HeaderClientId)
}
