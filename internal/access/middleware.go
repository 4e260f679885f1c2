package access

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const ginIdentityKey = "access.identity"

// Middleware resolves the caller once per request and aborts with 401 when
// no identity is present.
func Middleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "authentication required",
				"errors":  []string{err.Error()},
			})
			return
		}
		c.Set(ginIdentityKey, id)
		c.Next()
	}
}

// Current returns the identity resolved by Middleware.
func Current(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ginIdentityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
