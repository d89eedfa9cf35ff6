package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/response"
)

// RequireRole admits only accounts holding one of roles. It reads the claims JWT stored, so mount it after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		held, _ := v.(string)
		for _, r := range roles {
			if models.Role(held) == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}
