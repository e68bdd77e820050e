package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topspeed/backend/internal/domain"
)

const errForbidden = "Forbidden"

// RequireAdmin runs after Auth. The role claim is the sole authority;
// admin access is never decided by comparing email addresses.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != string(domain.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errForbidden})
			return
		}
		c.Next()
	}
}
