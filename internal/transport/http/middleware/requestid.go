package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/topspeed/backend/internal/requestid"
)

// RequestID injects a request ID into the context and response header.
// An incoming X-Request-ID is preserved; otherwise a fresh one is
// generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" {
			id = requestid.New()
		}

		c.Request = c.Request.WithContext(requestid.Attach(c.Request.Context(), id))
		c.Header(requestid.Header, id)
		c.Next()
	}
}
