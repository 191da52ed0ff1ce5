package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pkg/response"
)

const apiKeyHeader = "X-API-Key"

// RequireAPIKey returns a middleware that rejects any request whose
// X-API-Key header doesn't match the configured shared secret. This is the
// only admission control the admin surface has — there is no per-user
// identity in this system, only one operator-held credential.
func RequireAPIKey(expectedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(apiKeyHeader)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expectedKey)) != 1 {
			response.Unauthorized(c)
			return
		}
		c.Next()
	}
}
