package pipeline

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorWriter renders a terminal error response.
type ErrorWriter func(c *gin.Context, status int, code, description string)

// WriteOAuthError renders the RFC 6749 error body. Token responses and their
// errors are never cacheable.
func WriteOAuthError(c *gin.Context, status int, code, description string) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.Set("oauth_error", code)
	body := gin.H{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	c.AbortWithStatusJSON(status, body)
}

// WriteAPIError renders the {error:{type,message}} envelope used outside the
// OAuth endpoints.
func WriteAPIError(c *gin.Context, status int, code, description string) {
	if description == "" {
		description = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"type":    code,
			"message": description,
		},
	})
}
