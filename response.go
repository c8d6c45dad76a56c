package ledgerauth

import (
	"github.com/gin-gonic/gin"
)

const (
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeRateLimited  = "RATE_LIMITED"
)

// ErrorBody is the structured rejection returned to machine clients.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// AbortWithError stops the chain with a structured rejection.
func AbortWithError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Success:   false,
		Message:   message,
		ErrorCode: code,
	})
}

// wantsJSON tells machine clients from browsers.
func wantsJSON(c *gin.Context) bool {
	if c.ContentType() == gin.MIMEJSON {
		return true
	}
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
