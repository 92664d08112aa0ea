package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse writes payload as a flat JSON body
func JSONResponse(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// JSONError sends a structured error response. detail is the human readable
// reason shown to bidders; error carries the wrapped chain for debugging.
func JSONError(c *gin.Context, status int, err error, detail string) {
	c.JSON(status, gin.H{
		"status": status,
		"detail": detail,
		"error":  err.Error(),
	})
}

// AbortWithError is JSONError for middleware that must stop the chain
func AbortWithError(c *gin.Context, status int, err error, detail string) {
	JSONError(c, status, err, detail)
	c.Abort()
}
