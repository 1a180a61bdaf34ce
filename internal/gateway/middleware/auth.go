package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionChecker reports whether an operator is signed in on the terminal.
type SessionChecker interface {
	SignedIn() bool
}

// SessionAuth rejects requests while nobody is signed in.
func SessionAuth(s SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.SignedIn() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Sign in to use the terminal",
			})
			return
		}
		c.Next()
	}
}
