package middleware

import (
	"net/http"

	"catch-hub/pkg/response"

	"github.com/gin-gonic/gin"
)

// ContextUserID is the gin context key holding the caller's user ID.
const ContextUserID = "user_id"

type TokenVerifier interface {
	Verify(token string) (userID string, ok bool)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header is required")
			return
		}

		userID, ok := am.verifier.Verify(authHeader)
		if !ok {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}
