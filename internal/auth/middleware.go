package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/logger"
)

const claimsContextKey = "auth_claims"

// Middleware returns a gin handler that requires a valid bearer token on
// every request. Validated claims are cached on the request context.
func Middleware(verifier Verifier, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Debug("token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims cached on the request, or nil.
func ClaimsFrom(c *gin.Context) *Claims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}
