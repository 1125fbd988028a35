package middleware

import (
	"net/http"
	"strings"

	"github.com/javaarchive/togetherfin/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// SessionVerifier validates a bearer session credential.
type SessionVerifier interface {
	VerifySessionKey(tokenString string) (*domain.RoomClaim, error)
}

// ClaimContextKey is where the verified room claim lands in the gin context.
const ClaimContextKey = "room_claim"

// NewSessionAuthMiddleware guards host-only routes. The credential must
// verify and its room claim must match the :id route parameter; a
// credential for one room buys nothing in another.
func NewSessionAuthMiddleware(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "missing bearer session credential",
			})
			return
		}

		claim, err := verifier.VerifySessionKey(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"ok":    false,
				"error": "session credential rejected",
			})
			return
		}

		if roomID := c.Param("id"); roomID != "" && roomID != claim.ID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"ok":    false,
				"error": "session credential is scoped to a different room",
			})
			return
		}

		c.Set(ClaimContextKey, claim)
		c.Next()
	}
}
