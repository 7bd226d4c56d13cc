package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"workflow-service/internal/models"
)

const identityKey = "identity"

// IdentityClaims are the JWT claims the identity provider issues. The
// service trusts signature and expiry only; it never verifies credentials
// beyond that.
type IdentityClaims struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Active     bool   `json:"active"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and stores the resolved Identity in the
// request context. Requests without a valid token are rejected with 401.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &IdentityClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid subject claim"})
			c.Abort()
			return
		}

		role := models.Role(claims.Role)
		if !role.IsValid() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
			c.Abort()
			return
		}

		c.Set(identityKey, models.Identity{
			ID:         userID,
			Email:      claims.Email,
			Role:       role,
			Department: claims.Department,
			IsActive:   claims.Active,
		})
		c.Next()
	}
}

// IdentityFrom returns the authenticated identity stored by Auth.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}

// SetIdentity stores an identity directly, for tests.
func SetIdentity(c *gin.Context, identity models.Identity) {
	c.Set(identityKey, identity)
}
