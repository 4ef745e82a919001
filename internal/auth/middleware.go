package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// abort writes the same error envelope the REST handlers use.
func abort(c *gin.Context, status int, code, message string, details any) {
	body := gin.H{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// AuthMiddleware resolves the bearer token into a Principal.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, http.StatusUnauthorized, "AUTH_401", "missing or malformed bearer token", nil)
			return
		}

		principal, err := a.ValidateToken(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			abort(c, http.StatusUnauthorized, "AUTH_401", "invalid or expired token", nil)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequirePermission rejects callers lacking required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok || !principal.Has(required) {
			abort(c, http.StatusForbidden, "AUTH_403", "insufficient permissions",
				gin.H{"required": required})
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the caller stored by AuthMiddleware.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}
