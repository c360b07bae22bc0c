package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieName holds the admin JWT for browser sessions.
const CookieName = "qrattend_admin"

const claimsKey = "claims"

// AdminContext parses the admin token from the cookie or a bearer header and
// stores the claims on the request. It never rejects; see RequireAdmin and IsAdmin.
func AdminContext(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			tokenStr, _ = c.Cookie(CookieName)
		}
		if tokenStr != "" {
			if claims, err := Parse(tokenStr, signingKey, issuer); err == nil && claims.Role == RoleAdmin {
				c.Set(claimsKey, claims)
			}
		}
		c.Next()
	}
}

func bearerToken(authz string) string {
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}

// IsAdmin reports whether AdminContext found a valid admin token for this request.
func IsAdmin(c *gin.Context) bool {
	_, ok := c.Get(claimsKey)
	return ok
}

// CurrentClaims returns the admin claims attached to the request, if any.
func CurrentClaims(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// RequireAdmin rejects API requests without admin claims.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// SetCookie stores token in an HttpOnly cookie that expires with it.
func SetCookie(c *gin.Context, token string, exp time.Time, secure bool) {
	maxAge := int(time.Until(exp).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, maxAge, "/", "", secure, true)
}

// ClearCookie drops the admin cookie.
func ClearCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", secure, true)
}
