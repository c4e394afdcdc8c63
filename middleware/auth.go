package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles, from most to least privileged. Each role includes the ones below it.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleDonor      = "donor"
)

var roleRank = map[string]int{
	RoleDonor:      1,
	RoleDispatcher: 2,
	RoleAdmin:      3,
}

// TokenTTL is the lifetime of issued tokens.
const TokenTTL = 24 * time.Hour

var (
	secretMu sync.RWMutex
	secret   []byte
)

// Claims carried by access tokens. Subject is the platform user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SetJWTSecret overrides the secret read from the environment.
func SetJWTSecret(s string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if s == "" {
		secret = nil
		return
	}
	secret = []byte(s)
}

// GetJWTSecret returns the configured secret, falling back to JWT_SECRET.
func GetJWTSecret() []byte {
	secretMu.RLock()
	s := secret
	secretMu.RUnlock()
	if s != nil {
		return s
	}

	env := os.Getenv("JWT_SECRET")
	if env == "" {
		// Default for development/scaffolding if not set
		return []byte("super-secret-key-change-me")
	}
	return []byte(env)
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// HasRole reports whether a holder of role may act as required.
func HasRole(role, required string) bool {
	return roleRank[role] > 0 && roleRank[role] >= roleRank[required]
}

// GenerateToken signs an HS256 token for the user.
func GenerateToken(username, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(GetJWTSecret())
}

// ParseToken validates the token signature and expiry and returns its claims.
func ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return GetJWTSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// JWTAuthMiddleware verifies the Authorization header and stores the
// username and role in the context.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Authorization header missing")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "Invalid Authorization header format")
			return
		}

		claims, err := ParseToken(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set("username", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose role does not include required.
func RequireRole(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasRole(GetRole(c), required) {
			abort(c, http.StatusForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

// CanActFor reports whether the caller may act on userID's data.
func CanActFor(c *gin.Context, userID string) bool {
	if HasRole(GetRole(c), RoleAdmin) {
		return true
	}
	return userID != "" && GetUsername(c) == userID
}

func GetUsername(c *gin.Context) string {
	return c.GetString("username")
}

func GetRole(c *gin.Context) string {
	return c.GetString("role")
}
