package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"compliance-service/internal/auth"
	"compliance-service/internal/models"
	"compliance-service/internal/repository"
)

// Context keys set by RequireAuth for downstream handlers.
const (
	ContextUserKey   = "current_user"
	ContextUserIDKey = "user_id"
)

// AuthMiddleware is the authorization gate: it authenticates the session
// credential and enforces role/permission checks before handlers run.
type AuthMiddleware struct {
	tokens *auth.TokenManager
	users  *repository.UserRepository
	logger *logrus.Entry
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(tokens *auth.TokenManager, users *repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		logger: logrus.WithField("component", "auth_middleware"),
	}
}

// RequireAuth verifies the signed session token (HTTP-only cookie first,
// Authorization header as fallback), loads the user with its role, and
// attaches the identity to the request context. On any failure the request
// is aborted with 401 and no partial identity is attached.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie("access_token")
		if err != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization is missing"})
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format, expected 'Bearer <token>'"})
				return
			}
			tokenString = parts[1]
		}

		userID, err := m.tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		user, err := m.users.GetUserWithRole(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user no longer exists"})
				return
			}
			m.logger.WithError(err).Error("Failed to load user for token")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "an internal error occurred"})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.ID.String())
		c.Next()
	}
}

// RequireRole fails with 403 unless the authenticated user's role name
// matches exactly. Must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roleName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || user.Role == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization is missing"})
			return
		}
		if user.Role.Name != roleName {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied: role '" + roleName + "' required"})
			return
		}
		c.Next()
	}
}

// RequirePermission fails with 403 unless the user's role resolves the given
// permission path to true. The admin role always passes. Must run after
// RequireAuth.
func (m *AuthMiddleware) RequirePermission(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization is missing"})
			return
		}
		if !user.HasPermission(path) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied: missing permission '" + path + "'"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user attached by RequireAuth, or nil.
func CurrentUser(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
