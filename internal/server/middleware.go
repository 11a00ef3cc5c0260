package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userContextKey = "campusnotes_user"

const missingAuthorizationMessage = "Missing authorization header"

// requireUser rejects the request unless it carries a valid token for a known user.
func (h *httpHandler) requireUser(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": missingAuthorizationMessage})
		return
	}
	user, status, message := h.resolveUser(c, token)
	if user == nil {
		c.AbortWithStatusJSON(status, gin.H{"error": message})
		return
	}
	c.Set(userContextKey, *user)
	c.Next()
}

// optionalUser attaches the caller when the token resolves and otherwise continues anonymously.
func (h *httpHandler) optionalUser(c *gin.Context) {
	if token, ok := bearerToken(c); ok {
		if user, _, _ := h.resolveUser(c, token); user != nil {
			c.Set(userContextKey, *user)
		}
	}
	c.Next()
}

func (h *httpHandler) resolveUser(c *gin.Context, token string) (*users.User, int, string) {
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		return nil, http.StatusUnauthorized, "Invalid or expired session token"
	}
	user, err := h.users.FindByGoogleID(c.Request.Context(), subject)
	if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrInvalidIdentity) {
		h.logger.Debug("token subject has no user", zap.String("subject", subject))
		return nil, http.StatusUnauthorized, "Invalid token"
	}
	if err != nil {
		h.logger.Error("failed to fetch user", zap.Error(err))
		return nil, http.StatusInternalServerError, "Failed to fetch user"
	}
	return &user, 0, ""
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// currentUser returns the authenticated caller, or nil for anonymous requests.
func currentUser(c *gin.Context) *users.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, ok := value.(users.User)
	if !ok {
		return nil
	}
	return &user
}

func callerID(c *gin.Context) string {
	if user := currentUser(c); user != nil {
		return user.ID
	}
	return ""
}
