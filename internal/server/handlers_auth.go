package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type authRequestPayload struct {
	Token string `json:"token"`
}

type authResponsePayload struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		badRequest(c, "Token is required")
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.Token)
	switch {
	case errors.Is(err, auth.ErrDomainNotAllowed):
		h.logger.Info("google account outside allowed domains", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "Sign-in is limited to campus accounts"})
		return
	case err != nil:
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token validation failed"})
		return
	}

	user, err := h.users.FindOrCreate(c.Request.Context(), users.Profile{
		GoogleID: claims.Subject,
		Email:    claims.Email,
		FullName: claims.Name,
		Picture:  claims.Picture,
	})
	switch {
	case errors.Is(err, users.ErrConflict):
		h.logger.Warn("concurrent registration for google account", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "User with this Google ID already exists"})
		return
	case errors.Is(err, users.ErrInvalidIdentity):
		badRequest(c, "Token has no subject")
		return
	case err != nil:
		h.logger.Error("failed to find or create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find or create user"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(user.GoogleID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create JWT token"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		User:      newUserResponse(user),
		Token:     token,
		ExpiresIn: expiresIn,
	})
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": missingAuthorizationMessage})
		return
	}
	c.JSON(http.StatusOK, newUserResponse(*user))
}
