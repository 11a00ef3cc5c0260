package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/leaderboard"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := h.leaderboard.Rank(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to fetch leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch leaderboard"})
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleLeaderboardPosition(c *gin.Context) {
	entry, err := h.leaderboard.PositionOf(c.Request.Context(), c.Param("id"))
	if errors.Is(err, leaderboard.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch user leaderboard position", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user position"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
