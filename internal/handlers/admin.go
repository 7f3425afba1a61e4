package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dankerchat/backend/internal/repository"
)

// AdminRevokeUserSessions signs a user out everywhere and drops their live connections.
func (h HandlerSet) AdminRevokeUserSessions(c *gin.Context) {
	userID := c.Param("userId")
	if _, err := h.users.GetByID(c.Request.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	n, err := h.sessions.RevokeAll(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("admin revoke failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	h.log.Warn().
		Str("actor_id", currentUser(c).ID).
		Str("user_id", userID).
		Int("sessions", n).
		Msg("sessions revoked by admin")
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
