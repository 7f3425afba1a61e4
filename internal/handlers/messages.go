package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dankerchat/backend/internal/models"
)

func (h HandlerSet) ChannelHistory(c *gin.Context) {
	h.history(c, models.TargetChannel, c.Param("channelId"))
}

func (h HandlerSet) ConversationHistory(c *gin.Context) {
	h.history(c, models.TargetDirect, c.Param("conversationId"))
}

// history pages backwards with ?before=<RFC3339>&limit=<n>.
func (h HandlerSet) history(c *gin.Context, kind models.TargetType, targetID string) {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_before"})
			return
		}
		before = &t
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = v
	}

	msgs, err := h.chat.History(c.Request.Context(), currentUser(c).ID, string(kind), targetID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type editRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h HandlerSet) EditMessage(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chat.Edit(c.Request.Context(), currentUser(c).ID, c.Param("messageId"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h HandlerSet) DeleteMessage(c *gin.Context) {
	if err := h.chat.Delete(c.Request.Context(), currentUser(c).ID, c.Param("messageId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
