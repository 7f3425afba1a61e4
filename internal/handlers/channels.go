package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dankerchat/backend/internal/models"
)

type membershipResponse struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	Muted     bool   `json:"muted"`
}

func newMembershipResponse(m models.Membership) membershipResponse {
	return membershipResponse{ChannelID: m.ChannelID, UserID: m.UserID, Role: m.Role.String(), Muted: m.Muted}
}

func (h HandlerSet) JoinChannel(c *gin.Context) {
	m, err := h.chat.Enroll(c.Request.Context(), currentUser(c).ID, c.Param("channelId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"membership": newMembershipResponse(m)})
}

func (h HandlerSet) LeaveChannel(c *gin.Context) {
	if err := h.chat.Withdraw(c.Request.Context(), currentUser(c).ID, c.Param("channelId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) KickMember(c *gin.Context) {
	if err := h.chat.Kick(c.Request.Context(), currentUser(c).ID, c.Param("channelId"), c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type memberAction func(ctx context.Context, actorID, channelID, targetUserID string) (models.Membership, error)

func (h HandlerSet) memberUpdate(c *gin.Context, action memberAction) {
	m, err := action(c.Request.Context(), currentUser(c).ID, c.Param("channelId"), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": newMembershipResponse(m)})
}

func (h HandlerSet) PromoteMember(c *gin.Context) { h.memberUpdate(c, h.chat.Promote) }

func (h HandlerSet) DemoteMember(c *gin.Context) { h.memberUpdate(c, h.chat.Demote) }

func (h HandlerSet) MuteMember(c *gin.Context) { h.memberUpdate(c, h.chat.Mute) }

func (h HandlerSet) UnmuteMember(c *gin.Context) { h.memberUpdate(c, h.chat.Unmute) }
