package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dankerchat/backend/internal/middleware"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/repository"
	"dankerchat/backend/internal/service"
)

type loginRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Interface  string `json:"interface"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type authResponse struct {
	Token     string         `json:"token"`
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      models.Profile `json:"user"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		Interface: req.Interface,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInterface):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_interface"})
		case errors.Is(err, service.ErrUserSuspended):
			c.JSON(http.StatusForbidden, gin.H{"error": "user_suspended"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		default:
			h.log.Error().Err(err).Msg("login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		}
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Token:     result.Token,
		SessionID: result.Session.ID,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.User.Profile(),
	})
}

func (h HandlerSet) Me(c *gin.Context) {
	user := currentUser(c)
	session, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"user":      user.Profile(),
		"sessionId": session.ID,
		"expiresAt": session.ExpiresAt,
	})
}

func (h HandlerSet) Logout(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	if err := h.sessions.Revoke(c.Request.Context(), session.ID); err != nil {
		h.log.Error().Err(err).Str("session_id", session.ID).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	user := currentUser(c)
	n, err := h.sessions.RevokeAll(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("logout-all failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

type sessionResponse struct {
	ID           string    `json:"id"`
	Interface    string    `json:"interface"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	user := currentUser(c)
	current, _ := middleware.CurrentSession(c)

	sessions, err := h.sessions.ListActive(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse{
			ID:           s.ID,
			Interface:    string(s.Interface),
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.ID == current.ID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	user := currentUser(c)
	sessionID := c.Param("sessionId")

	target, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("load session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}
	// Other users' sessions look exactly like missing ones.
	if target.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("revoke session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}
	c.Status(http.StatusNoContent)
}
