package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/chat"
	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/gateway"
	"dankerchat/backend/internal/middleware"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/service"
	"dankerchat/backend/internal/session"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	PermissionsFor(ctx context.Context, id string) (models.Permissions, error)
}

type Deps struct {
	Log      zerolog.Logger
	Config   *config.AppConfig
	DB       Pinger
	Cache    *redis.Client
	Auth     *service.AuthService
	Sessions *session.Store
	Users    UserDirectory
	Chat     *chat.Service
	Gateway  *gateway.Gateway
	Registry *realtime.Registry
	Limiter  *middleware.RateLimiter
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	db       Pinger
	cache    *redis.Client
	auth     *service.AuthService
	sessions *session.Store
	users    UserDirectory
	chat     *chat.Service
	gateway  *gateway.Gateway
	registry *realtime.Registry
	limiter  *middleware.RateLimiter
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{
		log:      deps.Log,
		cfg:      deps.Config,
		db:       deps.DB,
		cache:    deps.Cache,
		auth:     deps.Auth,
		sessions: deps.Sessions,
		users:    deps.Users,
		chat:     deps.Chat,
		gateway:  deps.Gateway,
		registry: deps.Registry,
		limiter:  deps.Limiter,
	}
}

// RegisterRoot mounts the endpoints that live outside /api.
func (h HandlerSet) RegisterRoot(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", h.gateway.Handle)
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/login", h.limiter.PerIP("login", h.cfg.Security.LoginAttempts, h.cfg.Security.LoginWindow), h.Login)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.sessions, h.users))
		protected.GET("/me", h.Me)
		protected.POST("/logout", h.Logout)
		protected.POST("/logout-all", h.LogoutAll)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:sessionId", h.RevokeSession)
	}

	channels := v1.Group("/channels")
	channels.Use(middleware.Auth(h.sessions, h.users))
	channels.POST("/:channelId/join", h.JoinChannel)
	channels.POST("/:channelId/leave", h.LeaveChannel)
	channels.GET("/:channelId/messages", h.ChannelHistory)
	members := channels.Group("/:channelId/members/:userId")
	members.POST("/kick", h.KickMember)
	members.POST("/promote", h.PromoteMember)
	members.POST("/demote", h.DemoteMember)
	members.POST("/mute", h.MuteMember)
	members.POST("/unmute", h.UnmuteMember)

	conversations := v1.Group("/conversations")
	conversations.Use(middleware.Auth(h.sessions, h.users))
	conversations.GET("/:conversationId/messages", h.ConversationHistory)

	messages := v1.Group("/messages")
	messages.Use(middleware.Auth(h.sessions, h.users))
	messages.PATCH("/:messageId", h.EditMessage)
	messages.DELETE("/:messageId", h.DeleteMessage)

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.sessions, h.users),
		middleware.RequirePermission(h.users, models.PermissionBanUsers),
	)
	admin.POST("/users/:userId/sessions/revoke", h.AdminRevokeUserSessions)
}

// respondError maps a chat rejection onto an HTTP status.
func respondError(c *gin.Context, err error) {
	rej := chat.AsRejection(err)
	c.JSON(statusFor(rej.Code), gin.H{"error": rej.Code, "message": rej.Message})
}

func statusFor(code chat.Code) int {
	switch code {
	case chat.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case chat.CodeNotAuthorized:
		return http.StatusForbidden
	case chat.CodeTargetNotFound:
		return http.StatusNotFound
	case chat.CodeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// currentUser is safe to call behind middleware.Auth only.
func currentUser(c *gin.Context) models.User {
	user, _ := middleware.CurrentUser(c)
	return user
}
