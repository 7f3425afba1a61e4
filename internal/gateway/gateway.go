// Package gateway is the websocket transport in front of the chat service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/chat"
	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
)

// Inbound event names.
const (
	EventJoinChannel  = "join_channel"
	EventLeaveChannel = "leave_channel"
	EventSendMessage  = "send_message"
	EventStartTyping  = "start_typing"
	EventStopTyping   = "stop_typing"
)

type Sessions interface {
	Validate(ctx context.Context, token string) (models.Session, error)
}

type Users interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

type Gateway struct {
	sessions Sessions
	users    Users
	chat     *chat.Service
	registry *realtime.Registry
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func New(sessions Sessions, users Users, svc *chat.Service, registry *realtime.Registry, cfg config.RealtimeConfig, log zerolog.Logger) *Gateway {
	g := &Gateway{
		sessions: sessions,
		users:    users,
		chat:     svc,
		registry: registry,
		cfg:      cfg,
		log:      log.With().Str("component", "gateway").Logger(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin allows any origin when none are configured, and requests without an Origin header.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectedPayload struct {
	User      models.Profile `json:"user"`
	SessionID string         `json:"session_id"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type joinRequest struct {
	ChannelID            string     `json:"channel_id"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp"`
}

type sendRequest struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Content  string `json:"content"`
	TempID   string `json:"temp_id"`
}

type typingRequest struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// Handle authenticates the request, upgrades it and serves the connection
// until the client goes away or its session is revoked.
func (g *Gateway) Handle(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
		return
	}

	session, err := g.sessions.Validate(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	user, err := g.users.GetByID(c.Request.Context(), session.UserID)
	if err != nil || !user.IsActive {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_inactive"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConn(ws, g.cfg.OutboundBuffer)
	conn.Start()

	client := realtime.Client{
		UserID:    user.ID,
		SessionID: session.ID,
		Profile:   user.Profile(),
		ExpiresAt: session.ExpiresAt,
	}
	if err := g.registry.Register(conn, client); err != nil {
		conn.Close(websocket.CloseTryAgainLater, "server unavailable")
		return
	}
	defer func() {
		g.chat.Disconnect(conn.ID())
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	logger := g.log.With().Str("conn_id", conn.ID()).Str("user_id", user.ID).Logger()
	logger.Debug().Msg("connection opened")

	g.emit(conn, chat.EventConnected, connectedPayload{
		User:      client.Profile,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	})

	conn.PrepareRead(g.cfg.ReadLimit, g.cfg.PongWait)
	ctx := c.Request.Context()
	for {
		data, err := conn.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug().Err(err).Msg("connection read ended")
			}
			return
		}
		if !g.dispatch(ctx, conn, data, logger) {
			return
		}
	}
}

// dispatch handles one inbound frame and reports whether the connection should stay open.
func (g *Gateway) dispatch(ctx context.Context, conn *realtime.Conn, data []byte, logger zerolog.Logger) (keep bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("event handler panicked")
			g.emit(conn, chat.EventError, &chat.Rejection{Code: chat.CodeInternal, Message: "internal error"})
			keep = true
		}
	}()

	if err := g.chat.CheckConnection(conn.ID()); err != nil {
		g.fail(conn, err)
		return false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		g.emit(conn, chat.EventError, &chat.Rejection{Code: chat.CodeValidation, Message: "invalid payload"})
		return true
	}

	var err error
	switch env.Event {
	case EventJoinChannel:
		var req joinRequest
		if err = decode(env.Data, &req); err == nil {
			var res chat.JoinResult
			if res, err = g.chat.Join(ctx, conn.ID(), req.ChannelID, req.LastMessageTimestamp); err == nil {
				g.emit(conn, chat.EventChannelJoined, res)
			}
		}
	case EventLeaveChannel:
		var req joinRequest
		if err = decode(env.Data, &req); err == nil {
			var res chat.ChannelLeft
			if res, err = g.chat.Leave(ctx, conn.ID(), req.ChannelID); err == nil {
				g.emit(conn, chat.EventChannelLeft, res)
			}
		}
	case EventSendMessage:
		var req sendRequest
		if err = decode(env.Data, &req); err == nil {
			// The ack is delivered by the service ahead of fanout.
			_, err = g.chat.Send(ctx, chat.SendRequest{
				ConnID:     conn.ID(),
				TargetType: req.Type,
				TargetID:   req.TargetID,
				Content:    req.Content,
				TempID:     req.TempID,
			})
		}
	case EventStartTyping, EventStopTyping:
		var req typingRequest
		if err = decode(env.Data, &req); err == nil {
			if env.Event == EventStartTyping {
				err = g.chat.StartTyping(ctx, conn.ID(), req.Type, req.TargetID)
			} else {
				err = g.chat.StopTyping(ctx, conn.ID(), req.Type, req.TargetID)
			}
		}
	default:
		err = &chat.Rejection{Code: chat.CodeValidation, Message: "unknown event " + env.Event}
	}

	if err != nil {
		return g.fail(conn, err)
	}
	return true
}

// fail reports err to the client. Authentication failures also end the connection.
func (g *Gateway) fail(conn *realtime.Conn, err error) bool {
	rej := chat.AsRejection(err)
	g.emit(conn, chat.EventError, rej)
	if rej.Code == chat.CodeNotAuthenticated {
		conn.Close(realtime.CloseSessionRevoked, rej.Message)
		return false
	}
	return true
}

// emit writes straight to the connection so replies still reach a client
// that has just been unregistered.
func (g *Gateway) emit(conn *realtime.Conn, name string, data any) {
	payload, err := json.Marshal(realtime.Event{Name: name, Data: data})
	if err != nil {
		g.log.Error().Err(err).Str("event", name).Msg("encode event failed")
		return
	}
	_ = conn.Send(payload)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &chat.Rejection{Code: chat.CodeValidation, Message: "data is required"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &chat.Rejection{Code: chat.CodeValidation, Message: "invalid payload"}
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}
