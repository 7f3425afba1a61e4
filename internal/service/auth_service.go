package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/repository"
	"dankerchat/backend/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
	ErrInvalidInterface   = errors.New("invalid interface")
)

type Credentials interface {
	FindByUsername(ctx context.Context, username string) (models.User, error)
}

type SessionIssuer interface {
	Create(ctx context.Context, userID string, iface models.InterfaceKind, ttl time.Duration) (models.Session, string, error)
}

type AuthService struct {
	users    Credentials
	sessions SessionIssuer
	log      zerolog.Logger

	// dummyHash keeps unknown usernames as slow as wrong passwords.
	dummyHash []byte
}

func NewAuthService(users Credentials, sessions SessionIssuer, log zerolog.Logger) (*AuthService, error) {
	dummy, err := security.HashPassword("dankerchat-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		log:       log.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}, nil
}

type LoginInput struct {
	Username  string
	Password  string
	Interface string
	TTL       time.Duration
	IPAddress string
}

type AuthResult struct {
	Token   string
	Session models.Session
	User    models.User
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	iface, err := models.ParseInterfaceKind(input.Interface)
	if err != nil {
		return AuthResult{}, ErrInvalidInterface
	}

	username := strings.TrimSpace(strings.ToLower(input.Username))
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = security.VerifyPassword(input.Password, s.dummyHash)
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		s.log.Info().Str("username", username).Str("ip", input.IPAddress).Msg("login failed")
		return AuthResult{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return AuthResult{}, ErrUserSuspended
	}

	session, token, err := s.sessions.Create(ctx, user.ID, iface, input.TTL)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("session_id", session.ID).
		Str("interface", string(iface)).
		Msg("session opened")

	return AuthResult{Token: token, Session: session, User: user}, nil
}
