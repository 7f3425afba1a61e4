// Package session issues, validates and revokes the bearer sessions that
// authenticate HTTP calls and realtime connections.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/ids"
	"dankerchat/backend/internal/metrics"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/repository"
	"dankerchat/backend/internal/security"
)

var ErrInvalidSession = errors.New("invalid or expired session")

type Repository interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	GetByTokenID(ctx context.Context, tokenID string) (models.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Revoke(ctx context.Context, sessionID string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error)
	RevokeOldest(ctx context.Context, userID string, keep int, at time.Time) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time, revokedBefore time.Time) (int64, error)
}

// RevocationListener is told synchronously about every revoked session.
type RevocationListener interface {
	DisconnectSession(sessionID string) int
}

// Broadcaster carries revocations to other processes.
type Broadcaster interface {
	Publish(ctx context.Context, sessionIDs []string) error
}

type Store struct {
	repo   Repository
	tokens *security.TokenIssuer
	cfg    config.SecurityConfig
	log    zerolog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	listeners   []RevocationListener
	broadcaster Broadcaster
}

func NewStore(repo Repository, tokens *security.TokenIssuer, cfg config.SecurityConfig, log zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		tokens: tokens,
		cfg:    cfg,
		log:    log.With().Str("component", "session_store").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) OnRevoke(l RevocationListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// Create mints a session and the bearer token bound to it.
func (s *Store) Create(ctx context.Context, userID string, iface models.InterfaceKind, ttl time.Duration) (models.Session, string, error) {
	now := s.now()
	session := models.Session{
		ID:           ids.New(),
		UserID:       userID,
		TokenID:      ids.New(),
		Interface:    iface,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.cfg.ClampTTL(ttl)),
	}

	token, err := s.tokens.Issue(userID, session.ID, session.TokenID, string(iface), session.ExpiresAt)
	if err != nil {
		return models.Session{}, "", err
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return models.Session{}, "", fmt.Errorf("create session: %w", err)
	}

	if s.cfg.MaxSessions > 0 {
		evicted, err := s.repo.RevokeOldest(ctx, userID, s.cfg.MaxSessions, now)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("enforce session limit failed")
		} else {
			s.notify(ctx, evicted)
		}
	}

	return session, token, nil
}

// Validate resolves a bearer token to its active session and refreshes last_active.
func (s *Store) Validate(ctx context.Context, token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrInvalidSession
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.Session{}, ErrInvalidSession
	}

	session, err := s.repo.GetByTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return models.Session{}, ErrInvalidSession
		}
		return models.Session{}, fmt.Errorf("lookup session: %w", err)
	}

	now := s.now()
	if session.UserID != claims.UserID || !session.Active(now) {
		return models.Session{}, ErrInvalidSession
	}

	if err := s.repo.Touch(ctx, session.ID, now); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("touch session failed")
	} else {
		session.LastActiveAt = now
	}
	return session, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (models.Session, error) {
	return s.repo.GetByID(ctx, sessionID)
}

func (s *Store) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

// Revoke ends one session and disconnects everything bound to it.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	if err := s.repo.Revoke(ctx, sessionID, s.now()); err != nil {
		return err
	}
	s.notify(ctx, []string{sessionID})
	return nil
}

// RevokeAll ends every live session of a user. Used for logout-all,
// password changes and role changes.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	revoked, err := s.repo.RevokeAllByUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	s.notify(ctx, revoked)
	return len(revoked), nil
}

// SweepExpired deletes expired sessions and revoked ones past retention.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.repo.DeleteExpired(ctx, now, now.Add(-s.cfg.RevokedRetention))
	if err != nil {
		return 0, err
	}
	metrics.SessionsSwept.Add(float64(n))
	return int(n), nil
}

// DisconnectLocal applies a revocation that was published by another node.
func (s *Store) DisconnectLocal(sessionID string) {
	for _, l := range s.snapshotListeners() {
		l.DisconnectSession(sessionID)
	}
}

func (s *Store) notify(ctx context.Context, sessionIDs []string) {
	if len(sessionIDs) == 0 {
		return
	}
	metrics.SessionsRevoked.Add(float64(len(sessionIDs)))

	for _, id := range sessionIDs {
		s.DisconnectLocal(id)
	}

	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b == nil {
		return
	}
	if err := b.Publish(ctx, sessionIDs); err != nil {
		s.log.Error().Err(err).Int("sessions", len(sessionIDs)).Msg("broadcast revocation failed")
	}
}

func (s *Store) snapshotListeners() []RevocationListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RevocationListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
