package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dankerchat/backend/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, token_id, interface, created_at, last_active_at, expires_at, revoked, revoked_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var session models.Session
	var iface string
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenID,
		&iface,
		&session.CreatedAt,
		&session.LastActiveAt,
		&session.ExpiresAt,
		&session.Revoked,
		&session.RevokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	session.Interface = models.InterfaceKind(iface)
	return session, nil
}

func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO user_sessions (
			id, user_id, token_id, interface, created_at, last_active_at, expires_at, revoked
		) VALUES (
			$1, $2, $3, $4, $5, $5, $6, FALSE
		)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenID,
		string(session.Interface),
		session.CreatedAt,
		session.ExpiresAt,
	)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByTokenID(ctx context.Context, tokenID string) (models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE token_id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, tokenID))
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY last_active_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	const query = `UPDATE user_sessions SET last_active_at = $2 WHERE id = $1 AND revoked = FALSE`
	_, err := r.pool.Exec(ctx, query, sessionID, at)
	return err
}

// Revoke marks one session revoked. Revoking an already revoked session is not an error.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	const query = `
		UPDATE user_sessions
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllByUser revokes every live session of the user and returns their ids.
func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	const query = `
		UPDATE user_sessions
		SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE
		RETURNING id
	`
	return r.collectIDs(ctx, query, userID, at)
}

// RevokeOldest keeps the keep most recently active live sessions and revokes the rest.
func (r *SessionRepository) RevokeOldest(ctx context.Context, userID string, keep int, at time.Time) ([]string, error) {
	const query = `
		UPDATE user_sessions
		SET revoked = TRUE, revoked_at = $3
		WHERE id IN (
			SELECT id FROM user_sessions
			WHERE user_id = $1 AND revoked = FALSE AND expires_at > $3
			ORDER BY last_active_at DESC
			OFFSET $2
		)
		RETURNING id
	`
	return r.collectIDs(ctx, query, userID, keep, at)
}

// DeleteExpired removes sessions past expiry and revoked sessions older than revokedBefore.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time, revokedBefore time.Time) (int64, error) {
	const query = `
		DELETE FROM user_sessions
		WHERE expires_at <= $1 OR (revoked = TRUE AND revoked_at < $2)
	`
	cmd, err := r.pool.Exec(ctx, query, now, revokedBefore)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
