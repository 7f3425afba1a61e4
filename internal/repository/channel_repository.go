package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dankerchat/backend/internal/models"
)

var (
	ErrChannelNotFound    = errors.New("channel not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrAlreadyMember      = errors.New("already a member")
	ErrChannelFull        = errors.New("channel is full")
)

// ChannelRepository reads channel metadata and owns membership rows.
// Channel rows themselves are managed elsewhere.
type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (models.Channel, error) {
	const query = `
		SELECT c.id, c.name, c.display_name, c.is_private, c.is_archived, c.max_members,
		       (SELECT COUNT(*) FROM channel_memberships m WHERE m.channel_id = c.id)
		FROM channels c
		WHERE c.id = $1
	`
	var ch models.Channel
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ch.ID,
		&ch.Name,
		&ch.DisplayName,
		&ch.IsPrivate,
		&ch.IsArchived,
		&ch.MaxMembers,
		&ch.MemberCount,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Channel{}, ErrChannelNotFound
		}
		return models.Channel{}, err
	}
	return ch, nil
}

func scanMembership(row pgx.Row) (models.Membership, error) {
	var m models.Membership
	var role string
	if err := row.Scan(&m.ChannelID, &m.UserID, &m.JoinedAt, &role, &m.Muted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Membership{}, ErrMembershipNotFound
		}
		return models.Membership{}, err
	}
	parsed, err := models.ParseMemberRole(role)
	if err != nil {
		return models.Membership{}, err
	}
	m.Role = parsed
	return m, nil
}

func (r *ChannelRepository) GetMembership(ctx context.Context, channelID, userID string) (models.Membership, error) {
	const query = `
		SELECT channel_id, user_id, joined_at, role, is_muted
		FROM channel_memberships
		WHERE channel_id = $1 AND user_id = $2
	`
	return scanMembership(r.pool.QueryRow(ctx, query, channelID, userID))
}

// AddMember inserts a membership row. The channel row is locked for the
// duration so max_members holds under concurrent joins; zero means unlimited.
func (r *ChannelRepository) AddMember(ctx context.Context, m models.Membership) error {
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxMembers, count int
	if err := tx.QueryRow(ctx, `SELECT max_members FROM channels WHERE id = $1 FOR UPDATE`, m.ChannelID).Scan(&maxMembers); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChannelNotFound
		}
		return fmt.Errorf("lock channel: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM channel_memberships WHERE channel_id = $1`, m.ChannelID).Scan(&count); err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if maxMembers > 0 && count >= maxMembers {
		return ErrChannelFull
	}

	const insert = `
		INSERT INTO channel_memberships (channel_id, user_id, joined_at, role, is_muted)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`
	cmd, err := tx.Exec(ctx, insert, m.ChannelID, m.UserID, joined, m.Role.String(), m.Muted)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyMember
	}
	return tx.Commit(ctx)
}

func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID string) error {
	const query = `DELETE FROM channel_memberships WHERE channel_id = $1 AND user_id = $2`
	return r.execOne(ctx, query, channelID, userID)
}

func (r *ChannelRepository) UpdateRole(ctx context.Context, channelID, userID string, role models.MemberRole) error {
	const query = `UPDATE channel_memberships SET role = $3 WHERE channel_id = $1 AND user_id = $2`
	return r.execOne(ctx, query, channelID, userID, role.String())
}

func (r *ChannelRepository) SetMuted(ctx context.Context, channelID, userID string, muted bool) error {
	const query = `UPDATE channel_memberships SET is_muted = $3 WHERE channel_id = $1 AND user_id = $2`
	return r.execOne(ctx, query, channelID, userID, muted)
}

func (r *ChannelRepository) CountByRole(ctx context.Context, channelID string, role models.MemberRole) (int, error) {
	const query = `SELECT COUNT(*) FROM channel_memberships WHERE channel_id = $1 AND role = $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, channelID, role.String()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChannelRepository) execOne(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
