package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dankerchat/backend/internal/ids"
	"dankerchat/backend/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("conversation needs two distinct participants")
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.Participant1, &c.Participant2, &c.CreatedAt, &c.LastMessageAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, err
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (models.Conversation, error) {
	const query = `
		SELECT id, participant1, participant2, created_at, last_message_at
		FROM direct_conversations
		WHERE id = $1
	`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

// FindOrCreate returns the single conversation for the unordered pair, creating it if needed.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, userA, userB string) (models.Conversation, error) {
	if userA == userB {
		return models.Conversation{}, ErrSelfConversation
	}
	p1, p2 := models.CanonicalPair(userA, userB)

	// The no-op update makes RETURNING yield the existing row on conflict.
	const query = `
		INSERT INTO direct_conversations (id, participant1, participant2, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (participant1, participant2)
		DO UPDATE SET participant1 = EXCLUDED.participant1
		RETURNING id, participant1, participant2, created_at, last_message_at
	`
	return scanConversation(r.pool.QueryRow(ctx, query, ids.New(), p1, p2))
}
