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

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `id, sender_id, content, channel_id, conversation_id, message_type, seq, created_at, edited_at, is_deleted, deleted_by`

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	var msgType string
	if err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.Content,
		&m.ChannelID,
		&m.ConversationID,
		&msgType,
		&m.Seq,
		&m.CreatedAt,
		&m.EditedAt,
		&m.IsDeleted,
		&m.DeletedBy,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}
	m.Type = models.MessageType(msgType)
	return m, nil
}

func targetColumn(t models.TargetType) (string, error) {
	switch t {
	case models.TargetChannel:
		return "channel_id", nil
	case models.TargetDirect:
		return "conversation_id", nil
	}
	return "", fmt.Errorf("unknown target type %q", t)
}

// Append commits msg as the next message of its target. A transaction-scoped
// advisory lock on the target id serializes writers across processes, so seq
// and created_at increase in commit order.
func (r *MessageRepository) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	targetType, targetID := msg.Target()
	column, err := targetColumn(targetType)
	if err != nil {
		return models.Message{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return models.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, targetID); err != nil {
		return models.Message{}, fmt.Errorf("lock target: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO messages (
			id, sender_id, content, channel_id, conversation_id, message_type, seq, created_at, is_deleted
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE %[1]s = $7),
			GREATEST(clock_timestamp(), (SELECT MAX(created_at) + interval '1 microsecond' FROM messages WHERE %[1]s = $7)),
			FALSE
		)
		RETURNING seq, created_at
	`, column)

	if err := tx.QueryRow(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.Content,
		msg.ChannelID,
		msg.ConversationID,
		string(msg.Type),
		targetID,
	).Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if targetType == models.TargetDirect {
		const touch = `UPDATE direct_conversations SET last_message_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, touch, targetID, msg.CreatedAt); err != nil {
			return models.Message{}, fmt.Errorf("touch conversation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.pool.QueryRow(ctx, query, id))
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id string, content string, editedAt time.Time) (models.Message, error) {
	query := `
		UPDATE messages SET content = $2, edited_at = $3
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + messageColumns
	return scanMessage(r.pool.QueryRow(ctx, query, id, content, editedAt))
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string, deletedBy string) (models.Message, error) {
	query := `
		UPDATE messages SET is_deleted = TRUE, deleted_by = $2
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + messageColumns
	return scanMessage(r.pool.QueryRow(ctx, query, id, deletedBy))
}

// ListAfter returns non-deleted messages created after the watermark, oldest first.
// A limit of zero means no limit.
func (r *MessageRepository) ListAfter(ctx context.Context, targetType models.TargetType, targetID string, after time.Time, limit int) ([]models.Message, error) {
	column, err := targetColumn(targetType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s = $1 AND is_deleted = FALSE AND created_at > $2
		ORDER BY seq ASC
		LIMIT $3
	`, messageColumns, column)

	var lim any
	if limit > 0 {
		lim = limit
	}
	return r.list(ctx, query, targetID, after, lim)
}

// ListRecent returns up to limit messages before the optional cursor, oldest first.
func (r *MessageRepository) ListRecent(ctx context.Context, targetType models.TargetType, targetID string, before *time.Time, limit int, includeDeleted bool) ([]models.Message, error) {
	column, err := targetColumn(targetType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %s FROM messages
			WHERE %s = $1
			  AND ($2::timestamptz IS NULL OR created_at < $2)
			  AND ($4 OR is_deleted = FALSE)
			ORDER BY seq DESC
			LIMIT $3
		) recent
		ORDER BY seq ASC
	`, messageColumns, column)

	return r.list(ctx, query, targetID, before, limit, includeDeleted)
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
