package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository is the append-only message log with its mutable overlay
// (delivered_to, read_by, reactions, deleted_for). Overlay mutations are
// single atomic statements or row-locked transactions, so concurrent updates
// to the same message merge instead of overwriting each other.
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const msgCols = `m.id, m.sender_id, m.target_id, m.body, m.is_group, m.created_at,
	        m.delivered_to, m.read_by, m.deleted_for,
	        u.id, u.name, u.about, u.avatar_url`

func scanMessage(s interface{ Scan(dest ...any) error }) (*model.Message, error) {
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.SenderID, &m.TargetID, &m.Body, &m.IsGroup, &m.CreatedAt,
		&m.DeliveredTo, &m.ReadBy, &m.DeletedFor,
		&sender.ID, &sender.Name, &sender.About, &sender.AvatarURL)
	if err != nil {
		return nil, err
	}
	m.Sender = sender
	return m, nil
}

// Append persists a new message. Overlay fields are stored as given
// (delivered_to may carry the online snapshot computed by the router).
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, target_id, body, is_group, created_at, delivered_to, read_by, deleted_for)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'), COALESCE($8, '{}'), COALESCE($9, '{}'))`,
		m.ID, m.SenderID, m.TargetID, m.Body, m.IsGroup, m.CreatedAt,
		m.DeliveredTo, m.ReadBy, m.DeletedFor,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	return nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.FindByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.FindByID: %w", err)
	}
	if err := r.attachReactions(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// FindForChat returns the chat history visible to requesterID, oldest first.
// Messages soft-deleted for the requester are excluded.
func (r *MessageRepository) FindForChat(ctx context.Context, chatID string, isGroup bool, requesterID string) ([]*model.Message, error) {
	defer logger.DeferLogDuration("msg.FindForChat", time.Now())()
	var (
		rows pgx.Rows
		err  error
	)
	if isGroup {
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgCols+`
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.is_group AND m.target_id = $1 AND NOT ($2 = ANY(m.deleted_for))
			 ORDER BY m.created_at`, chatID, requesterID)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgCols+`
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE NOT m.is_group
			   AND ((m.sender_id = $1 AND m.target_id = $2) OR (m.sender_id = $2 AND m.target_id = $1))
			   AND NOT ($2 = ANY(m.deleted_for))
			 ORDER BY m.created_at`, chatID, requesterID)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.FindForChat query: %w", err)
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0, 64)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.FindForChat scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.FindForChat rows: %w", err)
	}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkChatRead adds readerID to read_by and delivered_to of every message in
// the chat the reader has not read yet (read implies delivered). The guard on
// read_by makes repeated calls no-ops, and array membership checks keep both
// sets free of duplicates, so the sets only ever grow.
func (r *MessageRepository) MarkChatRead(ctx context.Context, chatID string, isGroup bool, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkChatRead", time.Now())()
	var err error
	if isGroup {
		_, err = r.pool.Exec(ctx,
			`UPDATE messages
			 SET read_by = array_append(read_by, $2),
			     delivered_to = CASE WHEN $2 = ANY(delivered_to) THEN delivered_to
			                         ELSE array_append(delivered_to, $2) END
			 WHERE is_group AND target_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))`,
			chatID, readerID)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE messages
			 SET read_by = array_append(read_by, $2),
			     delivered_to = CASE WHEN $2 = ANY(delivered_to) THEN delivered_to
			                         ELSE array_append(delivered_to, $2) END
			 WHERE NOT is_group AND sender_id = $1 AND target_id = $2 AND NOT ($2 = ANY(read_by))`,
			chatID, readerID)
	}
	if err != nil {
		return fmt.Errorf("msgRepo.MarkChatRead: %w", err)
	}
	return nil
}

// ToggleReaction applies the single-reaction-per-user rule under a row lock:
// no existing reaction adds one, the same emoji removes it, a different emoji
// replaces it. Returns the full recomputed reaction set.
func (r *MessageRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("msg.ToggleReaction", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction check: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT emoji FROM message_reactions
		 WHERE message_id = $1 AND user_id = $2 FOR UPDATE`,
		messageID, userID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			 VALUES ($1, $2, $3, $4)`,
			messageID, userID, emoji, time.Now().UTC())
	case err != nil:
		return nil, fmt.Errorf("msgRepo.ToggleReaction select: %w", err)
	case current == emoji:
		_, err = tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
			messageID, userID)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE message_reactions SET emoji = $3 WHERE message_id = $1 AND user_id = $2`,
			messageID, userID, emoji)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction mutate: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id, emoji FROM message_reactions
		 WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction reload: %w", err)
	}
	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.UserID, &rc.Emoji); err != nil {
			rows.Close()
			return nil, fmt.Errorf("msgRepo.ToggleReaction scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction commit: %w", err)
	}
	return reactions, nil
}

// SoftDelete hides the message for one user only.
func (r *MessageRepository) SoftDelete(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_for = array_append(deleted_for, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(deleted_for))`, id, userID)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// SoftDeleteChat hides every message of the chat for one user (clear chat).
func (r *MessageRepository) SoftDeleteChat(ctx context.Context, chatID string, isGroup bool, userID string) error {
	defer logger.DeferLogDuration("msg.SoftDeleteChat", time.Now())()
	var err error
	if isGroup {
		_, err = r.pool.Exec(ctx,
			`UPDATE messages SET deleted_for = array_append(deleted_for, $2)
			 WHERE is_group AND target_id = $1 AND NOT ($2 = ANY(deleted_for))`,
			chatID, userID)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE messages SET deleted_for = array_append(deleted_for, $2)
			 WHERE NOT is_group
			   AND ((sender_id = $2 AND target_id = $1) OR (sender_id = $1 AND target_id = $2))
			   AND NOT ($2 = ANY(deleted_for))`,
			chatID, userID)
	}
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDeleteChat: %w", err)
	}
	return nil
}

// DeleteByID discards the message record entirely (hard delete);
// reactions follow via FK cascade.
func (r *MessageRepository) DeleteByID(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.DeleteByID", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteByID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForGroup removes every message of a group (group deletion cascade).
func (r *MessageRepository) DeleteForGroup(ctx context.Context, groupID string) error {
	defer logger.DeferLogDuration("msg.DeleteForGroup", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE is_group AND target_id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteForGroup: %w", err)
	}
	return nil
}

// attachReactions loads reaction sets for the given messages in one query.
func (r *MessageRepository) attachReactions(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji FROM message_reactions
		 WHERE message_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("msgRepo.attachReactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var rc model.Reaction
		if err := rows.Scan(&msgID, &rc.UserID, &rc.Emoji); err != nil {
			return fmt.Errorf("msgRepo.attachReactions scan: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Reactions = append(m.Reactions, rc)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.attachReactions rows: %w", err)
	}
	return nil
}
