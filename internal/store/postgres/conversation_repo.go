package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ConversationRepository implements conversation.Store for PostgreSQL.
type ConversationRepository struct {
	q Querier
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(q Querier) *ConversationRepository {
	return &ConversationRepository{q: q}
}

// Get returns a conversation by id.
func (r *ConversationRepository) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	query := `
		SELECT id, question, owner_uid, COALESCE(new_uid, ''), old_uids, random_ids,
		       pending, pending_messages, created_at, modified_at
		FROM conversations
		WHERE id = $1
	`

	var c conversation.Conversation
	var ownerUID, newUID string
	var oldUIDs []string
	var randomIDs []int64
	var pendingJSON []byte

	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Question, &ownerUID, &newUID, &oldUIDs, &randomIDs,
		&c.Pending, &pendingJSON, &c.CreatedAt, &c.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	c.OwnerUID = user.UID(ownerUID)
	c.NewUID = user.UID(newUID)
	for _, u := range oldUIDs {
		c.OldUIDs = append(c.OldUIDs, user.UID(u))
	}
	for _, s := range randomIDs {
		c.RandomIDs = append(c.RandomIDs, user.SequenceID(s))
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &c.PendingMessages); err != nil {
			return nil, fmt.Errorf("failed to decode pending messages: %w", err)
		}
	}
	return &c, nil
}

// Put creates or replaces a conversation document.
func (r *ConversationRepository) Put(ctx context.Context, c *conversation.Conversation) error {
	oldUIDs := make([]string, len(c.OldUIDs))
	for i, u := range c.OldUIDs {
		oldUIDs[i] = u.String()
	}
	randomIDs := make([]int64, len(c.RandomIDs))
	for i, s := range c.RandomIDs {
		randomIDs[i] = int64(s)
	}
	pendingJSON, err := json.Marshal(c.PendingMessages)
	if err != nil {
		return fmt.Errorf("failed to encode pending messages: %w", err)
	}

	query := `
		INSERT INTO conversations (id, question, owner_uid, new_uid, old_uids, random_ids,
		                           pending, pending_messages, created_at, modified_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			new_uid = EXCLUDED.new_uid,
			old_uids = EXCLUDED.old_uids,
			random_ids = EXCLUDED.random_ids,
			pending = EXCLUDED.pending,
			pending_messages = EXCLUDED.pending_messages,
			modified_at = EXCLUDED.modified_at
	`

	_, err = r.q.Exec(ctx, query,
		c.ID, c.Question, c.OwnerUID.String(), c.NewUID.String(),
		oldUIDs, randomIDs, c.Pending, pendingJSON, c.CreatedAt, c.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put conversation: %w", err)
	}
	return nil
}

// Delete removes the conversation; messages go with it via ON DELETE CASCADE.
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ListIdle returns ids of non-pending conversations idle since olderThan but
// modified after newerThan (the legacy-data cutoff).
func (r *ConversationRepository) ListIdle(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM conversations
		WHERE pending = FALSE AND modified_at < $1 AND modified_at > $2
		ORDER BY modified_at
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, olderThan, newerThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query idle conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Messages returns all messages ordered by timestamp.
func (r *ConversationRepository) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	query := `
		SELECT id, body, author_uid, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at, id
	`

	rows, err := r.q.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var author string
		if err := rows.Scan(&m.ID, &m.Text, &author, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.AuthorUID = user.UID(author)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpsertMessage writes a message keyed by its caller-supplied id. Redelivery
// of the same id overwrites in place instead of duplicating.
func (r *ConversationRepository) UpsertMessage(ctx context.Context, conversationID string, m conversation.Message) error {
	query := `
		INSERT INTO messages (conversation_id, id, body, author_uid, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, id) DO UPDATE SET
			body = EXCLUDED.body,
			sent_at = EXCLUDED.sent_at
	`

	_, err := r.q.Exec(ctx, query, conversationID, m.ID, m.Text, m.AuthorUID.String(), m.SentAt)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// DeleteMessages removes every message of a conversation.
func (r *ConversationRepository) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
