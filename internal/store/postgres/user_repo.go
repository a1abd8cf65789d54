package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// UserRepository implements user.Directory for PostgreSQL. It is bound to a
// Querier so the same code serves both transactional and auto-commit access.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a user by uid.
func (r *UserRepository) Get(ctx context.Context, uid user.UID) (*user.User, error) {
	query := `
		SELECT id, sequence_id, rating, COALESCE(notification_token, ''),
		       credential_hash, disabled, created_at
		FROM users
		WHERE id = $1
	`

	var u user.User
	var id string
	var seq int64
	err := r.q.QueryRow(ctx, query, uid.String()).Scan(
		&id, &seq, &u.Rating, &u.NotificationToken,
		&u.CredentialHash, &u.Disabled, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.ID = user.UID(id)
	u.SequenceID = user.SequenceID(seq)
	return &u, nil
}

// Insert creates a new user record.
func (r *UserRepository) Insert(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (id, sequence_id, rating, notification_token, credential_hash, disabled, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		u.ID.String(),
		int64(u.SequenceID),
		u.Rating,
		u.NotificationToken,
		u.CredentialHash,
		u.Disabled,
		u.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// SetNotificationToken stores or clears the push token.
func (r *UserRepository) SetNotificationToken(ctx context.Context, uid user.UID, token string) error {
	query := `UPDATE users SET notification_token = NULLIF($2, '') WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, uid.String(), token)
	if err != nil {
		return fmt.Errorf("failed to set notification token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// Disable irreversibly disables the account.
func (r *UserRepository) Disable(ctx context.Context, uid user.UID) error {
	query := `UPDATE users SET disabled = TRUE WHERE id = $1`

	if _, err := r.q.Exec(ctx, query, uid.String()); err != nil {
		return fmt.Errorf("failed to disable user: %w", err)
	}
	return nil
}

// BySequenceIDs resolves users for a batch of rotation ids.
func (r *UserRepository) BySequenceIDs(ctx context.Context, seqs []user.SequenceID) ([]*user.User, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(seqs))
	for i, s := range seqs {
		ids[i] = int64(s)
	}

	query := `
		SELECT id, sequence_id, rating, COALESCE(notification_token, ''),
		       credential_hash, disabled, created_at
		FROM users
		WHERE sequence_id = ANY($1)
		ORDER BY sequence_id
	`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by sequence ids: %w", err)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		var u user.User
		var id string
		var seq int64
		if err := rows.Scan(&id, &seq, &u.Rating, &u.NotificationToken,
			&u.CredentialHash, &u.Disabled, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		u.ID = user.UID(id)
		u.SequenceID = user.SequenceID(seq)
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Global stats
// ─────────────────────────────────────────────────────────────────────────────

// Stats reads the singleton rotation record.
func (r *UserRepository) Stats(ctx context.Context) (user.GlobalStats, error) {
	query := `SELECT user_count, next_id FROM app_stats WHERE id = 1`

	var stats user.GlobalStats
	if err := r.q.QueryRow(ctx, query).Scan(&stats.Count, &stats.NextID); err != nil {
		return user.GlobalStats{}, fmt.Errorf("failed to read app stats: %w", err)
	}
	return stats, nil
}

// PutStats writes the singleton rotation record.
func (r *UserRepository) PutStats(ctx context.Context, stats user.GlobalStats) error {
	query := `UPDATE app_stats SET user_count = $1, next_id = $2 WHERE id = 1`

	if _, err := r.q.Exec(ctx, query, stats.Count, stats.NextID); err != nil {
		return fmt.Errorf("failed to write app stats: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Membership index
// ─────────────────────────────────────────────────────────────────────────────

// Memberships returns the user's full conversation index.
func (r *UserRepository) Memberships(ctx context.Context, uid user.UID) (user.Memberships, error) {
	query := `
		SELECT conversation_id, question, unread, is_primary, last_updated
		FROM user_conversations
		WHERE uid = $1
		ORDER BY last_updated DESC
	`

	rows, err := r.q.Query(ctx, query, uid.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out user.Memberships
	for rows.Next() {
		var e user.MembershipEntry
		if err := rows.Scan(&e.ConversationID, &e.Question, &e.Unread, &e.Primary, &e.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Membership returns one index entry.
func (r *UserRepository) Membership(ctx context.Context, uid user.UID, conversationID string) (*user.MembershipEntry, error) {
	query := `
		SELECT conversation_id, question, unread, is_primary, last_updated
		FROM user_conversations
		WHERE uid = $1 AND conversation_id = $2
	`

	var e user.MembershipEntry
	err := r.q.QueryRow(ctx, query, uid.String(), conversationID).
		Scan(&e.ConversationID, &e.Question, &e.Unread, &e.Primary, &e.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &e, nil
}

// UpsertMembership creates or replaces one index entry.
func (r *UserRepository) UpsertMembership(ctx context.Context, uid user.UID, entry user.MembershipEntry) error {
	if entry.LastUpdated.IsZero() {
		entry.LastUpdated = time.Now().UTC()
	}

	query := `
		INSERT INTO user_conversations (uid, conversation_id, question, unread, is_primary, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid, conversation_id) DO UPDATE SET
			question = EXCLUDED.question,
			unread = EXCLUDED.unread,
			is_primary = EXCLUDED.is_primary,
			last_updated = EXCLUDED.last_updated
	`

	_, err := r.q.Exec(ctx, query,
		uid.String(), entry.ConversationID, entry.Question,
		entry.Unread, entry.Primary, entry.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// DeleteMembership removes one index entry.
func (r *UserRepository) DeleteMembership(ctx context.Context, uid user.UID, conversationID string) error {
	query := `DELETE FROM user_conversations WHERE uid = $1 AND conversation_id = $2`

	if _, err := r.q.Exec(ctx, query, uid.String(), conversationID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}
