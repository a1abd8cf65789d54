package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS, STATS, MEMBERSHIP INDEX
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create users, global stats, and the membership index
-- Version: 001

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    sequence_id BIGINT NOT NULL UNIQUE,
    rating REAL NOT NULL DEFAULT 0,
    notification_token TEXT,
    credential_hash BYTEA NOT NULL,
    disabled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_sequence_id CHECK (sequence_id >= 1)
);

CREATE INDEX IF NOT EXISTS idx_users_sequence_id ON users(sequence_id);

-- Singleton rotation record. next_id is always in [1, user_count] after any
-- mutation; both columns are read and written only inside one transaction.
CREATE TABLE IF NOT EXISTS app_stats (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    user_count BIGINT NOT NULL DEFAULT 0,
    next_id BIGINT NOT NULL DEFAULT 1
);

INSERT INTO app_stats (id, user_count, next_id)
VALUES (1, 0, 1)
ON CONFLICT (id) DO NOTHING;

-- Denormalized conversation index, one row per membership map entry. Owned
-- by the user directory, written cooperatively by the lifecycle engine
-- inside the same transaction as the conversation document.
CREATE TABLE IF NOT EXISTS user_conversations (
    uid TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    question TEXT NOT NULL,
    unread BOOLEAN NOT NULL DEFAULT FALSE,
    is_primary BOOLEAN NOT NULL DEFAULT FALSE,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (uid, conversation_id)
);

CREATE INDEX IF NOT EXISTS idx_user_conversations_uid ON user_conversations(uid);
`

const migration001Down = `
DROP TABLE IF EXISTS user_conversations;
DROP TABLE IF EXISTS app_stats;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CONVERSATIONS AND MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create conversations and their message sub-collection
-- Version: 002

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    owner_uid TEXT NOT NULL,
    new_uid TEXT,
    old_uids TEXT[] NOT NULL DEFAULT '{}',
    random_ids BIGINT[] NOT NULL DEFAULT '{}',
    pending BOOLEAN NOT NULL DEFAULT TRUE,
    pending_messages JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT question_length CHECK (char_length(question) <= 200)
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_uid);

-- Reaper predicate: non-pending conversations by idle time.
CREATE INDEX IF NOT EXISTS idx_conversations_idle
    ON conversations(modified_at) WHERE pending = FALSE;

CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    body TEXT NOT NULL,
    author_uid TEXT NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
    ON messages(conversation_id, sent_at);
`

const migration002Down = `
DROP TABLE IF EXISTS messages;
DROP TABLE IF EXISTS conversations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: REPORTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create abuse reports
-- Version: 003

CREATE TABLE IF NOT EXISTS reports (
    uid TEXT PRIMARY KEY,
    reporters TEXT[] NOT NULL DEFAULT '{}'
);
`

const migration003Down = `
DROP TABLE IF EXISTS reports;
`

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// GetMigrations returns all migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users_stats_index", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_conversations_messages", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_reports", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// appliedMigrations returns the versions already applied.
func (m *Migrator) appliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}
