package postgres

import (
	"context"
	"time"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/report"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/store"
	"github.com/candid-app/candid-core/pkg/retry"

	"github.com/jackc/pgx/v5"
)

// Store implements store.Store over a pgx connection pool. Every WithinTx
// call runs serializable; aborted transactions (SQLSTATE 40001/40P01) are
// retried with backoff, invisible to the caller.
type Store struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewStore wraps a Connection in the storage interface.
func NewStore(conn *Connection) *Store {
	return &Store{
		conn: conn,
		retrier: retry.New(
			retry.WithMaxAttempts(5),
			retry.WithInitialDelay(20*time.Millisecond),
			retry.WithMaxDelay(500*time.Millisecond),
			retry.WithRetryIf(IsSerializationFailure),
		),
	}
}

// tx bundles the repositories bound to one Querier.
type tx struct {
	users         *UserRepository
	conversations *ConversationRepository
	reports       *ReportRepository
}

func newTx(q Querier) *tx {
	return &tx{
		users:         NewUserRepository(q),
		conversations: NewConversationRepository(q),
		reports:       NewReportRepository(q),
	}
}

func (t *tx) Users() user.Directory             { return t.users }
func (t *tx) Conversations() conversation.Store { return t.conversations }
func (t *tx) Reports() report.Store             { return t.reports }

// WithinTx runs fn inside one serializable transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, SerializableTxOptions(), func(pgtx pgx.Tx) error {
			return fn(ctx, newTx(pgtx))
		})
	})
}

// Plain returns auto-commit repositories backed by the pool.
func (s *Store) Plain() store.Tx {
	return newTx(s.conn.Pool())
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.conn.Close()
}
