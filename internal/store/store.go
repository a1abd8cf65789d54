// Package store defines the transactional storage boundary consumed by the
// lifecycle engine.
//
// Every operation that reads a document and later writes based on that read
// must run inside one serializable transaction; conflicting transactions
// abort and are retried by the implementation, invisible to callers.
// Unconditional merges (e.g. storing a push token) may use Plain access.
package store

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/report"
	"github.com/candid-app/candid-core/internal/domain/user"
)

// Tx exposes the per-collection repositories bound to one transaction (or,
// via Plain, to auto-commit access).
type Tx interface {
	Users() user.Directory
	Conversations() conversation.Store
	Reports() report.Store
}

// Store is the storage layer entry point.
type Store interface {
	// WithinTx runs fn inside one atomic, serializable transaction spanning
	// every repository touched through tx. The transaction commits when fn
	// returns nil and rolls back otherwise. Serialization conflicts are
	// retried transparently.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Plain returns auto-commit repositories for reads and unconditional
	// writes that need no transaction.
	Plain() Tx

	// Close releases the underlying resources.
	Close()
}
