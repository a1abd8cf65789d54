package conversation

import (
	"context"
	"time"
)

// Store is the durable store of conversation documents and their ordered
// message sub-collections.
type Store interface {
	// Get returns a conversation by id, or shared.ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// Put creates or replaces a conversation document.
	Put(ctx context.Context, c *Conversation) error

	// Delete removes the conversation and all of its messages.
	Delete(ctx context.Context, id string) error

	// ListIdle returns ids of non-pending conversations whose ModifiedAt is
	// older than olderThan and newer than newerThan, up to limit.
	ListIdle(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]string, error)

	// Messages returns all messages ordered by timestamp.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	// UpsertMessage writes a message keyed by its caller-supplied id.
	// Redelivery of the same id overwrites, never duplicates.
	UpsertMessage(ctx context.Context, conversationID string, m Message) error

	// DeleteMessages removes every message of a conversation.
	DeleteMessages(ctx context.Context, conversationID string) error
}
