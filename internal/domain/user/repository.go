package user

import "context"

// Directory is the durable store of per-user profile, the denormalized
// conversation index, and the global rotation counter.
//
// Implementations must honor the transaction the caller runs under: when a
// Directory is obtained from a storage transaction, every method joins that
// transaction.
type Directory interface {
	// Get returns a user by uid.
	Get(ctx context.Context, uid UID) (*User, error)

	// Insert creates a new user record.
	Insert(ctx context.Context, u *User) error

	// SetNotificationToken stores or clears (empty string) the push token.
	SetNotificationToken(ctx context.Context, uid UID, token string) error

	// Disable irreversibly disables the account within this core.
	Disable(ctx context.Context, uid UID) error

	// BySequenceIDs resolves users for a batch of rotation ids. Unknown ids
	// are silently skipped.
	BySequenceIDs(ctx context.Context, seqs []SequenceID) ([]*User, error)

	// Stats reads the global rotation record.
	Stats(ctx context.Context) (GlobalStats, error)

	// PutStats writes the global rotation record. Must run in the same
	// transaction as the Stats read that produced it.
	PutStats(ctx context.Context, stats GlobalStats) error

	// Memberships returns the user's full conversation index.
	Memberships(ctx context.Context, uid UID) (Memberships, error)

	// Membership returns one index entry, or shared.ErrNotFound.
	Membership(ctx context.Context, uid UID, conversationID string) (*MembershipEntry, error)

	// UpsertMembership creates or replaces one index entry.
	UpsertMembership(ctx context.Context, uid UID, entry MembershipEntry) error

	// DeleteMembership removes one index entry. Missing entries are a no-op.
	DeleteMembership(ctx context.Context, uid UID, conversationID string) error
}
