// Package user содержит доменную модель пользователя Candid.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package user

import (
	"strings"
	"time"

	"github.com/candid-app/candid-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UID is the stable, externally assigned user identifier.
type UID string

// IsValid checks that the UID is non-empty and sane.
func (u UID) IsValid() bool {
	s := string(u)
	return len(s) >= 1 && len(s) <= 128 && !strings.ContainsAny(s, " \t\n\r.")
}

// String returns the string form of the UID.
func (u UID) String() string {
	return string(u)
}

// SequenceID is the dense integer (1..N) assigned at signup. It exists only
// to drive even matchmaking distribution; it is never shown to users.
type SequenceID int64

// IsValid checks that the SequenceID is positive.
func (s SequenceID) IsValid() bool {
	return s > 0
}

// Quota limits enforced when creating or joining conversations.
const (
	// MaxPrimaryConversations is the cap on conversations the user owns.
	MaxPrimaryConversations = 5

	// MaxTotalConversations is the cap on all conversation memberships.
	MaxTotalConversations = 25
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// User is the durable per-user record.
type User struct {
	// ID - stable external identifier.
	ID UID

	// SequenceID - dense 1..N rotation id, assigned once at registration.
	SequenceID SequenceID

	// Rating - aggregate helpfulness rating.
	Rating float64

	// NotificationToken - push token, empty when the user opted out.
	NotificationToken string

	// CredentialHash - bcrypt hash of the credential secret.
	CredentialHash []byte

	// Disabled - set by the abuse tracker; a disabled user fails verification.
	Disabled bool

	// CreatedAt - registration time.
	CreatedAt time.Time
}

// NewUser creates a user record with the given sequence id.
func NewUser(id UID, seq SequenceID, credentialHash []byte) (*User, error) {
	if !id.IsValid() {
		return nil, shared.NewDomainError("user", "New", shared.ErrInvalidArgument, "invalid uid")
	}
	if !seq.IsValid() {
		return nil, shared.NewDomainError("user", "New", shared.ErrInvalidArgument, "invalid sequence id")
	}
	return &User{
		ID:             id,
		SequenceID:     seq,
		Rating:         0,
		CredentialHash: credentialHash,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// MembershipEntry is one row of the user's denormalized conversation index.
// It is owned by the user directory but written cooperatively by the
// lifecycle engine inside the same transaction as the conversation update.
type MembershipEntry struct {
	// ConversationID - the indexed conversation.
	ConversationID string

	// Question - denormalized question text for list rendering.
	Question string

	// Unread - true when the other party wrote since the user last looked.
	Unread bool

	// Primary - true when the user owns the conversation.
	Primary bool

	// LastUpdated - last time the entry was touched.
	LastUpdated time.Time
}

// Memberships is a user's full conversation index.
type Memberships []MembershipEntry

// CountPrimary returns the number of conversations the user owns.
func (m Memberships) CountPrimary() int {
	n := 0
	for _, e := range m {
		if e.Primary {
			n++
		}
	}
	return n
}

// CheckCreateQuota applies the backpressure rules for opening a new question.
func (m Memberships) CheckCreateQuota() error {
	if m.CountPrimary() >= MaxPrimaryConversations {
		return shared.ErrTooManyPrimary
	}
	if len(m) >= MaxTotalConversations {
		return shared.ErrTooManyConvos
	}
	return nil
}

// CheckJoinQuota applies the backpressure rule for answering a question.
func (m Memberships) CheckJoinQuota() error {
	if len(m) >= MaxTotalConversations {
		return shared.ErrTooManyConvos
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GLOBAL STATS
// ══════════════════════════════════════════════════════════════════════════════

// GlobalStats is the singleton rotation record. Both fields are read and
// written only inside the same storage transaction; see the matchmaking
// package for the cursor arithmetic.
type GlobalStats struct {
	// Count - number of registered users.
	Count int64

	// NextID - rotation cursor, always in [1, Count] after any mutation.
	NextID int64
}

// Valid reports whether the invariant on NextID holds.
func (g GlobalStats) Valid() bool {
	if g.Count == 0 {
		return g.NextID == 0 || g.NextID == 1
	}
	return g.NextID >= 1 && g.NextID <= g.Count
}
