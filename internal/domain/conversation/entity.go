// Package conversation содержит доменную модель анонимного диалога.
// Владелец задаёт вопрос, система находит второго участника, участники
// могут меняться со временем. Здесь нет внешних зависимостей.
package conversation

import (
	"time"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
)

// MaxQuestionLength is the hard cap on a question's length in characters.
const MaxQuestionLength = 200

// LeftConversationText is the fixed system message inserted for the owner
// when the second participant removes themselves.
const LeftConversationText = "This user has left the conversation, you can either get a new opinion or resolve the conversation from the side menu."

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State describes where a conversation is in its lifecycle.
type State string

const (
	// StatePending - no second participant yet.
	StatePending State = "pending"

	// StateActive - owner and second participant exchanging messages.
	StateActive State = "active"
)

// Role identifies which side of the conversation a uid is on, resolved once
// per operation instead of repeated equality checks against optional fields.
type Role int

const (
	// RoleNone - the uid is not a participant.
	RoleNone Role = iota

	// RoleOwner - the uid created the conversation.
	RoleOwner

	// RoleJoiner - the uid is the current second participant.
	RoleJoiner
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// Message is a single message inside a conversation. Immutable once written.
// The id is caller-supplied so redelivery of the same id stays idempotent.
type Message struct {
	ID        string
	Text      string
	AuthorUID user.UID
	SentAt    time.Time
}

// PendingMessage is a message queued before any second participant exists.
// The whole queue is flushed into the message collection at join time,
// preserving the original author and timestamp.
type PendingMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorUID string    `json:"author_uid"`
	SentAt    time.Time `json:"sent_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSATION
// ══════════════════════════════════════════════════════════════════════════════

// Conversation is the aggregate for one anonymous question thread.
type Conversation struct {
	// ID - conversation identifier.
	ID string

	// Question - moderated question text, at most MaxQuestionLength chars.
	Question string

	// OwnerUID - creator; immutable for the conversation's lifetime.
	OwnerUID user.UID

	// NewUID - current second participant, empty while pending.
	NewUID user.UID

	// OldUIDs - uids that left; they may never rejoin.
	OldUIDs []user.UID

	// RandomIDs - sequence ids already notified for this conversation,
	// kept so re-matching never pings the same user twice.
	RandomIDs []user.SequenceID

	// Pending - true while awaiting a second participant.
	Pending bool

	// PendingMessages - messages written before anyone joined.
	PendingMessages []PendingMessage

	// CreatedAt / ModifiedAt - lifecycle timestamps.
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// New creates a pending conversation seeded with the question as its first
// pending message.
func New(id string, ownerUID user.UID, question, firstMessageID string, now time.Time) (*Conversation, error) {
	if id == "" {
		return nil, shared.NewDomainError("conversation", "New", shared.ErrInvalidArgument, "conversation id is required")
	}
	if !ownerUID.IsValid() {
		return nil, shared.NewDomainError("conversation", "New", shared.ErrInvalidArgument, "invalid owner uid")
	}
	if len([]rune(question)) > MaxQuestionLength {
		return nil, shared.ErrQuestionTooLong
	}
	return &Conversation{
		ID:       id,
		Question: question,
		OwnerUID: ownerUID,
		Pending:  true,
		PendingMessages: []PendingMessage{{
			ID:        firstMessageID,
			Text:      question,
			AuthorUID: ownerUID.String(),
			SentAt:    now,
		}},
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// State derives the lifecycle state from the participant fields.
func (c *Conversation) State() State {
	if c.Pending {
		return StatePending
	}
	return StateActive
}

// RoleOf resolves the role of a uid relative to this conversation.
func (c *Conversation) RoleOf(uid user.UID) Role {
	switch uid {
	case c.OwnerUID:
		return RoleOwner
	case c.NewUID:
		if uid != "" {
			return RoleJoiner
		}
	}
	return RoleNone
}

// OtherParty returns the counterpart of the given participant, or empty if
// there is none (still pending) or the uid is not a participant.
func (c *Conversation) OtherParty(uid user.UID) user.UID {
	switch c.RoleOf(uid) {
	case RoleOwner:
		return c.NewUID
	case RoleJoiner:
		return c.OwnerUID
	}
	return ""
}

// HasLeft reports whether the uid previously left this conversation.
func (c *Conversation) HasLeft(uid user.UID) bool {
	for _, old := range c.OldUIDs {
		if old == uid {
			return true
		}
	}
	return false
}

// WasNotified reports whether the sequence id was already pinged for this
// conversation.
func (c *Conversation) WasNotified(seq user.SequenceID) bool {
	for _, r := range c.RandomIDs {
		if r == seq {
			return true
		}
	}
	return false
}

// RecordNotified marks sequence ids as pinged, skipping duplicates.
func (c *Conversation) RecordNotified(seqs []user.SequenceID) {
	for _, s := range seqs {
		if !c.WasNotified(s) {
			c.RandomIDs = append(c.RandomIDs, s)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────────────────────────────────

// Admit transitions PENDING → ACTIVE for the joiner and returns the pending
// messages to be flushed. Rejects the owner, anyone who left before, and any
// conversation that is not pending.
func (c *Conversation) Admit(joiner user.UID, now time.Time) ([]PendingMessage, error) {
	if !c.Pending {
		return nil, shared.ErrNotPending
	}
	if joiner == c.OwnerUID {
		return nil, shared.ErrNotPending
	}
	if c.HasLeft(joiner) {
		return nil, shared.ErrRejoinForbidden
	}
	flush := c.PendingMessages
	c.NewUID = joiner
	c.Pending = false
	c.PendingMessages = nil
	c.ModifiedAt = now
	return flush, nil
}

// Vacate transitions ACTIVE → PENDING on the owner's request, remembering
// the departed participant in OldUIDs. A no-op state-wise when already
// pending. Returns the uid that was evicted, if any.
func (c *Conversation) Vacate(now time.Time) (evicted user.UID) {
	if c.NewUID != "" {
		evicted = c.NewUID
		c.OldUIDs = append(c.OldUIDs, c.NewUID)
	}
	c.NewUID = ""
	c.Pending = true
	c.ModifiedAt = now
	return evicted
}

// Withdraw removes the current second participant at their own request.
func (c *Conversation) Withdraw(requester user.UID, now time.Time) error {
	if c.RoleOf(requester) != RoleJoiner {
		return shared.ErrNotParticipant
	}
	c.OldUIDs = append(c.OldUIDs, requester)
	c.NewUID = ""
	c.Pending = true
	c.ModifiedAt = now
	return nil
}

// QueuePending appends a pending message while the conversation awaits a
// participant. Owner-only, pending-only.
func (c *Conversation) QueuePending(author user.UID, msg PendingMessage) error {
	if c.RoleOf(author) != RoleOwner {
		return shared.ErrNotOwner
	}
	if !c.Pending {
		return shared.ErrNotPending
	}
	c.PendingMessages = append(c.PendingMessages, msg)
	c.ModifiedAt = msg.SentAt
	return nil
}
