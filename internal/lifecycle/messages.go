package lifecycle

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// CreateMessageCommand contains the data to send a message.
type CreateMessageCommand struct {
	Credential     string
	ConversationID string

	// MessageID is caller-supplied so retried sends stay idempotent: the
	// same id overwrites, never duplicates.
	MessageID string

	Text string
}

// Validate validates the command.
func (c CreateMessageCommand) Validate() error {
	if c.Credential == "" {
		return shared.ErrBadCredential
	}
	if c.ConversationID == "" {
		return shared.NewDomainError("lifecycle", "CreateMessage", shared.ErrInvalidArgument, "conversation id is required")
	}
	if c.MessageID == "" {
		return shared.NewDomainError("lifecycle", "CreateMessage", shared.ErrInvalidArgument, "message id is required")
	}
	if c.Text == "" {
		return shared.NewDomainError("lifecycle", "CreateMessage", shared.ErrInvalidArgument, "text is required")
	}
	return nil
}

// CreateMessage writes a message from one participant to the other, marks
// the recipient unread, and pings them. Returns false when the caller is
// not a participant or there is no other party yet.
func (e *Engine) CreateMessage(ctx context.Context, cmd CreateMessageCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, err
	}

	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	text, err := e.moderator.Clean(ctx, cmd.Text)
	if err != nil {
		return false, err
	}

	sent := false
	var pending []notify.Notification

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sent = false
		pending = nil

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}

		role := convo.RoleOf(uid)
		if role == conversation.RoleNone {
			return nil
		}
		recipientUID := convo.OtherParty(uid)
		if recipientUID == "" {
			// Still pending; the backlog path is CreatePendingMessage.
			return nil
		}

		now := e.now()
		err = tx.Conversations().UpsertMessage(ctx, convo.ID, conversation.Message{
			ID:        cmd.MessageID,
			Text:      text,
			AuthorUID: uid,
			SentAt:    now,
		})
		if err != nil {
			return err
		}

		recipientEntry, err := e.membershipOrNew(ctx, tx, recipientUID, convo, recipientUID == convo.OwnerUID)
		if err != nil {
			return err
		}
		recipientEntry.Unread = true
		recipientEntry.LastUpdated = now
		if err := tx.Users().UpsertMembership(ctx, recipientUID, *recipientEntry); err != nil {
			return err
		}

		authorEntry, err := e.membershipOrNew(ctx, tx, uid, convo, role == conversation.RoleOwner)
		if err != nil {
			return err
		}
		authorEntry.LastUpdated = now
		if err := tx.Users().UpsertMembership(ctx, uid, *authorEntry); err != nil {
			return err
		}

		convo.ModifiedAt = now
		if err := tx.Conversations().Put(ctx, convo); err != nil {
			return err
		}

		recipient, err := tx.Users().Get(ctx, recipientUID)
		if err != nil {
			return err
		}
		pending = messageNotification(recipient, convo, text)

		sent = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if sent {
		e.dispatch(ctx, pending)
	}
	return sent, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE PENDING MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// CreatePendingMessageCommand appends context to a question nobody has
// answered yet.
type CreatePendingMessageCommand struct {
	Credential     string
	ConversationID string
	MessageID      string
	Text           string
}

// Validate validates the command.
func (c CreatePendingMessageCommand) Validate() error {
	if c.Credential == "" {
		return shared.ErrBadCredential
	}
	if c.ConversationID == "" {
		return shared.NewDomainError("lifecycle", "CreatePendingMessage", shared.ErrInvalidArgument, "conversation id is required")
	}
	if c.MessageID == "" {
		return shared.NewDomainError("lifecycle", "CreatePendingMessage", shared.ErrInvalidArgument, "message id is required")
	}
	if c.Text == "" {
		return shared.NewDomainError("lifecycle", "CreatePendingMessage", shared.ErrInvalidArgument, "text is required")
	}
	return nil
}

// CreatePendingMessage queues a message onto a pending conversation so the
// eventual joiner receives the full backlog atomically at join time.
// Owner-only; returns false when the caller is not the owner or the
// conversation already has a participant.
func (e *Engine) CreatePendingMessage(ctx context.Context, cmd CreatePendingMessageCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, err
	}

	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	text, err := e.moderator.Clean(ctx, cmd.Text)
	if err != nil {
		return false, err
	}

	queued := false
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		queued = false

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}

		err = convo.QueuePending(uid, conversation.PendingMessage{
			ID:        cmd.MessageID,
			Text:      text,
			AuthorUID: uid.String(),
			SentAt:    e.now(),
		})
		if err != nil {
			if shared.IsPreconditionFailed(err) {
				return nil
			}
			return err
		}

		if err := tx.Conversations().Put(ctx, convo); err != nil {
			return err
		}
		queued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return queued, nil
}
