package lifecycle

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE CONVERSATION
// ══════════════════════════════════════════════════════════════════════════════

// CreateConversationCommand contains the data to open a new question.
type CreateConversationCommand struct {
	// Credential identifies the caller; the owner uid derives from it.
	Credential string

	// Question is the raw question text, moderated before storage.
	Question string
}

// Validate validates the command.
func (c CreateConversationCommand) Validate() error {
	if c.Credential == "" {
		return shared.ErrBadCredential
	}
	if c.Question == "" {
		return shared.NewDomainError("lifecycle", "Create", shared.ErrInvalidArgument, "question is required")
	}
	return nil
}

// CreateConversation opens a pending conversation seeded with the question,
// indexes it for the owner, and invites a rotation batch of potential
// joiners. Returns the new conversation id.
func (e *Engine) CreateConversation(ctx context.Context, cmd CreateConversationCommand) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return "", err
	}

	question, err := e.moderator.Clean(ctx, cmd.Question)
	if err != nil {
		return "", err
	}
	if len([]rune(question)) > conversation.MaxQuestionLength {
		return "", shared.ErrQuestionTooLong
	}

	convoID := e.newID()
	var pending []notify.Notification

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pending = nil

		owner, err := tx.Users().Get(ctx, uid)
		if err != nil {
			return err
		}

		memberships, err := tx.Users().Memberships(ctx, uid)
		if err != nil {
			return err
		}
		if err := memberships.CheckCreateQuota(); err != nil {
			return err
		}

		now := e.now()
		convo, err := conversation.New(convoID, uid, question, e.newID(), now)
		if err != nil {
			return err
		}

		pending, err = e.matchAndInvite(ctx, tx, convo, owner.SequenceID)
		if err != nil {
			return err
		}

		if err := tx.Conversations().Put(ctx, convo); err != nil {
			return err
		}

		return tx.Users().UpsertMembership(ctx, uid, user.MembershipEntry{
			ConversationID: convoID,
			Question:       question,
			Unread:         false,
			Primary:        true,
			LastUpdated:    now,
		})
	})
	if err != nil {
		return "", err
	}

	e.dispatch(ctx, pending)
	e.logger.Info("conversation created", "conversation_id", convoID, "invited", len(pending))
	return convoID, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOIN CONVERSATION
// ══════════════════════════════════════════════════════════════════════════════

// JoinConversationCommand contains the data to become the second participant.
type JoinConversationCommand struct {
	Credential     string
	ConversationID string

	// FirstReply is the joiner's answer, appended after the flushed backlog.
	FirstReply string

	// ReplyID is the caller-supplied id for the first reply, so a retried
	// join never duplicates it. Generated when empty.
	ReplyID string
}

// Validate validates the command.
func (c JoinConversationCommand) Validate() error {
	if c.Credential == "" {
		return shared.ErrBadCredential
	}
	if c.ConversationID == "" {
		return shared.NewDomainError("lifecycle", "Join", shared.ErrInvalidArgument, "conversation id is required")
	}
	return nil
}

// JoinConversation admits the caller as the second participant: flushes the
// pending backlog into the message collection preserving original authors
// and timestamps, appends the first reply, and indexes the conversation for
// the joiner. Returns false when the conversation is not joinable for the
// caller (already active, owner joining own question, or a prior leaver
// trying to come back).
func (e *Engine) JoinConversation(ctx context.Context, cmd JoinConversationCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, err
	}

	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	reply := cmd.FirstReply
	if reply != "" {
		if reply, err = e.moderator.Clean(ctx, reply); err != nil {
			return false, err
		}
	}
	replyID := cmd.ReplyID
	if replyID == "" {
		replyID = e.newID()
	}

	joined := false
	var pending []notify.Notification

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		joined = false
		pending = nil

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}

		// Joinability first: a closed conversation answers false even for
		// an over-quota caller.
		now := e.now()
		backlog, err := convo.Admit(uid, now)
		if err != nil {
			if shared.IsPreconditionFailed(err) {
				return nil
			}
			return err
		}

		memberships, err := tx.Users().Memberships(ctx, uid)
		if err != nil {
			return err
		}
		if err := memberships.CheckJoinQuota(); err != nil {
			return err
		}

		for _, m := range backlog {
			msg := conversation.Message{
				ID:        m.ID,
				Text:      m.Text,
				AuthorUID: user.UID(m.AuthorUID),
				SentAt:    m.SentAt,
			}
			if err := tx.Conversations().UpsertMessage(ctx, convo.ID, msg); err != nil {
				return err
			}
		}

		ownerUnread := false
		if reply != "" {
			err := tx.Conversations().UpsertMessage(ctx, convo.ID, conversation.Message{
				ID:        replyID,
				Text:      reply,
				AuthorUID: uid,
				SentAt:    now,
			})
			if err != nil {
				return err
			}
			ownerUnread = true
		}

		joiner, err := tx.Users().Get(ctx, uid)
		if err != nil {
			return err
		}
		convo.RecordNotified([]user.SequenceID{joiner.SequenceID})

		if err := tx.Conversations().Put(ctx, convo); err != nil {
			return err
		}

		err = tx.Users().UpsertMembership(ctx, uid, user.MembershipEntry{
			ConversationID: convo.ID,
			Question:       convo.Question,
			Unread:         false,
			Primary:        false,
			LastUpdated:    now,
		})
		if err != nil {
			return err
		}

		ownerEntry, err := e.membershipOrNew(ctx, tx, convo.OwnerUID, convo, true)
		if err != nil {
			return err
		}
		// A silent join only stamps the owner's entry; the unread flag may
		// still be carrying an unseen earlier message.
		if ownerUnread {
			ownerEntry.Unread = true
		}
		ownerEntry.LastUpdated = now
		if err := tx.Users().UpsertMembership(ctx, convo.OwnerUID, *ownerEntry); err != nil {
			return err
		}

		if ownerUnread {
			owner, err := tx.Users().Get(ctx, convo.OwnerUID)
			if err != nil {
				return err
			}
			pending = messageNotification(owner, convo, reply)
		}

		joined = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if joined {
		e.dispatch(ctx, pending)
	}
	return joined, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEAVE (owner resets the conversation)
// ══════════════════════════════════════════════════════════════════════════════

// LeaveConversationCommand resets the conversation to a fresh question.
type LeaveConversationCommand struct {
	Credential     string
	ConversationID string
}

// LeaveConversation is the owner-only reset: the current participant, if
// any, moves to the never-rejoin list and loses their index entry, message
// history is discarded unless configured otherwise, and a fresh rotation
// batch is invited. Returns false when the caller is not the owner.
func (e *Engine) LeaveConversation(ctx context.Context, cmd LeaveConversationCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}
	if cmd.ConversationID == "" {
		return false, shared.NewDomainError("lifecycle", "Leave", shared.ErrInvalidArgument, "conversation id is required")
	}

	left := false
	var pending []notify.Notification

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		left = false
		pending = nil

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}
		if convo.RoleOf(uid) != conversation.RoleOwner {
			return nil
		}

		pending, err = e.vacateAndRematch(ctx, tx, convo)
		if err != nil {
			return err
		}

		left = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if left {
		e.dispatch(ctx, pending)
	}
	return left, nil
}

// vacateAndRematch executes the owner-leaves transition inside the caller's
// transaction: evicts the current participant into the never-rejoin list,
// resets history per policy, stamps the owner's index entry, and runs a
// fresh rotation step. Shared by LeaveConversation and the reaper sweep.
func (e *Engine) vacateAndRematch(
	ctx context.Context,
	tx store.Tx,
	convo *conversation.Conversation,
) ([]notify.Notification, error) {
	now := e.now()

	evicted := convo.Vacate(now)
	if evicted != "" {
		if err := tx.Users().DeleteMembership(ctx, evicted, convo.ID); err != nil {
			return nil, err
		}
	}

	if !e.config.PreserveHistoryOnLeave {
		if err := tx.Conversations().DeleteMessages(ctx, convo.ID); err != nil {
			return nil, err
		}
		// Reseed only when a participant flushed the backlog by joining.
		// A still-pending conversation keeps the context the owner queued.
		if evicted != "" {
			convo.PendingMessages = []conversation.PendingMessage{{
				ID:        e.newID(),
				Text:      convo.Question,
				AuthorUID: convo.OwnerUID.String(),
				SentAt:    now,
			}}
		}
	}

	owner, err := tx.Users().Get(ctx, convo.OwnerUID)
	if err != nil {
		return nil, err
	}

	notifications, err := e.matchAndInvite(ctx, tx, convo, owner.SequenceID)
	if err != nil {
		return nil, err
	}

	if err := tx.Conversations().Put(ctx, convo); err != nil {
		return nil, err
	}

	entry, err := e.membershipOrNew(ctx, tx, convo.OwnerUID, convo, true)
	if err != nil {
		return nil, err
	}
	entry.Unread = false
	entry.LastUpdated = now
	if err := tx.Users().UpsertMembership(ctx, convo.OwnerUID, *entry); err != nil {
		return nil, err
	}

	return notifications, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE SELF (participant exits voluntarily)
// ══════════════════════════════════════════════════════════════════════════════

// RemoveSelfCommand lets the current second participant exit.
type RemoveSelfCommand struct {
	Credential     string
	ConversationID string
}

// RemoveSelf withdraws the current second participant at their own request:
// the conversation reverts to pending, the requester can never rejoin, their
// index entry disappears, and the owner gets a fixed system message saying
// the participant left. Returns false when the caller is not the current
// second participant.
func (e *Engine) RemoveSelf(ctx context.Context, cmd RemoveSelfCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}
	if cmd.ConversationID == "" {
		return false, shared.NewDomainError("lifecycle", "RemoveSelf", shared.ErrInvalidArgument, "conversation id is required")
	}

	removed := false

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		removed = false

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := convo.Withdraw(uid, now); err != nil {
			if shared.IsPreconditionFailed(err) {
				return nil
			}
			return err
		}

		if err := tx.Users().DeleteMembership(ctx, uid, convo.ID); err != nil {
			return err
		}

		err = tx.Conversations().UpsertMessage(ctx, convo.ID, conversation.Message{
			ID:        e.newID(),
			Text:      conversation.LeftConversationText,
			AuthorUID: uid,
			SentAt:    now,
		})
		if err != nil {
			return err
		}

		if err := tx.Conversations().Put(ctx, convo); err != nil {
			return err
		}

		entry, err := e.membershipOrNew(ctx, tx, convo.OwnerUID, convo, true)
		if err != nil {
			return err
		}
		entry.Unread = true
		entry.LastUpdated = now
		if err := tx.Users().UpsertMembership(ctx, convo.OwnerUID, *entry); err != nil {
			return err
		}

		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MARK READ
// ══════════════════════════════════════════════════════════════════════════════

// MarkReadCommand clears the unread flag on the caller's index entry.
type MarkReadCommand struct {
	Credential     string
	ConversationID string
}

// MarkRead clears the unread flag. Returns false if the entry was already
// read or absent.
func (e *Engine) MarkRead(ctx context.Context, cmd MarkReadCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	cleared := false
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cleared = false

		entry, err := tx.Users().Membership(ctx, uid, cmd.ConversationID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil
			}
			return err
		}
		if !entry.Unread {
			return nil
		}

		entry.Unread = false
		if err := tx.Users().UpsertMembership(ctx, uid, *entry); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cleared, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE (owner resolves the conversation)
// ══════════════════════════════════════════════════════════════════════════════

// DeleteConversationCommand removes a conversation permanently.
type DeleteConversationCommand struct {
	Credential     string
	ConversationID string
}

// DeleteConversation removes the conversation, its messages, and both
// participants' index entries. Terminal; owner-only. Returns false when the
// caller is not the owner.
func (e *Engine) DeleteConversation(ctx context.Context, cmd DeleteConversationCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	deleted := false
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted = false

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil
			}
			return err
		}
		if convo.RoleOf(uid) != conversation.RoleOwner {
			return nil
		}

		if convo.NewUID != "" {
			if err := tx.Users().DeleteMembership(ctx, convo.NewUID, convo.ID); err != nil {
				return err
			}
		}
		if err := tx.Users().DeleteMembership(ctx, convo.OwnerUID, convo.ID); err != nil {
			return err
		}
		if err := tx.Conversations().Delete(ctx, convo.ID); err != nil {
			return err
		}

		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		e.logger.Info("conversation deleted", "conversation_id", cmd.ConversationID)
	}
	return deleted, nil
}

// membershipOrNew loads a participant's index entry, synthesizing one when
// a partial write left it absent. The two collections must never diverge;
// rebuilding the entry here repairs the index instead of failing the
// operation.
func (e *Engine) membershipOrNew(
	ctx context.Context,
	tx store.Tx,
	uid user.UID,
	convo *conversation.Conversation,
	primary bool,
) (*user.MembershipEntry, error) {
	entry, err := tx.Users().Membership(ctx, uid, convo.ID)
	if err == nil {
		return entry, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}
	return &user.MembershipEntry{
		ConversationID: convo.ID,
		Question:       convo.Question,
		Primary:        primary,
	}, nil
}
