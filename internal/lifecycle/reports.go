package lifecycle

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// Accumulates reports against the other participant. The ban check always
// runs against the post-merge set so concurrent reporters cannot race the
// count below the true cardinality.
// ══════════════════════════════════════════════════════════════════════════════

// ReportCommand reports the other participant of a conversation.
type ReportCommand struct {
	Credential     string
	ConversationID string
}

// ReportParticipant records a report from the caller against the other
// party of the conversation. Repeat reports from the same caller count
// once. Crossing the threshold of distinct reporters disables the reported
// account exactly once. Returns false when the caller is not a participant
// or there is no other party to report.
func (e *Engine) ReportParticipant(ctx context.Context, cmd ReportCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}
	if cmd.ConversationID == "" {
		return false, shared.NewDomainError("lifecycle", "Report", shared.ErrInvalidArgument, "conversation id is required")
	}

	reported := false
	var pending []notify.Notification

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reported = false
		pending = nil

		convo, err := tx.Conversations().Get(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}

		if convo.RoleOf(uid) == conversation.RoleNone {
			return nil
		}
		target := convo.OtherParty(uid)
		if target == "" {
			return nil
		}

		set, err := tx.Reports().Get(ctx, target)
		if err != nil {
			return err
		}

		if set.Add(uid) {
			if err := tx.Reports().Put(ctx, set); err != nil {
				return err
			}
		}

		if set.OverThreshold() {
			banned, err := tx.Users().Get(ctx, target)
			if err != nil {
				return err
			}
			if !banned.Disabled {
				if err := tx.Users().Disable(ctx, target); err != nil {
					return err
				}
				if banned.NotificationToken != "" {
					pending = []notify.Notification{{
						Token: banned.NotificationToken,
						Title: "Banned",
						Body:  "You've been reported multiple times and are now banned",
					}}
				}
				e.logger.Warn("account disabled after reports",
					"uid", target, "reporters", set.Count())
			}
		}

		reported = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if reported {
		e.dispatch(ctx, pending)
	}
	return reported, nil
}
