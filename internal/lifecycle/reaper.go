package lifecycle

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// REAPER SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// RunReaperSweep resets active conversations that sat untouched longer than
// the idle window, running the same owner-leaves transition as
// LeaveConversation for each. Conversations older than the epoch cutoff are
// left alone. Idempotent: a conversation reset by a previous sweep is
// pending again and no longer matches the idle predicate. Returns the
// number of conversations reset.
func (e *Engine) RunReaperSweep(ctx context.Context) (int, error) {
	olderThan := e.now().Add(-e.config.IdleWindow)

	ids, err := e.store.Plain().Conversations().ListIdle(ctx, olderThan, e.config.ReapEpoch, e.config.ReapBatchSize)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, id := range ids {
		var pending []notify.Notification
		didReset := false

		err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			pending = nil
			didReset = false

			convo, err := tx.Conversations().Get(ctx, id)
			if err != nil {
				if shared.IsNotFound(err) {
					return nil
				}
				return err
			}
			// The candidate list is a stale snapshot; re-check inside the
			// transaction so a conversation touched since then survives.
			if convo.Pending || convo.ModifiedAt.After(olderThan) {
				return nil
			}

			pending, err = e.vacateAndRematch(ctx, tx, convo)
			if err != nil {
				return err
			}

			didReset = true
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return reset, ctx.Err()
			}
			e.logger.Error("failed to reap conversation", "conversation_id", id, "error", err)
			continue
		}

		if didReset {
			reset++
			e.dispatch(ctx, pending)
		}
	}

	if reset > 0 {
		e.logger.Info("reaper sweep finished", "reset", reset, "candidates", len(ids))
	}
	return reset, nil
}
