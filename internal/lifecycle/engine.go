// Package lifecycle orchestrates the conversation state machine.
//
// Every operation verifies the caller's credential first, runs its state
// transition inside one serializable storage transaction spanning the
// conversation document and both participants' index entries, and hands
// notifications off to the dispatcher only after the transaction committed.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/candid-app/candid-core/internal/auth"
	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/matchmaking"
	"github.com/candid-app/candid-core/internal/moderation"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains tunables for the lifecycle engine.
type Config struct {
	// PreserveHistoryOnLeave keeps the message history when the owner
	// resets the conversation. The default (false) deletes it, so the
	// question reopens fresh for the next participant.
	PreserveHistoryOnLeave bool

	// IdleWindow is how long an active conversation may sit untouched
	// before the reaper resets it.
	IdleWindow time.Duration

	// ReapEpoch is the cutoff before which conversations are never reaped,
	// protecting data that predates the reaper.
	ReapEpoch time.Time

	// ReapBatchSize bounds how many conversations one sweep resets.
	ReapBatchSize int

	// MatchTitle is the push title used when inviting potential joiners.
	MatchTitle string

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PreserveHistoryOnLeave: false,
		IdleWindow:             24 * time.Hour,
		ReapEpoch:              time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
		ReapBatchSize:          100,
		MatchTitle:             "Care to share your wisdom?",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine executes the conversation lifecycle operations.
type Engine struct {
	store     store.Store
	verifier  auth.Verifier
	moderator moderation.Moderator
	notifier  notify.Notifier
	config    Config
	logger    *slog.Logger

	// now and newID are swappable for tests.
	now   func() time.Time
	newID func() string
}

// NewEngine wires the engine with its collaborators.
func NewEngine(
	st store.Store,
	verifier auth.Verifier,
	moderator moderation.Moderator,
	notifier notify.Notifier,
	config Config,
) *Engine {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if config.IdleWindow <= 0 {
		config.IdleWindow = 24 * time.Hour
	}
	if config.ReapBatchSize <= 0 {
		config.ReapBatchSize = 100
	}
	if config.MatchTitle == "" {
		config.MatchTitle = "Care to share your wisdom?"
	}

	return &Engine{
		store:     st,
		verifier:  verifier,
		moderator: moderator,
		notifier:  notifier,
		config:    config,
		logger:    config.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// verify maps the caller's credential to a uid, failing closed.
func (e *Engine) verify(ctx context.Context, credential string) (user.UID, error) {
	return e.verifier.Verify(ctx, credential)
}

// dispatch hands notifications to the dispatcher after a commit. Failures
// are the notifier's problem; they never reach the caller.
func (e *Engine) dispatch(ctx context.Context, notifications []notify.Notification) {
	if len(notifications) == 0 {
		return
	}
	e.notifier.Enqueue(ctx, notifications...)
}

// matchAndInvite runs one rotation step inside the caller's transaction:
// reads the global cursor, picks candidates excluding the originator and
// everyone this conversation already pinged, advances the cursor, records
// the ids that actually got a ping, and returns the notifications to send
// after commit. The conversation is NOT persisted here; the caller owns
// the Put.
func (e *Engine) matchAndInvite(
	ctx context.Context,
	tx store.Tx,
	convo *conversation.Conversation,
	originator user.SequenceID,
) ([]notify.Notification, error) {
	stats, err := tx.Users().Stats(ctx)
	if err != nil {
		return nil, err
	}

	selection := matchmaking.Select(stats, originator, convo.RandomIDs)

	stats.NextID = selection.NextCursor
	if err := tx.Users().PutStats(ctx, stats); err != nil {
		return nil, err
	}

	if len(selection.Chosen) == 0 {
		return nil, nil
	}

	candidates, err := tx.Users().BySequenceIDs(ctx, selection.Chosen)
	if err != nil {
		return nil, err
	}

	notifications := make([]notify.Notification, 0, len(candidates))
	notified := make([]user.SequenceID, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Disabled || candidate.NotificationToken == "" {
			continue
		}
		notified = append(notified, candidate.SequenceID)
		notifications = append(notifications, notify.Notification{
			Token:          candidate.NotificationToken,
			Title:          e.config.MatchTitle,
			Body:           convo.Question,
			ConversationID: convo.ID,
		})
	}

	// Only ids that got a ping go on the record; a user without a token
	// today stays eligible for a later rematch.
	convo.RecordNotified(notified)
	return notifications, nil
}

// messageNotification builds the push for the other party of a new message.
func messageNotification(recipient *user.User, convo *conversation.Conversation, text string) []notify.Notification {
	if recipient == nil || recipient.NotificationToken == "" || recipient.Disabled {
		return nil
	}
	return []notify.Notification{{
		Token:          recipient.NotificationToken,
		Title:          convo.Question,
		Body:           text,
		ConversationID: convo.ID,
	}}
}
