package lifecycle

import (
	"context"

	"github.com/candid-app/candid-core/internal/auth"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER
// Assigns the next dense sequence id. The counter read and the user insert
// share one transaction so two simultaneous signups cannot both read
// count=N and write count=N+1.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand contains the data to create an account.
type RegisterUserCommand struct {
	// UID is the stable external identifier for the new account.
	UID string

	// Secret is the credential secret; only its hash is stored.
	Secret string
}

// Validate validates the command.
func (c RegisterUserCommand) Validate() error {
	if !user.UID(c.UID).IsValid() {
		return shared.NewDomainError("lifecycle", "RegisterUser", shared.ErrInvalidArgument, "invalid uid")
	}
	if c.Secret == "" {
		return shared.NewDomainError("lifecycle", "RegisterUser", shared.ErrInvalidArgument, "secret is required")
	}
	return nil
}

// RegisterUserResult contains the result of a registration.
type RegisterUserResult struct {
	// UID echoes the created account id.
	UID user.UID

	// SequenceID is the rotation id assigned to the account.
	SequenceID user.SequenceID
}

// RegisterUser creates an account and assigns it the next sequence id.
func (e *Engine) RegisterUser(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashSecret(cmd.Secret)
	if err != nil {
		return nil, err
	}

	uid := user.UID(cmd.UID)
	var result *RegisterUserResult

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Users().Get(ctx, uid); err == nil {
			return shared.ErrUserExists
		} else if !shared.IsNotFound(err) {
			return err
		}

		stats, err := tx.Users().Stats(ctx)
		if err != nil {
			return err
		}

		seq := user.SequenceID(stats.Count + 1)
		u, err := user.NewUser(uid, seq, hash)
		if err != nil {
			return err
		}
		u.CreatedAt = e.now()

		if err := tx.Users().Insert(ctx, u); err != nil {
			return err
		}

		stats.Count++
		if stats.NextID < 1 {
			stats.NextID = 1
		}
		if err := tx.Users().PutStats(ctx, stats); err != nil {
			return err
		}

		result = &RegisterUserResult{UID: uid, SequenceID: seq}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("user registered", "uid", result.UID, "sequence_id", result.SequenceID)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TOKEN
// Straight merges with no prior conditional read, so they skip the
// transaction machinery.
// ══════════════════════════════════════════════════════════════════════════════

// SetNotificationTokenCommand stores the caller's push token.
type SetNotificationTokenCommand struct {
	Credential string
	Token      string
}

// SetNotificationToken stores the caller's push token. Returns false for a
// token the push provider would reject wholesale.
func (e *Engine) SetNotificationToken(ctx context.Context, cmd SetNotificationTokenCommand) (bool, error) {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return false, err
	}

	if !notify.IsValidToken(cmd.Token) {
		return false, nil
	}

	if err := e.store.Plain().Users().SetNotificationToken(ctx, uid, cmd.Token); err != nil {
		return false, err
	}
	return true, nil
}

// ClearNotificationTokenCommand removes the caller's push token.
type ClearNotificationTokenCommand struct {
	Credential string
}

// ClearNotificationToken removes the caller's push token.
func (e *Engine) ClearNotificationToken(ctx context.Context, cmd ClearNotificationTokenCommand) error {
	uid, err := e.verify(ctx, cmd.Credential)
	if err != nil {
		return err
	}
	return e.store.Plain().Users().SetNotificationToken(ctx, uid, "")
}
