package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candid-app/candid-core/internal/auth"
	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/moderation"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

const testSecret = "s3cret"

type capturingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *capturingNotifier) Enqueue(_ context.Context, ns ...notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ns...)
}

// take drains and returns everything enqueued since the last call.
func (c *capturingNotifier) take() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

type fixture struct {
	engine *Engine
	store  *memory.Store
	pushes *capturingNotifier

	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.NewStore()
	pushes := &capturingNotifier{}

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	e := NewEngine(
		st,
		auth.NewCredentialVerifier(st.Plain().Users()),
		moderation.NewFilter(moderation.FilterConfig{}),
		pushes,
		cfg,
	)

	f := &fixture{
		engine: e,
		store:  st,
		pushes: pushes,
		clock:  time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}

	e.now = func() time.Time { return f.clock }
	var seq int
	e.newID = func() string {
		seq++
		return fmt.Sprintf("generated-%04d", seq)
	}

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// register creates an account and returns its credential. withToken also
// stores a valid push token so the account is reachable by matchmaking.
func (f *fixture) register(t *testing.T, uid string, withToken bool) string {
	t.Helper()

	_, err := f.engine.RegisterUser(context.Background(), RegisterUserCommand{
		UID: uid, Secret: testSecret,
	})
	require.NoError(t, err)

	credential := uid + "." + testSecret
	if withToken {
		ok, err := f.engine.SetNotificationToken(context.Background(), SetNotificationTokenCommand{
			Credential: credential,
			Token:      "ExponentPushToken[" + uid + "]",
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	return credential
}

func (f *fixture) conversation(t *testing.T, id string) *conversation.Conversation {
	t.Helper()
	convo, err := f.store.Plain().Conversations().Get(context.Background(), id)
	require.NoError(t, err)
	return convo
}

func (f *fixture) messages(t *testing.T, id string) []conversation.Message {
	t.Helper()
	msgs, err := f.store.Plain().Conversations().Messages(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRegisterUser_AssignsDenseSequenceIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, uid := range []string{"asker", "helper", "lurker"} {
		res, err := f.engine.RegisterUser(ctx, RegisterUserCommand{UID: uid, Secret: testSecret})
		require.NoError(t, err)
		assert.Equal(t, user.SequenceID(i+1), res.SequenceID)
	}

	stats, err := f.store.Plain().Users().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.True(t, stats.Valid())
}

func TestRegisterUser_RejectsDuplicateUID(t *testing.T) {
	f := newFixture(t)
	f.register(t, "asker", false)

	_, err := f.engine.RegisterUser(context.Background(), RegisterUserCommand{
		UID: "asker", Secret: "other-secret",
	})
	assert.ErrorIs(t, err, shared.ErrUserExists)
}

func TestSetNotificationToken_RejectsMalformedToken(t *testing.T) {
	f := newFixture(t)
	cred := f.register(t, "asker", false)

	ok, err := f.engine.SetNotificationToken(context.Background(), SetNotificationTokenCommand{
		Credential: cred, Token: "definitely-not-a-push-token",
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE + MATCHMAKING
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateConversation_InvitesEveryoneButTheOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	f.register(t, "helper1", true)
	f.register(t, "helper2", true)
	f.register(t, "helper3", true)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "should I move abroad?",
	})
	require.NoError(t, err)

	convo := f.conversation(t, id)
	assert.True(t, convo.Pending)
	require.Len(t, convo.PendingMessages, 1)
	assert.Equal(t, "should I move abroad?", convo.PendingMessages[0].Text)

	sent := f.pushes.take()
	require.Len(t, sent, 3)
	for _, n := range sent {
		assert.NotEqual(t, "ExponentPushToken[asker]", n.Token)
		assert.Equal(t, "Care to share your wisdom?", n.Title)
		assert.Equal(t, "should I move abroad?", n.Body)
		assert.Equal(t, id, n.ConversationID)
	}

	entry, err := f.store.Plain().Users().Membership(ctx, "asker", id)
	require.NoError(t, err)
	assert.True(t, entry.Primary)
	assert.False(t, entry.Unread)
}

func TestCreateConversation_SkipsTokenlessUsers(t *testing.T) {
	f := newFixture(t)

	asker := f.register(t, "asker", false)
	f.register(t, "helper1", true)
	f.register(t, "ghost", false)

	_, err := f.engine.CreateConversation(context.Background(), CreateConversationCommand{
		Credential: asker, Question: "how do I say no at work?",
	})
	require.NoError(t, err)

	sent := f.pushes.take()
	require.Len(t, sent, 1)
	assert.Equal(t, "ExponentPushToken[helper1]", sent[0].Token)
}

func TestCreateConversation_TokenlessUsersStayEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	f.register(t, "latecomer", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "is it too late to learn piano?",
	})
	require.NoError(t, err)
	require.Empty(t, f.pushes.take())

	convo := f.conversation(t, id)
	assert.Empty(t, convo.RandomIDs, "nobody was pinged, nobody is excluded")

	// The latecomer registers a token; the owner's reset reaches them.
	_, err = f.engine.SetNotificationToken(ctx, SetNotificationTokenCommand{
		Credential: "latecomer." + testSecret,
		Token:      "ExponentPushToken[latecomer]",
	})
	require.NoError(t, err)

	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, left)

	sent := f.pushes.take()
	require.Len(t, sent, 1)
	assert.Equal(t, "ExponentPushToken[latecomer]", sent[0].Token)
}

func TestCreateConversation_AloneMeansNoInvites(t *testing.T) {
	f := newFixture(t)
	asker := f.register(t, "asker", true)

	id, err := f.engine.CreateConversation(context.Background(), CreateConversationCommand{
		Credential: asker, Question: "anyone out there?",
	})
	require.NoError(t, err)
	assert.Empty(t, f.pushes.take())
	assert.True(t, f.conversation(t, id).Pending)
}

func TestCreateConversation_ModeratesQuestion(t *testing.T) {
	f := newFixture(t)
	asker := f.register(t, "asker", false)

	id, err := f.engine.CreateConversation(context.Background(), CreateConversationCommand{
		Credential: asker, Question: "is this damn job worth it?",
	})
	require.NoError(t, err)

	convo := f.conversation(t, id)
	assert.Equal(t, "is this **** job worth it?", convo.Question)
}

func TestCreateConversation_RejectsOverlongQuestion(t *testing.T) {
	f := newFixture(t)
	asker := f.register(t, "asker", false)

	long := make([]rune, conversation.MaxQuestionLength+1)
	for i := range long {
		long[i] = 'q'
	}

	_, err := f.engine.CreateConversation(context.Background(), CreateConversationCommand{
		Credential: asker, Question: string(long),
	})
	assert.ErrorIs(t, err, shared.ErrQuestionTooLong)
}

func TestCreateConversation_PrimaryQuota(t *testing.T) {
	f := newFixture(t)
	asker := f.register(t, "asker", false)
	ctx := context.Background()

	for i := 0; i < user.MaxPrimaryConversations; i++ {
		_, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
			Credential: asker, Question: fmt.Sprintf("question %d", i),
		})
		require.NoError(t, err)
	}

	_, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "one too many",
	})
	assert.ErrorIs(t, err, shared.ErrTooManyPrimary)
}

func TestCreateConversation_RotationNeverRepingsAcrossRematch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	f.register(t, "helper1", true)
	f.register(t, "helper2", true)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "will anyone answer twice?",
	})
	require.NoError(t, err)
	require.Len(t, f.pushes.take(), 2)

	// Owner resets; both helpers were already pinged for this conversation.
	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, left)

	assert.Empty(t, f.pushes.take(), "a rematch must not ping the same users again")
}

// ══════════════════════════════════════════════════════════════════════════════
// JOIN
// ══════════════════════════════════════════════════════════════════════════════

func TestJoinConversation_FlushesBacklogAndNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	helper := f.register(t, "helper", true)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "should I adopt a dog?",
	})
	require.NoError(t, err)

	f.advance(time.Minute)
	queued, err := f.engine.CreatePendingMessage(ctx, CreatePendingMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "ctx-1", Text: "I live in a small flat",
	})
	require.NoError(t, err)
	require.True(t, queued)
	f.pushes.take()

	f.advance(10 * time.Minute)
	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential:     helper,
		ConversationID: id,
		FirstReply:     "small dogs exist, go for it",
		ReplyID:        "reply-1",
	})
	require.NoError(t, err)
	require.True(t, joined)

	convo := f.conversation(t, id)
	assert.False(t, convo.Pending)
	assert.Equal(t, user.UID("helper"), convo.NewUID)
	assert.Empty(t, convo.PendingMessages, "backlog flushed exactly once")

	msgs := f.messages(t, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, "should I adopt a dog?", msgs[0].Text)
	assert.Equal(t, user.UID("asker"), msgs[0].AuthorUID)
	assert.Equal(t, "I live in a small flat", msgs[1].Text)
	assert.Equal(t, "small dogs exist, go for it", msgs[2].Text)
	assert.True(t, msgs[0].SentAt.Before(msgs[2].SentAt), "backlog keeps original timestamps")

	ownerEntry, err := f.store.Plain().Users().Membership(ctx, "asker", id)
	require.NoError(t, err)
	assert.True(t, ownerEntry.Unread)

	sent := f.pushes.take()
	require.Len(t, sent, 1)
	assert.Equal(t, "ExponentPushToken[asker]", sent[0].Token)
	assert.Equal(t, "should I adopt a dog?", sent[0].Title)
	assert.Equal(t, "small dogs exist, go for it", sent[0].Body)
}

func TestJoinConversation_SecondJoinerLosesTheRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	first := f.register(t, "first", false)
	second := f.register(t, "second", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "which framework should I learn?",
	})
	require.NoError(t, err)

	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: first, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, joined)

	joined, err = f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: second, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, joined, "no error, just not joined")
}

func TestJoinConversation_OwnerCannotAnswerOwnQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := f.register(t, "asker", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "am I talking to myself?",
	})
	require.NoError(t, err)

	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestJoinConversation_SilentJoinKeepsOwnerUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	first := f.register(t, "first", false)
	second := f.register(t, "second", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "does anyone proofread contracts?",
	})
	require.NoError(t, err)

	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: first, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, joined)

	// The departure notice leaves the owner with an unread entry.
	removed, err := f.engine.RemoveSelf(ctx, RemoveSelfCommand{
		Credential: first, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, removed)
	f.pushes.take()

	joined, err = f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: second, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, joined)

	ownerEntry, err := f.store.Plain().Users().Membership(ctx, "asker", id)
	require.NoError(t, err)
	assert.True(t, ownerEntry.Unread, "the departure notice is still unseen")
	assert.Empty(t, f.pushes.take(), "a join without a reply sends nothing")
}

func TestJoinConversation_StateCheckedBeforeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	first := f.register(t, "first", false)
	busy := f.register(t, "busy", false)
	id := activePair(t, f, asker, first)

	for i := 0; i < user.MaxTotalConversations; i++ {
		require.NoError(t, f.store.Plain().Users().UpsertMembership(ctx, "busy", user.MembershipEntry{
			ConversationID: fmt.Sprintf("other-%d", i),
			Question:       "elsewhere",
			LastUpdated:    f.clock,
		}))
	}

	// The conversation is already taken: the routine false, not a quota
	// complaint.
	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: busy, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, joined)

	// A genuinely joinable one still enforces the cap.
	id2, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "round two",
	})
	require.NoError(t, err)

	_, err = f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: busy, ConversationID: id2,
	})
	assert.ErrorIs(t, err, shared.ErrTooManyConvos)
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGING
// ══════════════════════════════════════════════════════════════════════════════

// activePair creates a conversation and joins the helper, returning its id.
func activePair(t *testing.T, f *fixture, asker, helper string) string {
	t.Helper()
	ctx := context.Background()

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "how do I handle my flatmate?",
	})
	require.NoError(t, err)

	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, joined)

	f.pushes.take()
	return id
}

func TestCreateMessage_DeliversAndMarksUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", true)
	helper := f.register(t, "helper", true)
	id := activePair(t, f, asker, helper)

	sent, err := f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "m-1", Text: "they never do the dishes",
	})
	require.NoError(t, err)
	require.True(t, sent)

	helperEntry, err := f.store.Plain().Users().Membership(ctx, "helper", id)
	require.NoError(t, err)
	assert.True(t, helperEntry.Unread)

	pushes := f.pushes.take()
	require.Len(t, pushes, 1)
	assert.Equal(t, "ExponentPushToken[helper]", pushes[0].Token)
	assert.Equal(t, "they never do the dishes", pushes[0].Body)
}

func TestCreateMessage_ResendWithSameIDNeverDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	cmd := CreateMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "m-1", Text: "hello?",
	}
	for i := 0; i < 3; i++ {
		sent, err := f.engine.CreateMessage(ctx, cmd)
		require.NoError(t, err)
		require.True(t, sent)
	}

	msgs := f.messages(t, id)
	count := 0
	for _, m := range msgs {
		if m.ID == "m-1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCreateMessage_RequiresActiveParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	stranger := f.register(t, "stranger", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "quiet in here",
	})
	require.NoError(t, err)

	// Nobody joined yet; even the owner must use the pending path.
	sent, err := f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "m-1", Text: "hello",
	})
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: stranger, ConversationID: id, MessageID: "m-2", Text: "hello",
	})
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestCreatePendingMessage_OwnerOnlyAndOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "context incoming",
	})
	require.NoError(t, err)

	queued, err := f.engine.CreatePendingMessage(ctx, CreatePendingMessageCommand{
		Credential: helper, ConversationID: id, MessageID: "p-1", Text: "not my question",
	})
	require.NoError(t, err)
	assert.False(t, queued, "only the owner queues context")

	queued, err = f.engine.CreatePendingMessage(ctx, CreatePendingMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "p-2", Text: "more context",
	})
	require.NoError(t, err)
	assert.True(t, queued)

	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, joined)

	queued, err = f.engine.CreatePendingMessage(ctx, CreatePendingMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "p-3", Text: "too late",
	})
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	_, err := f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: helper, ConversationID: id, MessageID: "m-1", Text: "my two cents",
	})
	require.NoError(t, err)

	cleared, err := f.engine.MarkRead(ctx, MarkReadCommand{Credential: asker, ConversationID: id})
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = f.engine.MarkRead(ctx, MarkReadCommand{Credential: asker, ConversationID: id})
	require.NoError(t, err)
	assert.False(t, cleared, "already read")

	cleared, err = f.engine.MarkRead(ctx, MarkReadCommand{Credential: asker, ConversationID: "no-such"})
	require.NoError(t, err)
	assert.False(t, cleared)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEAVING
// ══════════════════════════════════════════════════════════════════════════════

func TestRemoveSelf_RevertsToPendingWithSystemMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	removed, err := f.engine.RemoveSelf(ctx, RemoveSelfCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, removed)

	convo := f.conversation(t, id)
	assert.True(t, convo.Pending)
	assert.True(t, convo.HasLeft("helper"))

	_, err = f.store.Plain().Users().Membership(ctx, "helper", id)
	assert.True(t, shared.IsNotFound(err))

	ownerEntry, err := f.store.Plain().Users().Membership(ctx, "asker", id)
	require.NoError(t, err)
	assert.True(t, ownerEntry.Unread)

	var sawSystem bool
	for _, m := range f.messages(t, id) {
		if m.Text == conversation.LeftConversationText {
			sawSystem = true
		}
	}
	assert.True(t, sawSystem, "owner must see the departure notice")

	// Leaving is forever.
	joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestRemoveSelf_OwnerCannotUseIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	removed, err := f.engine.RemoveSelf(ctx, RemoveSelfCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLeaveConversation_ResetsHistoryAndEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	_, err := f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: helper, ConversationID: id, MessageID: "m-1", Text: "honestly, move out",
	})
	require.NoError(t, err)

	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, left)

	convo := f.conversation(t, id)
	assert.True(t, convo.Pending)
	assert.True(t, convo.HasLeft("helper"))
	require.Len(t, convo.PendingMessages, 1, "question reseeded as the only backlog entry")
	assert.Equal(t, convo.Question, convo.PendingMessages[0].Text)

	assert.Empty(t, f.messages(t, id), "old history is gone")

	_, err = f.store.Plain().Users().Membership(ctx, "helper", id)
	assert.True(t, shared.IsNotFound(err))
}

func TestLeaveConversation_PendingKeepsQueuedContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "how do I price freelance work?",
	})
	require.NoError(t, err)

	queued, err := f.engine.CreatePendingMessage(ctx, CreatePendingMessageCommand{
		Credential: asker, ConversationID: id, MessageID: "ctx-1", Text: "I have ten years of experience",
	})
	require.NoError(t, err)
	require.True(t, queued)

	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, left)

	convo := f.conversation(t, id)
	require.Len(t, convo.PendingMessages, 2, "nobody read the backlog, nothing to reset")
	assert.Equal(t, convo.Question, convo.PendingMessages[0].Text)
	assert.Equal(t, "I have ten years of experience", convo.PendingMessages[1].Text)
}

func TestLeaveConversation_NonOwnerRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, left)
}

func TestLeaveConversation_PreserveHistoryMode(t *testing.T) {
	f := newFixture(t)
	f.engine.config.PreserveHistoryOnLeave = true
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	_, err := f.engine.CreateMessage(ctx, CreateMessageCommand{
		Credential: helper, ConversationID: id, MessageID: "m-1", Text: "keep this",
	})
	require.NoError(t, err)

	left, err := f.engine.LeaveConversation(ctx, LeaveConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, left)

	assert.NotEmpty(t, f.messages(t, id), "history survives in preserve mode")
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE
// ══════════════════════════════════════════════════════════════════════════════

func TestDeleteConversation_OwnerOnlyAndTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	deleted, err := f.engine.DeleteConversation(ctx, DeleteConversationCommand{
		Credential: helper, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = f.engine.DeleteConversation(ctx, DeleteConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = f.store.Plain().Conversations().Get(ctx, id)
	assert.True(t, shared.IsNotFound(err))
	_, err = f.store.Plain().Users().Membership(ctx, "asker", id)
	assert.True(t, shared.IsNotFound(err))
	_, err = f.store.Plain().Users().Membership(ctx, "helper", id)
	assert.True(t, shared.IsNotFound(err))

	// A second delete of the same id is a calm false, not an error.
	deleted, err = f.engine.DeleteConversation(ctx, DeleteConversationCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, deleted)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func TestReportParticipant_BansAfterDistinctReporters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := f.register(t, "troll", true)

	// Seven distinct owners each share a conversation with the target and
	// report them.
	for i := 0; i < 7; i++ {
		owner := f.register(t, fmt.Sprintf("owner%d", i), false)

		id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
			Credential: owner, Question: fmt.Sprintf("question %d", i),
		})
		require.NoError(t, err)

		joined, err := f.engine.JoinConversation(ctx, JoinConversationCommand{
			Credential: target, ConversationID: id,
		})
		require.NoError(t, err)
		require.True(t, joined)
		f.pushes.take()

		reported, err := f.engine.ReportParticipant(ctx, ReportCommand{
			Credential: owner, ConversationID: id,
		})
		require.NoError(t, err)
		require.True(t, reported)

		banned, err := f.store.Plain().Users().Get(ctx, "troll")
		require.NoError(t, err)
		if i < 6 {
			assert.False(t, banned.Disabled, "under threshold after %d reporters", i+1)
		} else {
			assert.True(t, banned.Disabled, "over threshold")
			pushes := f.pushes.take()
			require.Len(t, pushes, 1)
			assert.Equal(t, "Banned", pushes[0].Title)
			assert.Equal(t, "You've been reported multiple times and are now banned", pushes[0].Body)
		}
	}

	// A banned account fails verification everywhere.
	_, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: target, Question: "let me back in",
	})
	assert.True(t, shared.IsUnauthenticated(err))
}

func TestReportParticipant_SameReporterCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	for i := 0; i < 20; i++ {
		reported, err := f.engine.ReportParticipant(ctx, ReportCommand{
			Credential: asker, ConversationID: id,
		})
		require.NoError(t, err)
		require.True(t, reported)
	}

	helperUser, err := f.store.Plain().Users().Get(ctx, "helper")
	require.NoError(t, err)
	assert.False(t, helperUser.Disabled, "one angry reporter is not a ban")
}

func TestReportParticipant_RequiresOtherParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	stranger := f.register(t, "stranger", false)

	id, err := f.engine.CreateConversation(ctx, CreateConversationCommand{
		Credential: asker, Question: "nobody here yet",
	})
	require.NoError(t, err)

	reported, err := f.engine.ReportParticipant(ctx, ReportCommand{
		Credential: asker, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, reported, "pending conversation has nobody to report")

	reported, err = f.engine.ReportParticipant(ctx, ReportCommand{
		Credential: stranger, ConversationID: id,
	})
	require.NoError(t, err)
	assert.False(t, reported)
}

// ══════════════════════════════════════════════════════════════════════════════
// REAPER
// ══════════════════════════════════════════════════════════════════════════════

func TestReaperSweep_ResetsIdleActiveConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	f.advance(f.engine.config.IdleWindow + time.Hour)

	reset, err := f.engine.RunReaperSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	convo := f.conversation(t, id)
	assert.True(t, convo.Pending)
	assert.True(t, convo.HasLeft("helper"))

	_, err = f.store.Plain().Users().Membership(ctx, "helper", id)
	assert.True(t, shared.IsNotFound(err))

	// A reset conversation is pending and does not match again.
	reset, err = f.engine.RunReaperSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset)
}

func TestReaperSweep_LeavesFreshConversationsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	asker := f.register(t, "asker", false)
	helper := f.register(t, "helper", false)
	id := activePair(t, f, asker, helper)

	f.advance(f.engine.config.IdleWindow - time.Hour)

	reset, err := f.engine.RunReaperSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset)
	assert.False(t, f.conversation(t, id).Pending)
}

func TestReaperSweep_RespectsEpochCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "asker", false)

	ancient := &conversation.Conversation{
		ID:         "ancient",
		Question:   "from before the sweep existed",
		OwnerUID:   "asker",
		NewUID:     "long-gone",
		Pending:    false,
		CreatedAt:  time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC),
		ModifiedAt: time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Plain().Conversations().Put(ctx, ancient))

	reset, err := f.engine.RunReaperSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset)
	assert.False(t, f.conversation(t, "ancient").Pending)
}
