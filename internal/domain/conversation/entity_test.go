package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newPending(t *testing.T) *Conversation {
	t.Helper()
	convo, err := New("convo-1", "owner", "should I change jobs?", "msg-1", t0)
	require.NoError(t, err)
	return convo
}

func TestNew_SeedsQuestionAsPendingMessage(t *testing.T) {
	convo := newPending(t)

	assert.Equal(t, StatePending, convo.State())
	require.Len(t, convo.PendingMessages, 1)
	assert.Equal(t, "should I change jobs?", convo.PendingMessages[0].Text)
	assert.Equal(t, "owner", convo.PendingMessages[0].AuthorUID)
}

func TestNew_RejectsOverlongQuestion(t *testing.T) {
	long := make([]rune, MaxQuestionLength+1)
	for i := range long {
		long[i] = 'x'
	}

	_, err := New("convo-1", "owner", string(long), "msg-1", t0)
	assert.ErrorIs(t, err, shared.ErrQuestionTooLong)
}

func TestAdmit_FlushesBacklogAndActivates(t *testing.T) {
	convo := newPending(t)
	require.NoError(t, convo.QueuePending("owner", PendingMessage{
		ID: "msg-2", Text: "some more context", AuthorUID: "owner", SentAt: t0,
	}))

	later := t0.Add(time.Hour)
	flush, err := convo.Admit("joiner", later)
	require.NoError(t, err)

	assert.Len(t, flush, 2)
	assert.Empty(t, convo.PendingMessages, "backlog moves out, never duplicates")
	assert.Equal(t, StateActive, convo.State())
	assert.Equal(t, user.UID("joiner"), convo.NewUID)
	assert.Equal(t, later, convo.ModifiedAt)
}

func TestAdmit_Rejections(t *testing.T) {
	t.Run("owner joining own question", func(t *testing.T) {
		convo := newPending(t)
		_, err := convo.Admit("owner", t0)
		assert.ErrorIs(t, err, shared.ErrNotPending)
	})

	t.Run("already active", func(t *testing.T) {
		convo := newPending(t)
		_, err := convo.Admit("first", t0)
		require.NoError(t, err)

		_, err = convo.Admit("second", t0)
		assert.ErrorIs(t, err, shared.ErrNotPending)
	})

	t.Run("previous leaver can never rejoin", func(t *testing.T) {
		convo := newPending(t)
		_, err := convo.Admit("joiner", t0)
		require.NoError(t, err)
		require.NoError(t, convo.Withdraw("joiner", t0))

		_, err = convo.Admit("joiner", t0)
		assert.ErrorIs(t, err, shared.ErrRejoinForbidden)
	})
}

func TestVacate_EvictsParticipant(t *testing.T) {
	convo := newPending(t)
	_, err := convo.Admit("joiner", t0)
	require.NoError(t, err)

	evicted := convo.Vacate(t0.Add(time.Hour))

	assert.Equal(t, user.UID("joiner"), evicted)
	assert.True(t, convo.Pending)
	assert.Empty(t, convo.NewUID)
	assert.True(t, convo.HasLeft("joiner"))
}

func TestVacate_WhilePendingEvictsNobody(t *testing.T) {
	convo := newPending(t)

	evicted := convo.Vacate(t0)

	assert.Empty(t, evicted)
	assert.True(t, convo.Pending)
	assert.Empty(t, convo.OldUIDs)
}

func TestWithdraw(t *testing.T) {
	convo := newPending(t)
	_, err := convo.Admit("joiner", t0)
	require.NoError(t, err)

	require.NoError(t, convo.Withdraw("joiner", t0.Add(time.Minute)))

	assert.True(t, convo.Pending)
	assert.Empty(t, convo.NewUID)
	assert.True(t, convo.HasLeft("joiner"))
}

func TestWithdraw_OnlyCurrentParticipant(t *testing.T) {
	convo := newPending(t)
	_, err := convo.Admit("joiner", t0)
	require.NoError(t, err)

	assert.ErrorIs(t, convo.Withdraw("owner", t0), shared.ErrNotParticipant)
	assert.ErrorIs(t, convo.Withdraw("stranger", t0), shared.ErrNotParticipant)
	assert.Equal(t, StateActive, convo.State())
}

func TestQueuePending_OwnerOnlyWhilePending(t *testing.T) {
	convo := newPending(t)

	err := convo.QueuePending("stranger", PendingMessage{ID: "m", Text: "hi"})
	assert.ErrorIs(t, err, shared.ErrNotOwner)

	_, err = convo.Admit("joiner", t0)
	require.NoError(t, err)

	err = convo.QueuePending("owner", PendingMessage{ID: "m", Text: "hi"})
	assert.ErrorIs(t, err, shared.ErrNotPending)
}

func TestOtherParty(t *testing.T) {
	convo := newPending(t)

	assert.Empty(t, convo.OtherParty("owner"), "pending has no counterpart")

	_, err := convo.Admit("joiner", t0)
	require.NoError(t, err)

	assert.Equal(t, user.UID("joiner"), convo.OtherParty("owner"))
	assert.Equal(t, user.UID("owner"), convo.OtherParty("joiner"))
	assert.Empty(t, convo.OtherParty("stranger"))
}

func TestRecordNotified_Deduplicates(t *testing.T) {
	convo := newPending(t)

	convo.RecordNotified([]user.SequenceID{1, 2, 3})
	convo.RecordNotified([]user.SequenceID{2, 3, 4})

	assert.Equal(t, []user.SequenceID{1, 2, 3, 4}, convo.RandomIDs)
}
