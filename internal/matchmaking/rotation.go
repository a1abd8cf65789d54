// Package matchmaking selects recipients for new or reopened conversations.
//
// A single rotation cursor (GlobalStats.NextID) is shared process-wide and
// read-modify-written inside the caller's storage transaction, so repeated
// matchmaking calls sweep the user population evenly instead of hammering
// the same users. The wraparound is plain modular arithmetic over the dense
// sequence-id space 1..count.
package matchmaking

import (
	"github.com/candid-app/candid-core/internal/domain/user"
)

// BatchSize is the maximum number of users pinged per matchmaking call.
const BatchSize = 15

// Selection is the outcome of one rotation step.
type Selection struct {
	// Chosen - sequence ids to notify, possibly empty. Never contains the
	// originator or an already-notified id.
	Chosen []user.SequenceID

	// NextCursor - the value the rotation cursor must be advanced to, in the
	// same transaction that read it.
	NextCursor int64
}

// Select picks up to min(BatchSize, count) candidates starting at the
// rotation cursor, excluding the originator and every id in alreadyNotified.
// Selection never fails; with count <= 1 there is nobody to pick and the
// cursor is left alone.
func Select(stats user.GlobalStats, originator user.SequenceID, alreadyNotified []user.SequenceID) Selection {
	count := stats.Count
	if count <= 1 {
		return Selection{NextCursor: stats.NextID}
	}

	next := stats.NextID
	if next < 1 || next > count {
		next = 1
	}

	k := int64(BatchSize)
	if count < k {
		k = count
	}

	skip := make(map[user.SequenceID]struct{}, len(alreadyNotified)+1)
	skip[originator] = struct{}{}
	for _, id := range alreadyNotified {
		skip[id] = struct{}{}
	}

	chosen := make([]user.SequenceID, 0, k)
	for i := int64(0); i < k; i++ {
		candidate := user.SequenceID((next-1+i)%count + 1)
		if _, excluded := skip[candidate]; excluded {
			continue
		}
		chosen = append(chosen, candidate)
	}

	return Selection{
		Chosen:     chosen,
		NextCursor: (next-1+k)%count + 1,
	}
}
