package matchmaking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/candid-app/candid-core/internal/domain/user"
)

func TestSelect_NobodyToPick(t *testing.T) {
	tests := []struct {
		name  string
		stats user.GlobalStats
	}{
		{"empty population", user.GlobalStats{Count: 0, NextID: 1}},
		{"single user", user.GlobalStats{Count: 1, NextID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.stats, 1, nil)
			assert.Empty(t, sel.Chosen)
			assert.Equal(t, tt.stats.NextID, sel.NextCursor, "cursor must not move")
		})
	}
}

func TestSelect_ExcludesOriginator(t *testing.T) {
	stats := user.GlobalStats{Count: 5, NextID: 1}

	sel := Select(stats, 3, nil)

	assert.NotContains(t, sel.Chosen, user.SequenceID(3))
	assert.ElementsMatch(t, []user.SequenceID{1, 2, 4, 5}, sel.Chosen)
	assert.Equal(t, int64(1), sel.NextCursor, "full sweep of 5 wraps back to start")
}

func TestSelect_ExcludesAlreadyNotified(t *testing.T) {
	stats := user.GlobalStats{Count: 5, NextID: 1}

	sel := Select(stats, 1, []user.SequenceID{2, 4})

	assert.ElementsMatch(t, []user.SequenceID{3, 5}, sel.Chosen)
}

func TestSelect_BatchCap(t *testing.T) {
	stats := user.GlobalStats{Count: 100, NextID: 1}

	sel := Select(stats, 200, nil)

	assert.Len(t, sel.Chosen, BatchSize)
	assert.Equal(t, int64(BatchSize+1), sel.NextCursor)
}

func TestSelect_Wraparound(t *testing.T) {
	stats := user.GlobalStats{Count: 20, NextID: 18}

	sel := Select(stats, 100, nil)

	// 18..20 then 1..12.
	assert.Len(t, sel.Chosen, BatchSize)
	assert.Contains(t, sel.Chosen, user.SequenceID(18))
	assert.Contains(t, sel.Chosen, user.SequenceID(20))
	assert.Contains(t, sel.Chosen, user.SequenceID(1))
	assert.Contains(t, sel.Chosen, user.SequenceID(12))
	assert.NotContains(t, sel.Chosen, user.SequenceID(13))
	assert.Equal(t, int64(13), sel.NextCursor)
}

func TestSelect_CursorOutOfRangeResetsToStart(t *testing.T) {
	// A cursor beyond the population (stale after deletions or a fresh
	// database) restarts the sweep at 1.
	stats := user.GlobalStats{Count: 3, NextID: 9}

	sel := Select(stats, 99, nil)

	assert.ElementsMatch(t, []user.SequenceID{1, 2, 3}, sel.Chosen)
	assert.Equal(t, int64(1), sel.NextCursor)
}

func TestSelect_CursorAlwaysWithinRange(t *testing.T) {
	for count := int64(2); count <= 40; count++ {
		for next := int64(1); next <= count; next++ {
			sel := Select(user.GlobalStats{Count: count, NextID: next}, 1, nil)
			assert.GreaterOrEqual(t, sel.NextCursor, int64(1))
			assert.LessOrEqual(t, sel.NextCursor, count)
		}
	}
}
