package report

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/candid-app/candid-core/internal/domain/user"
)

func TestAdd_DeduplicatesReporters(t *testing.T) {
	set := &ReportSet{ReportedUID: "target"}

	assert.True(t, set.Add("alice"))
	assert.False(t, set.Add("alice"), "repeat report from the same uid changes nothing")
	assert.True(t, set.Add("bob"))

	assert.Equal(t, 2, set.Count())
}

func TestOverThreshold(t *testing.T) {
	set := &ReportSet{ReportedUID: "target"}

	for i := 0; i < BanThreshold; i++ {
		set.Add(user.UID(fmt.Sprintf("reporter-%d", i)))
		assert.False(t, set.OverThreshold(), "at most %d reporters stays under", BanThreshold)
	}

	set.Add("one-more")
	assert.True(t, set.OverThreshold())
}
