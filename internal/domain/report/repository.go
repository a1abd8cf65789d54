package report

import (
	"context"

	"github.com/candid-app/candid-core/internal/domain/user"
)

// Store holds report sets keyed by reported uid.
type Store interface {
	// Get returns the report set for a uid. A uid that was never reported
	// yields an empty set, not an error.
	Get(ctx context.Context, uid user.UID) (*ReportSet, error)

	// Put replaces the report set for its reported uid.
	Put(ctx context.Context, set *ReportSet) error
}
