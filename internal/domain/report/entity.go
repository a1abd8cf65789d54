// Package report tracks abuse reports per reported user and decides when an
// account crosses the ban threshold.
package report

import "github.com/candid-app/candid-core/internal/domain/user"

// BanThreshold is the number of distinct reporters above which the reported
// account is disabled.
const BanThreshold = 6

// ReportSet is the accumulated reports against one user. Reporter uids have
// set semantics: the same reporter counts once no matter how often they
// report.
type ReportSet struct {
	// ReportedUID - the user the reports are against.
	ReportedUID user.UID

	// Reporters - distinct uids that reported this user.
	Reporters []user.UID
}

// Add records a reporter, deduplicating repeat reports from the same uid.
// Returns true when the set changed.
func (r *ReportSet) Add(reporter user.UID) bool {
	for _, existing := range r.Reporters {
		if existing == reporter {
			return false
		}
	}
	r.Reporters = append(r.Reporters, reporter)
	return true
}

// Count returns the number of distinct reporters.
func (r *ReportSet) Count() int {
	return len(r.Reporters)
}

// OverThreshold reports whether the account must be disabled. The caller is
// expected to evaluate this against the post-merge set, never a pre-merge
// local count, so concurrent reporters cannot race the check below the true
// cardinality.
func (r *ReportSet) OverThreshold() bool {
	return r.Count() > BanThreshold
}
