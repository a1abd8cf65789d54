package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/candid-app/candid-core/internal/domain/report"
	"github.com/candid-app/candid-core/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ReportRepository implements report.Store for PostgreSQL.
type ReportRepository struct {
	q Querier
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(q Querier) *ReportRepository {
	return &ReportRepository{q: q}
}

// Get returns the report set for a uid; never-reported uids yield an empty set.
func (r *ReportRepository) Get(ctx context.Context, uid user.UID) (*report.ReportSet, error) {
	query := `SELECT reporters FROM reports WHERE uid = $1`

	var reporters []string
	err := r.q.QueryRow(ctx, query, uid.String()).Scan(&reporters)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &report.ReportSet{ReportedUID: uid}, nil
		}
		return nil, fmt.Errorf("failed to get report set: %w", err)
	}

	set := &report.ReportSet{ReportedUID: uid}
	for _, rep := range reporters {
		set.Reporters = append(set.Reporters, user.UID(rep))
	}
	return set, nil
}

// Put replaces the report set for its reported uid.
func (r *ReportRepository) Put(ctx context.Context, set *report.ReportSet) error {
	reporters := make([]string, len(set.Reporters))
	for i, rep := range set.Reporters {
		reporters[i] = rep.String()
	}

	query := `
		INSERT INTO reports (uid, reporters)
		VALUES ($1, $2)
		ON CONFLICT (uid) DO UPDATE SET reporters = EXCLUDED.reporters
	`

	if _, err := r.q.Exec(ctx, query, set.ReportedUID.String(), reporters); err != nil {
		return fmt.Errorf("failed to put report set: %w", err)
	}
	return nil
}
