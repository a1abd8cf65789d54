// Package jobs contains implementations of scheduled jobs.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/candid-app/candid-core/internal/lifecycle"
)

// ══════════════════════════════════════════════════════════════════════════════
// REAP IDLE CONVERSATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReapIdleJob resets active conversations that have sat untouched past the
// idle window, putting the question back into rotation so the owner gets a
// fresh participant instead of a dead thread.
type ReapIdleJob struct {
	engine *lifecycle.Engine
	logger *slog.Logger

	totalReset atomic.Int64
}

// NewReapIdleJob creates the job.
func NewReapIdleJob(engine *lifecycle.Engine, logger *slog.Logger) *ReapIdleJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReapIdleJob{
		engine: engine,
		logger: logger,
	}
}

// Name implements scheduler.Job.
func (j *ReapIdleJob) Name() string {
	return "reap_idle_conversations"
}

// Description implements scheduler.Job.
func (j *ReapIdleJob) Description() string {
	return "Resets idle active conversations and re-invites participants"
}

// Run implements scheduler.Job.
func (j *ReapIdleJob) Run(ctx context.Context) error {
	reset, err := j.engine.RunReaperSweep(ctx)
	if err != nil {
		return err
	}
	j.totalReset.Add(int64(reset))
	return nil
}

// TotalReset returns how many conversations this job reset since start.
func (j *ReapIdleJob) TotalReset() int64 {
	return j.totalReset.Load()
}
