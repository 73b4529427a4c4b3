package repo

import (
	"context"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

type RunFilter struct {
	CreatedBy string
	Limit     int
}

type JobFilter struct {
	RunID  string
	Status domain.JobStatus
	Limit  int
}

// RunStore persists runs, jobs and job events. All coordination between
// workers goes through it.
type RunStore interface {
	// CreateRun stores a run and one open job per target atomically.
	CreateRun(ctx context.Context, spec domain.RunSpec, targets []string, createdBy string) (string, error)
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// ClaimJob moves one open job to processing. ok is false when there is
	// nothing to claim or another claimant won the race.
	ClaimJob(ctx context.Context) (job domain.Job, ok bool, err error)
	HeartbeatJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, status domain.JobStatus, body domain.Metadata) error
	ListStaleJobs(ctx context.Context, timeout time.Duration) ([]string, error)
	ShutdownJob(ctx context.Context, jobID string) error

	EmitLogEvent(ctx context.Context, jobID string, body domain.Metadata) error
	// ListEvents returns events in id order. With after set, only events
	// with a greater id are returned, plus the completion event if any.
	ListEvents(ctx context.Context, jobID string, after *int64) ([]domain.JobEvent, error)
}
