// Package broker hands claimed jobs to workers and wakes idle claimers when
// new runs are dispatched. All coordination between processes goes through
// the run store; the in-process wake signal only shortens latency.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

type Broker struct {
	store    repo.RunStore
	resolver catalog.Resolver
	logger   *slog.Logger
	cfg      Config

	mu   sync.Mutex
	wake chan struct{}
}

func New(store repo.RunStore, resolver catalog.Resolver, logger *slog.Logger, cfg Config) (*Broker, error) {
	if store == nil {
		return nil, errors.New("run store is required")
	}
	if resolver == nil {
		return nil, errors.New("target resolver is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:    store,
		resolver: resolver,
		logger:   logger,
		cfg:      cfg,
		wake:     make(chan struct{}),
	}, nil
}

// Dispatch creates a run with one job per target and wakes every claimer
// currently waiting for work.
func (b *Broker) Dispatch(ctx context.Context, spec domain.RunSpec, targets []string, createdBy string) (string, error) {
	runID, err := b.store.CreateRun(ctx, spec, targets, createdBy)
	if err != nil {
		return "", err
	}
	b.broadcast()
	b.logger.Info("run dispatched", "run_id", runID, "targets", len(targets), "created_by", createdBy)
	return runID, nil
}

func (b *Broker) generation() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wake
}

func (b *Broker) broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.wake)
	b.wake = make(chan struct{})
}

// Claim blocks until a job is claimed or ctx is done.
func (b *Broker) Claim(ctx context.Context) (*JobContext, error) {
	for {
		// Taken before the store is queried so a dispatch landing in
		// between still wakes this claimer.
		wake := b.generation()

		job, ok, err := b.store.ClaimJob(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			jc, err := b.prepare(ctx, job)
			if err != nil {
				b.failClaimed(ctx, job, err.Error())
				continue
			}
			if jc != nil {
				return jc, nil
			}
			continue
		}

		timer := time.NewTimer(b.cfg.ClaimPollInterval)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// prepare loads what a worker needs for a claimed job. A nil context
// without error means the job was already settled here.
func (b *Broker) prepare(ctx context.Context, job domain.Job) (*JobContext, error) {
	run, err := b.store.GetRun(ctx, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	entity, found, err := b.resolver.EntityByRef(ctx, job.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve target %s: %w", job.Target, err)
	}
	if !found {
		b.failClaimed(ctx, job, fmt.Sprintf("Target not found in catalog: %s", job.Target))
		return nil, nil
	}
	spec := domain.JobSpec{Codemod: run.Spec, TargetRef: job.Target}
	return newJobContext(b.store, b.logger, b.cfg.HeartbeatInterval, job, spec, entity), nil
}

// failClaimed settles a job this broker claimed but cannot hand out. The write
// outlives ctx: a job left processing would only be recovered by the vacuum.
func (b *Broker) failClaimed(ctx context.Context, job domain.Job, message string) {
	ctx = context.WithoutCancel(ctx)
	b.logger.Warn("claimed job could not start", "job_id", job.ID, "run_id", job.RunID, "target", job.Target, "reason", message)
	if err := b.store.CompleteJob(ctx, job.ID, domain.JobStatusFailed, domain.Metadata{"message": message}); err != nil {
		b.logger.Error("fail claimed job", "job_id", job.ID, "error", err)
	}
}

// VacuumJobs fails every job whose heartbeat is older than timeout. A job
// that cannot be shut down is logged and skipped.
func (b *Broker) VacuumJobs(ctx context.Context, timeout time.Duration) error {
	ids, err := b.store.ListStaleJobs(ctx, timeout)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.store.ShutdownJob(ctx, id); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				b.logger.Debug("stale job settled concurrently", "job_id", id)
				continue
			}
			b.logger.Warn("failed to shut down stale job", "job_id", id, "error", err)
			continue
		}
		b.logger.Info("stale job shut down", "job_id", id, "timeout", timeout.String())
	}
	return nil
}

// RunVacuum sweeps stale jobs on the configured interval until ctx is done.
func (b *Broker) RunVacuum(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.VacuumInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.VacuumJobs(ctx, b.cfg.VacuumTimeout); err != nil && ctx.Err() == nil {
				b.logger.Error("vacuum jobs", "error", err)
			}
		}
	}
}

func (b *Broker) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return b.store.GetRun(ctx, id)
}

func (b *Broker) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return b.store.ListRuns(ctx, filter)
}

func (b *Broker) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return b.store.GetJob(ctx, id)
}

func (b *Broker) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	return b.store.ListJobs(ctx, filter)
}

func (b *Broker) ListEvents(ctx context.Context, jobID string, after *int64) ([]domain.JobEvent, error) {
	return b.store.ListEvents(ctx, jobID, after)
}
