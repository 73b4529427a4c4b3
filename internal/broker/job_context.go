package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

// JobContext is the handle a worker holds on a claimed job. While it is
// alive a heartbeat keeps the job from being vacuumed.
type JobContext struct {
	store  repo.RunStore
	logger *slog.Logger
	job    domain.Job
	spec   domain.JobSpec
	target catalog.Entity

	done          atomic.Bool
	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
	completeOnce  sync.Once
}

func newJobContext(store repo.RunStore, logger *slog.Logger, interval time.Duration, job domain.Job, spec domain.JobSpec, target catalog.Entity) *JobContext {
	ctx, cancel := context.WithCancel(context.Background())
	jc := &JobContext{
		store:         store,
		logger:        logger.With("job_id", job.ID, "run_id", job.RunID),
		job:           job,
		spec:          spec,
		target:        target,
		stopHeartbeat: cancel,
		heartbeatDone: make(chan struct{}),
	}
	go jc.heartbeat(ctx, interval)
	return jc
}

func (jc *JobContext) ID() string             { return jc.job.ID }
func (jc *JobContext) RunID() string          { return jc.job.RunID }
func (jc *JobContext) Spec() domain.JobSpec   { return jc.spec }
func (jc *JobContext) Target() catalog.Entity { return jc.target }

// WorkspaceName names the job's scratch directory.
func (jc *JobContext) WorkspaceName() string { return jc.job.ID }

// Done reports whether the job was completed or lost its heartbeat.
func (jc *JobContext) Done() bool { return jc.done.Load() }

func (jc *JobContext) EmitLog(ctx context.Context, message string, meta domain.Metadata) error {
	body := domain.Metadata{"message": message}.Merge(meta)
	return jc.store.EmitLogEvent(ctx, jc.job.ID, body)
}

// Complete stops the heartbeat and records the terminal status. Only the
// first call reaches the store.
func (jc *JobContext) Complete(ctx context.Context, status domain.JobStatus, meta domain.Metadata) error {
	err := errors.New("job already completed")
	jc.completeOnce.Do(func() {
		jc.stopHeartbeat()
		<-jc.heartbeatDone
		jc.done.Store(true)
		body := domain.Metadata{"message": domain.CompletionMessage(status)}.Merge(meta)
		err = jc.store.CompleteJob(ctx, jc.job.ID, status, body)
	})
	return err
}

// heartbeat stops at the first failure. The job then stays processing in
// the store until the vacuum sweep fails it.
func (jc *JobContext) heartbeat(ctx context.Context, interval time.Duration) {
	defer close(jc.heartbeatDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := jc.store.HeartbeatJob(ctx, jc.job.ID); err != nil {
				if ctx.Err() != nil {
					return
				}
				jc.done.Store(true)
				jc.logger.Error("job heartbeat failed, giving up on the job", "error", err)
				return
			}
		}
	}
}
