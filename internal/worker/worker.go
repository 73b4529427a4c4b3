// Package worker runs claimed jobs with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/broker"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/eventexport"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/workflow"
)

type Config struct {
	Concurrency int
	// RetryDelay is the pause after a failed claim.
	RetryDelay time.Duration
}

func ConfigFromEnv() (Config, error) {
	concurrency, err := env.Int("CODEMODS_WORKER_CONCURRENCY", 10)
	if err != nil {
		return Config{}, err
	}
	retry, err := env.Duration("CODEMODS_WORKER_RETRY_DELAY", time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Concurrency: concurrency, RetryDelay: retry}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("CODEMODS_WORKER_CONCURRENCY must be >= 1")
	}
	if c.RetryDelay <= 0 {
		return errors.New("CODEMODS_WORKER_RETRY_DELAY must be positive")
	}
	return nil
}

// Claimer hands out claimed jobs; *broker.Broker implements it.
type Claimer interface {
	Claim(ctx context.Context) (*broker.JobContext, error)
}

// Executor runs the steps of a job; *workflow.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, job workflow.Job) (map[string]any, error)
}

// Job is a claimed job as the worker drives it.
type Job interface {
	workflow.Job
	Complete(ctx context.Context, status domain.JobStatus, meta domain.Metadata) error
}

type Worker struct {
	claimer  Claimer
	executor Executor
	archive  eventexport.EventSource
	exporter eventexport.Exporter
	logger   *slog.Logger
	cfg      Config

	slots    *semaphore.Weighted
	inflight sync.WaitGroup
}

type Option func(*Worker)

// WithArchive exports the event log of every finished job.
func WithArchive(src eventexport.EventSource, exp eventexport.Exporter) Option {
	return func(w *Worker) {
		w.archive = src
		w.exporter = exp
	}
}

func New(claimer Claimer, executor Executor, logger *slog.Logger, cfg Config, opts ...Option) (*Worker, error) {
	if claimer == nil {
		return nil, errors.New("claimer is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		claimer:  claimer,
		executor: executor,
		logger:   logger,
		cfg:      cfg,
		slots:    semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run claims and starts jobs until ctx is done, then waits for the jobs
// already started. Started jobs are not cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency)
	defer w.inflight.Wait()
	for {
		if err := w.slots.Acquire(ctx, 1); err != nil {
			return nil
		}
		jc, err := w.claimer.Claim(ctx)
		if err != nil {
			w.slots.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("claim job", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.RetryDelay):
			}
			continue
		}

		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			defer w.slots.Release(1)
			w.RunOneJob(context.WithoutCancel(ctx), jc)
		}()
	}
}

// RunOneJob executes a claimed job and records its outcome. Errors never
// escape: they end up in the job's completion event.
func (w *Worker) RunOneJob(ctx context.Context, job Job) {
	logger := w.logger.With("job_id", job.ID(), "target", job.Spec().TargetRef)
	started := time.Now()

	output, err := w.execute(ctx, job)
	status := domain.JobStatusCompleted
	meta := domain.Metadata{"output": output}
	if err != nil {
		status = domain.JobStatusFailed
		meta = domain.Metadata{"error": domain.Metadata{
			"name":    domain.ErrorName(err),
			"message": err.Error(),
		}}
		logger.Warn("job failed", "error", err)
	}

	if err := job.Complete(ctx, status, meta); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("job was settled elsewhere before it completed", "status", status, "error", err)
		} else {
			logger.Error("complete job", "status", status, "error", err)
		}
		return
	}
	logger.Info("job finished", "status", status, "duration", time.Since(started).String())

	if w.exporter != nil && w.archive != nil {
		if err := eventexport.ArchiveJob(ctx, w.archive, w.exporter, job.ID()); err != nil {
			logger.Warn("archive job events", "error", err)
		}
	}
}

func (w *Worker) execute(ctx context.Context, job Job) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job execution panicked: %v", rec)
		}
	}()
	if err := job.Spec().Validate(); err != nil {
		return nil, err
	}
	return w.executor.Execute(ctx, job)
}
