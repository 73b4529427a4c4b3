// Package workflow executes the steps of a codemod against one target.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/templating"
)

// Job is the part of a claimed job the runner needs.
type Job interface {
	ID() string
	Spec() domain.JobSpec
	Target() catalog.Entity
	WorkspaceName() string
	EmitLog(ctx context.Context, message string, meta domain.Metadata) error
}

type Runner struct {
	registry   *action.Registry
	renderer   *templating.Renderer
	workingDir string
	stepLevel  slog.Level
	logger     *slog.Logger
}

func NewRunner(registry *action.Registry, renderer *templating.Renderer, cfg Config, logger *slog.Logger) (*Runner, error) {
	if registry == nil {
		return nil, errors.New("action registry is required")
	}
	if renderer == nil {
		return nil, errors.New("template renderer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkWritable(cfg.WorkingDirectory); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:   registry,
		renderer:   renderer,
		workingDir: cfg.WorkingDirectory,
		stepLevel:  cfg.StepLogLevel,
		logger:     logger,
	}, nil
}

// Execute runs every step of the job in order and returns the rendered
// output mapping. The first failing step aborts the job.
func (r *Runner) Execute(ctx context.Context, job Job) (map[string]any, error) {
	spec := job.Spec()
	logger := r.logger.With("job_id", job.ID(), "target", spec.TargetRef)

	workspace := filepath.Join(r.workingDir, job.WorkspaceName())
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("failed to remove workspace", "path", workspace, "error", err)
		}
	}()

	state, err := newTemplateState(spec, job.Target())
	if err != nil {
		return nil, err
	}

	target := action.Target{Entity: job.Target(), Ref: spec.TargetRef}
	for _, step := range domain.WithStepDefaults(spec.Codemod.Steps) {
		data, err := state.data()
		if err != nil {
			return nil, err
		}
		outputs, err := r.runStep(ctx, job, step, data, stepEnv{
			workspace: workspace,
			target:    target,
			user:      spec.Codemod.User,
			codemod:   spec.Codemod.CodemodInfo,
			logger:    logger.With("step_id", step.ID),
		})
		if err != nil {
			return nil, err
		}
		if outputs != nil {
			state.setOutput(step.ID, outputs)
		}
	}

	data, err := state.data()
	if err != nil {
		return nil, err
	}
	rendered := r.renderTree(map[string]any(spec.Codemod.Output), data, logger)
	output, err := templating.NormalizeMap(rendered)
	if err != nil {
		return nil, fmt.Errorf("render output: %w", err)
	}
	return output, nil
}

type stepEnv struct {
	workspace string
	target    action.Target
	user      *domain.UserInfo
	codemod   *domain.CodemodInfo
	logger    *slog.Logger
}

// runStep returns nil outputs when the step was skipped.
func (r *Runner) runStep(ctx context.Context, job Job, step domain.Step, data map[string]any, env stepEnv) (map[string]any, error) {
	emit := func(message string, status domain.StepStatus) {
		meta := domain.Metadata{"stepId": step.ID, "status": string(status)}
		if err := job.EmitLog(ctx, message, meta); err != nil {
			env.logger.Warn("failed to emit step event", "status", status, "error", err)
		}
	}

	emit(fmt.Sprintf("Beginning step %s", step.Name), domain.StepStatusProcessing)

	outputs, skipped, err := r.invoke(ctx, job, step, data, env)
	if err != nil {
		emit(err.Error(), domain.StepStatusFailed)
		return nil, err
	}
	if skipped {
		emit(fmt.Sprintf("Skipping step %s because its if condition was false", step.ID), domain.StepStatusSkipped)
		return nil, nil
	}
	emit(fmt.Sprintf("Finished step %s", step.Name), domain.StepStatusCompleted)
	return outputs, nil
}

func (r *Runner) invoke(ctx context.Context, job Job, step domain.Step, data map[string]any, env stepEnv) (outputs map[string]any, skipped bool, err error) {
	if step.If != nil {
		ok, err := r.condition(step.If, data)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
	}

	act, err := r.registry.Get(step.Action)
	if err != nil {
		return nil, false, err
	}

	input, err := templating.NormalizeMap(r.renderTree(map[string]any(step.Input), data, env.logger))
	if err != nil {
		return nil, false, fmt.Errorf("render input of step %s: %w", step.ID, err)
	}
	if err := act.ValidateInput(input); err != nil {
		return nil, false, err
	}

	stream := &logStream{ctx: ctx, job: job, stepID: step.ID, logger: env.logger}
	actx := action.NewContext(action.ContextOptions{
		StepID:        step.ID,
		Input:         input,
		Logger:        newStepLogger(stream, r.stepLevel),
		LogStream:     stream,
		WorkspacePath: env.workspace,
		Target:        env.target,
		User:          env.user,
		CodemodInfo:   env.codemod,
	})
	defer func() {
		if err := actx.Cleanup(); err != nil {
			env.logger.Warn("failed to remove temporary directories", "error", err)
		}
	}()

	env.logger.Debug("running action", "action", act.ID)
	if err := callHandler(ctx, act, actx); err != nil {
		return nil, false, err
	}
	return actx.Outputs(), false, nil
}

func callHandler(ctx context.Context, act action.Action, actx *action.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action %s panicked: %v", act.ID, rec)
		}
	}()
	return act.Handler(ctx, actx)
}

func (r *Runner) condition(cond any, data map[string]any) (bool, error) {
	switch v := cond.(type) {
	case bool:
		return v, nil
	case string:
		value, present, err := r.renderer.RenderValue(v, data)
		if err != nil {
			return false, err
		}
		return present && templating.IsTruthy(value), nil
	default:
		return templating.IsTruthy(v), nil
	}
}

// renderTree renders every string leaf of a document. A leaf that fails to
// render is logged and kept verbatim; a leaf that renders to nothing is
// dropped from its object.
func (r *Runner) renderTree(value any, data map[string]any, logger *slog.Logger) any {
	rendered, _ := r.renderNode(value, data, logger)
	return rendered
}

func (r *Runner) renderNode(value any, data map[string]any, logger *slog.Logger) (any, bool) {
	switch v := value.(type) {
	case string:
		rendered, present, err := r.renderer.RenderValue(v, data)
		if err != nil {
			logger.Warn("failed to render template", "template", v, "error", err)
			return v, true
		}
		return rendered, present
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, present := r.renderNode(item, data, logger)
			if !present {
				continue
			}
			out[key] = rendered
		}
		return out, true
	case domain.Metadata:
		return r.renderNode(map[string]any(v), data, logger)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i], _ = r.renderNode(item, data, logger)
		}
		return out, true
	default:
		return v, true
	}
}
