package action

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// Target is the entity a job runs against.
type Target struct {
	Entity catalog.Entity
	Ref    string
}

type ContextOptions struct {
	StepID        string
	Input         map[string]any
	Logger        *slog.Logger
	LogStream     io.Writer
	WorkspacePath string
	Target        Target
	User          *domain.UserInfo
	CodemodInfo   *domain.CodemodInfo
}

// Context is what a handler receives for one step execution.
type Context struct {
	Input         map[string]any
	Logger        *slog.Logger
	LogStream     io.Writer
	WorkspacePath string
	Target        Target
	User          *domain.UserInfo
	CodemodInfo   *domain.CodemodInfo

	stepID   string
	mu       sync.Mutex
	outputs  map[string]any
	tempDirs []string
}

func NewContext(opts ContextOptions) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	stream := opts.LogStream
	if stream == nil {
		stream = io.Discard
	}
	input := opts.Input
	if input == nil {
		input = map[string]any{}
	}
	return &Context{
		Input:         input,
		Logger:        logger,
		LogStream:     stream,
		WorkspacePath: opts.WorkspacePath,
		Target:        opts.Target,
		User:          opts.User,
		CodemodInfo:   opts.CodemodInfo,
		stepID:        opts.StepID,
		outputs:       map[string]any{},
	}
}

// Output records a named step output, readable by later steps as
// steps.<id>.output.<name>.
func (c *Context) Output(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[name] = value
}

func (c *Context) Outputs() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// CreateTemporaryDirectory creates a directory next to the workspace. It is
// removed by Cleanup once the step returns.
func (c *Context) CreateTemporaryDirectory() (string, error) {
	if c.WorkspacePath == "" {
		return "", errors.New("workspace path is not set")
	}
	parent := filepath.Dir(c.WorkspacePath)
	pattern := fmt.Sprintf("%s_step-%s-", filepath.Base(c.WorkspacePath), c.stepID)
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return "", fmt.Errorf("create temporary directory: %w", err)
	}

	c.mu.Lock()
	c.tempDirs = append(c.tempDirs, dir)
	c.mu.Unlock()
	return dir, nil
}

// Cleanup removes every temporary directory created for the step.
func (c *Context) Cleanup() error {
	c.mu.Lock()
	dirs := c.tempDirs
	c.tempDirs = nil
	c.mu.Unlock()

	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
