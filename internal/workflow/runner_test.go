package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/templating"
)

type recordedEvent struct {
	message string
	meta    domain.Metadata
}

type fakeJob struct {
	id     string
	spec   domain.JobSpec
	target catalog.Entity

	mu     sync.Mutex
	events []recordedEvent
}

func (j *fakeJob) ID() string             { return j.id }
func (j *fakeJob) Spec() domain.JobSpec   { return j.spec }
func (j *fakeJob) Target() catalog.Entity { return j.target }
func (j *fakeJob) WorkspaceName() string  { return j.id }

func (j *fakeJob) EmitLog(_ context.Context, message string, meta domain.Metadata) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, recordedEvent{message: message, meta: meta.Clone()})
	return nil
}

func (j *fakeJob) statuses() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		if status, ok := e.meta["status"].(string); ok {
			out = append(out, fmt.Sprintf("%s:%s", e.meta["stepId"], status))
		}
	}
	return out
}

func (j *fakeJob) messages() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.message)
	}
	return out
}

func newJob(steps []domain.Step, params domain.Metadata, output domain.Metadata) *fakeJob {
	return &fakeJob{
		id: "job-1",
		spec: domain.JobSpec{
			TargetRef: "component:default/svc",
			Codemod: domain.RunSpec{
				APIVersion: domain.APIVersionV1Alpha1,
				Parameters: params,
				Steps:      steps,
				Output:     output,
				User:       &domain.UserInfo{Ref: "user:default/jane"},
			},
		},
		target: catalog.Entity{Kind: "Component", Metadata: catalog.Metadata{Name: "svc"}},
	}
}

func newTestRunner(t *testing.T, actions ...action.Action) (*Runner, string) {
	t.Helper()
	registry := action.NewRegistry()
	for _, a := range actions {
		if err := registry.Register(a); err != nil {
			t.Fatalf("Register(%s) err=%v", a.ID, err)
		}
	}
	renderer, err := templating.New(templating.Options{})
	if err != nil {
		t.Fatalf("templating.New() err=%v", err)
	}
	dir := t.TempDir()
	r, err := NewRunner(registry, renderer, Config{WorkingDirectory: dir}, nil)
	if err != nil {
		t.Fatalf("NewRunner() err=%v", err)
	}
	return r, dir
}

// capture records the input of every invocation and echoes it as outputs.
type capture struct {
	mu     sync.Mutex
	inputs []map[string]any
}

func (c *capture) action(id string, schema map[string]any) action.Action {
	return action.Action{
		ID:     id,
		Schema: action.Schema{Input: schema},
		Handler: func(_ context.Context, actx *action.Context) error {
			c.mu.Lock()
			c.inputs = append(c.inputs, actx.Input)
			c.mu.Unlock()
			for k, v := range actx.Input {
				actx.Output(k, v)
			}
			return nil
		},
	}
}

func TestExecute_TemplatesFlowBetweenSteps(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:echo", nil))
	job := newJob([]domain.Step{
		{ID: "first", Name: "First", Action: "test:echo", Input: domain.Metadata{
			"greeting": "hello ${{ parameters.name }}",
			"count":    "${{ parameters.count }}",
			"target":   "${{ target.ref }}",
			"kind":     "${{ target.entity.kind }}",
			"user":     "${{ user.ref }}",
			"missing":  "${{ parameters.nothing }}",
			"nested":   map[string]any{"list": []any{"${{ parameters.count }}", "static"}},
		}},
		{ID: "second", Action: "test:echo", Input: domain.Metadata{
			"echo": "${{ steps.first.output.greeting }}!",
		}},
	}, domain.Metadata{"name": "world", "count": 2}, domain.Metadata{
		"result": "${{ steps.second.output.echo }}",
		"count":  "${{ steps.first.output.count }}",
	})

	output, err := r.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if output["result"] != "hello world!" || output["count"] != float64(2) {
		t.Fatalf("output=%+v", output)
	}

	first := c.inputs[0]
	if first["greeting"] != "hello world" || first["count"] != float64(2) {
		t.Fatalf("first input=%+v", first)
	}
	if first["target"] != "component:default/svc" || first["kind"] != "Component" || first["user"] != "user:default/jane" {
		t.Fatalf("first input=%+v", first)
	}
	if _, ok := first["missing"]; ok {
		t.Fatalf("absent value should drop the key: %+v", first)
	}
	list := first["nested"].(map[string]any)["list"].([]any)
	if list[0] != float64(2) || list[1] != "static" {
		t.Fatalf("nested list=%+v", list)
	}

	want := []string{"first:processing", "first:completed", "second:processing", "second:completed"}
	if got := job.statuses(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("statuses=%v, want %v", got, want)
	}
	messages := job.messages()
	if messages[0] != "Beginning step First" || messages[3] != "Finished step test:echo" {
		t.Fatalf("messages=%v", messages)
	}
}

func TestExecute_Conditions(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:echo", nil))
	job := newJob([]domain.Step{
		{ID: "zero", Action: "test:echo", If: "${{ parameters.zero }}", Input: domain.Metadata{"step": "zero"}},
		{ID: "zero-string", Action: "test:echo", If: "${{ parameters.zeroString }}", Input: domain.Metadata{"step": "zero-string"}},
		{ID: "literal-false", Action: "test:echo", If: false, Input: domain.Metadata{"step": "literal-false"}},
		{ID: "empty-list", Action: "test:echo", If: "${{ parameters.none }}", Input: domain.Metadata{"step": "empty-list"}},
		{ID: "undefined", Action: "test:echo", If: "${{ parameters.undefined }}", Input: domain.Metadata{"step": "undefined"}},
		{ID: "literal-true", Action: "test:echo", If: true, Input: domain.Metadata{"step": "literal-true"}},
	}, domain.Metadata{"zero": 0, "zeroString": "0", "none": []any{}}, nil)

	if _, err := r.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	var ran []string
	for _, in := range c.inputs {
		ran = append(ran, in["step"].(string))
	}
	if strings.Join(ran, ",") != "zero-string,literal-true" {
		t.Fatalf("ran=%v", ran)
	}
	statuses := strings.Join(job.statuses(), ",")
	if !strings.Contains(statuses, "zero:skipped") || !strings.Contains(statuses, "zero-string:completed") {
		t.Fatalf("statuses=%s", statuses)
	}
	found := false
	for _, m := range job.messages() {
		if m == "Skipping step zero because its if condition was false" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing skip message in %v", job.messages())
	}
}

func TestExecute_ReferencesToSkippedStep(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:echo", nil))
	job := newJob([]domain.Step{
		{ID: "maybe", Action: "test:echo", If: false, Input: domain.Metadata{"flag": true}},
		{ID: "after", Action: "test:echo", If: "${{ steps.maybe.output.flag }}", Input: domain.Metadata{"step": "after"}},
		{ID: "always", Action: "test:echo", Input: domain.Metadata{
			"step":     "always",
			"v":        "${{ steps.maybe.output.flag }}",
			"w":        "${{ parameters.obj.inner }}",
			"nothing":  "${{ parameters.nothing }}",
			"fallback": `${{ steps.maybe.output.flag ?? "none" }}`,
		}},
	}, domain.Metadata{"nothing": nil}, nil)

	if _, err := r.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	want := []string{
		"maybe:processing", "maybe:skipped",
		"after:processing", "after:skipped",
		"always:processing", "always:completed",
	}
	if got := job.statuses(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("statuses=%v, want %v", got, want)
	}
	if len(c.inputs) != 1 {
		t.Fatalf("inputs=%+v, want only the always step", c.inputs)
	}
	in := c.inputs[0]
	if _, ok := in["v"]; ok {
		t.Fatalf("undefined step output should drop the key: %+v", in)
	}
	if _, ok := in["w"]; ok {
		t.Fatalf("undefined parameter member should drop the key: %+v", in)
	}
	if v, ok := in["nothing"]; !ok || v != nil {
		t.Fatalf("null parameter should stay null: %+v", in)
	}
	if in["fallback"] != "none" {
		t.Fatalf("fallback=%v", in["fallback"])
	}
}

func TestExecute_UnknownActionAbortsJob(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:echo", nil))
	job := newJob([]domain.Step{
		{ID: "bad", Action: "test:missing"},
		{ID: "never", Action: "test:echo"},
	}, nil, nil)

	_, err := r.Execute(context.Background(), job)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Execute() err=%v, want not found", err)
	}
	if len(c.inputs) != 0 {
		t.Fatalf("later steps must not run")
	}
	statuses := job.statuses()
	if strings.Join(statuses, ",") != "bad:processing,bad:failed" {
		t.Fatalf("statuses=%v", statuses)
	}
	if msgs := job.messages(); msgs[1] != "Codemod action with ID 'test:missing' is not registered." {
		t.Fatalf("messages=%v", msgs)
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:strict", map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}))
	job := newJob([]domain.Step{{ID: "strict", Action: "test:strict", Input: domain.Metadata{"other": 1}}}, nil, nil)

	_, err := r.Execute(context.Background(), job)
	if !errors.Is(err, domain.ErrInput) {
		t.Fatalf("Execute() err=%v, want input error", err)
	}
	if !strings.HasPrefix(err.Error(), "Invalid input passed to action test:strict") {
		t.Fatalf("err=%q", err.Error())
	}
	if len(c.inputs) != 0 {
		t.Fatalf("handler ran with invalid input")
	}
}

func TestExecute_RenderErrorKeepsLiteral(t *testing.T) {
	c := &capture{}
	r, _ := newTestRunner(t, c.action("test:echo", nil))
	job := newJob([]domain.Step{{ID: "s", Action: "test:echo", Input: domain.Metadata{"broken": "${{ 1 + }}"}}}, nil, nil)
	if _, err := r.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if c.inputs[0]["broken"] != "${{ 1 + }}" {
		t.Fatalf("input=%+v", c.inputs[0])
	}
}

func TestExecute_WorkspaceAndTemporaryDirectories(t *testing.T) {
	var workspace, temp string
	inspect := action.Action{
		ID: "test:fs",
		Handler: func(_ context.Context, actx *action.Context) error {
			workspace = actx.WorkspacePath
			if err := os.WriteFile(filepath.Join(workspace, "file.txt"), []byte("x"), 0o644); err != nil {
				return err
			}
			dir, err := actx.CreateTemporaryDirectory()
			if err != nil {
				return err
			}
			temp = dir
			return nil
		},
	}
	r, root := newTestRunner(t, inspect)
	job := newJob([]domain.Step{{ID: "fs", Action: "test:fs"}}, nil, nil)
	if _, err := r.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if workspace != filepath.Join(root, "job-1") {
		t.Fatalf("workspace=%q", workspace)
	}
	if !strings.HasPrefix(filepath.Base(temp), "job-1_step-fs-") {
		t.Fatalf("temporary directory=%q", temp)
	}
	for _, p := range []string{workspace, temp} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists (err=%v)", p, err)
		}
	}
}

func TestExecute_FailingStepCleansUp(t *testing.T) {
	var temp string
	failing := action.Action{
		ID: "test:fail",
		Handler: func(_ context.Context, actx *action.Context) error {
			dir, err := actx.CreateTemporaryDirectory()
			if err != nil {
				return err
			}
			temp = dir
			return errors.New("boom")
		},
	}
	r, root := newTestRunner(t, failing)
	job := newJob([]domain.Step{{ID: "f", Action: "test:fail"}}, nil, nil)
	if _, err := r.Execute(context.Background(), job); err == nil || err.Error() != "boom" {
		t.Fatalf("Execute() err=%v, want boom", err)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("temporary directory survived a failed step")
	}
	if _, err := os.Stat(filepath.Join(root, "job-1")); !os.IsNotExist(err) {
		t.Fatalf("workspace survived a failed job")
	}
	statuses := job.statuses()
	if statuses[len(statuses)-1] != "f:failed" {
		t.Fatalf("statuses=%v", statuses)
	}
}

func TestExecute_HandlerLogsBecomeEvents(t *testing.T) {
	chatty := action.Action{
		ID: "test:log",
		Handler: func(_ context.Context, actx *action.Context) error {
			fmt.Fprintln(actx.LogStream, "  from the stream  ")
			fmt.Fprintln(actx.LogStream, "x")
			actx.Logger.Info("from the logger", "n", 1)
			actx.Logger.Debug("hidden")
			return nil
		},
	}
	r, _ := newTestRunner(t, chatty)
	job := newJob([]domain.Step{{ID: "log", Action: "test:log"}}, nil, nil)
	if _, err := r.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	var handlerLogs []recordedEvent
	for _, e := range job.events {
		if _, ok := e.meta["status"]; !ok {
			handlerLogs = append(handlerLogs, e)
		}
	}
	if len(handlerLogs) != 2 {
		t.Fatalf("handler logs=%+v", handlerLogs)
	}
	if handlerLogs[0].message != "from the stream" || handlerLogs[0].meta["stepId"] != "log" {
		t.Fatalf("stream event=%+v", handlerLogs[0])
	}
	if !strings.Contains(handlerLogs[1].message, `msg="from the logger" n=1`) || strings.Contains(handlerLogs[1].message, "time=") {
		t.Fatalf("logger event=%q", handlerLogs[1].message)
	}
}

func TestExecute_PanickingHandler(t *testing.T) {
	r, _ := newTestRunner(t, action.Action{
		ID:      "test:panic",
		Handler: func(context.Context, *action.Context) error { panic("kaput") },
	})
	job := newJob([]domain.Step{{ID: "p", Action: "test:panic"}}, nil, nil)
	if _, err := r.Execute(context.Background(), job); err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("Execute() err=%v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty working directory")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	if err := (Config{WorkingDirectory: file}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for a regular file")
	}
	t.Setenv("CODEMODS_WORKING_DIRECTORY", t.TempDir())
	t.Setenv("CODEMODS_STEP_LOG_LEVEL", "debug")
	if _, err := ConfigFromEnv(); err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
}
