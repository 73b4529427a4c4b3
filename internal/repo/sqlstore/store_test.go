package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/sqlite"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:        filepath.Join(t.TempDir(), "codemods.db"),
		BusyTimeout: 5 * time.Second,
		PingTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("sqlite.Open() err=%v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(ctx, db, SQLite); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(db, SQLite, WithClock(clock.Now)), clock
}

func testSpec() domain.RunSpec {
	return domain.RunSpec{
		APIVersion: domain.APIVersionV1Alpha1,
		Parameters: domain.Metadata{"name": "demo"},
		Steps:      []domain.Step{{ID: "log", Name: "Log", Action: "debug:log"}},
	}
}

func claimOne(t *testing.T, s *Store) domain.Job {
	t.Helper()
	job, ok, err := s.ClaimJob(context.Background())
	if err != nil {
		t.Fatalf("ClaimJob() err=%v", err)
	}
	if !ok {
		t.Fatalf("ClaimJob() expected a job")
	}
	return job
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := Migrate(context.Background(), s.db, SQLite); err != nil {
		t.Fatalf("Migrate() second pass err=%v", err)
	}
}

func TestCreateRun(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a", "component:default/b", "component:default/c"}, "user:default/jane")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.TargetsCount != 3 || run.OpenCount != 3 || run.ProcessingCount != 0 {
		t.Fatalf("counters=%+v", run)
	}
	if run.CreatedBy != "user:default/jane" || !run.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("run=%+v", run)
	}
	if run.Spec.Parameters["name"] != "demo" || len(run.Spec.Steps) != 1 {
		t.Fatalf("spec=%+v", run.Spec)
	}

	jobs, err := s.ListJobs(ctx, repo.JobFilter{RunID: runID})
	if err != nil {
		t.Fatalf("ListJobs() err=%v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len(jobs)=%d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != domain.JobStatusOpen || job.LastHeartbeatAt != nil {
			t.Fatalf("job=%+v", job)
		}
	}

	runs, err := s.ListRuns(ctx, repo.RunFilter{CreatedBy: "user:default/nobody"})
	if err != nil {
		t.Fatalf("ListRuns() err=%v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("ListRuns() filtered=%d", len(runs))
	}
	runs, err = s.ListRuns(ctx, repo.RunFilter{CreatedBy: "user:default/jane"})
	if err != nil || len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("ListRuns()=%v err=%v", runs, err)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetRun() err=%v, want not found", err)
	}
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetJob() err=%v, want not found", err)
	}
	if err := s.HeartbeatJob(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("HeartbeatJob() err=%v, want not found", err)
	}
	if err := s.CompleteJob(ctx, "missing", domain.JobStatusFailed, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CompleteJob() err=%v, want not found", err)
	}
}

func TestClaimJob_Empty(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.ClaimJob(context.Background())
	if err != nil {
		t.Fatalf("ClaimJob() err=%v", err)
	}
	if ok {
		t.Fatalf("ClaimJob() claimed from an empty store")
	}
}

func TestClaimJob_ConcurrentClaimersNeverShareAJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	targets := []string{"component:default/a", "component:default/b", "component:default/c", "component:default/d", "component:default/e"}
	runID, err := s.CreateRun(ctx, testSpec(), targets, "")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
		errs    = make(chan error, 10)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok, err := s.ClaimJob(ctx)
				if err != nil {
					errs <- err
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ClaimJob() err=%v", err)
	}
	if len(claimed) != len(targets) {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), len(targets))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.OpenCount != 0 || run.ProcessingCount != len(targets) {
		t.Fatalf("counters=%+v", run)
	}
}

func TestCompleteJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	runID, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a", "component:default/b"}, "")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	first := claimOne(t, s)
	second := claimOne(t, s)

	body := domain.Metadata{
		"message": domain.CompletionMessage(domain.JobStatusCompleted),
		"output":  map[string]any{"pr": "https://example.com/pr/1"},
	}
	if err := s.CompleteJob(ctx, first.ID, domain.JobStatusCompleted, body); err != nil {
		t.Fatalf("CompleteJob() err=%v", err)
	}
	if err := s.CompleteJob(ctx, second.ID, domain.JobStatusFailed, domain.Metadata{"message": "boom"}); err != nil {
		t.Fatalf("CompleteJob() err=%v", err)
	}

	err = s.CompleteJob(ctx, first.ID, domain.JobStatusFailed, domain.Metadata{"message": "again"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second CompleteJob() err=%v, want conflict", err)
	}
	if !strings.Contains(err.Error(), "as it is currently 'completed', expected 'processing'") {
		t.Fatalf("conflict message=%q", err.Error())
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.ProcessingCount != 0 || run.CompletedCount != 1 || run.FailedCount != 1 || !run.Settled() {
		t.Fatalf("counters=%+v", run)
	}

	job, err := s.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetJob() err=%v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.Output["pr"] != "https://example.com/pr/1" {
		t.Fatalf("job=%+v", job)
	}
	failed, err := s.GetJob(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetJob() err=%v", err)
	}
	if failed.Status != domain.JobStatusFailed || len(failed.Output) != 0 {
		t.Fatalf("failed job=%+v", failed)
	}

	events, err := s.ListEvents(ctx, first.ID, nil)
	if err != nil {
		t.Fatalf("ListEvents() err=%v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventTypeCompletion {
		t.Fatalf("events=%+v", events)
	}
	if err := s.HeartbeatJob(ctx, first.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("HeartbeatJob() on completed job err=%v, want conflict", err)
	}
}

func TestCompleteJob_RejectsNonTerminalStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a"}, ""); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	job := claimOne(t, s)
	for _, status := range []domain.JobStatus{domain.JobStatusOpen, domain.JobStatusProcessing, domain.JobStatusCancelled} {
		if err := s.CompleteJob(ctx, job.ID, status, nil); !errors.Is(err, domain.ErrInput) {
			t.Fatalf("CompleteJob(%s) err=%v, want input error", status, err)
		}
	}
}

func TestCompleteJob_OpenJobConflicts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	runID, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a"}, "")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	jobs, err := s.ListJobs(ctx, repo.JobFilter{RunID: runID})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs()=%v err=%v", jobs, err)
	}
	if err := s.CompleteJob(ctx, jobs[0].ID, domain.JobStatusCompleted, nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("CompleteJob() err=%v, want conflict", err)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.OpenCount != 1 || run.CompletedCount != 0 {
		t.Fatalf("counters=%+v", run)
	}
}

func TestListStaleJobs(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a", "component:default/b"}, ""); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	old := claimOne(t, s)
	clock.Advance(2 * time.Second)
	fresh := claimOne(t, s)
	clock.Advance(time.Second)

	stale, err := s.ListStaleJobs(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("ListStaleJobs() err=%v", err)
	}
	if len(stale) != 1 || stale[0] != old.ID {
		t.Fatalf("stale=%v, want [%s]", stale, old.ID)
	}

	if err := s.HeartbeatJob(ctx, old.ID); err != nil {
		t.Fatalf("HeartbeatJob() err=%v", err)
	}
	stale, err = s.ListStaleJobs(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("ListStaleJobs() err=%v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale after heartbeat=%v", stale)
	}
	job, err := s.GetJob(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetJob() err=%v", err)
	}
	if job.LastHeartbeatAt == nil || !job.LastHeartbeatAt.Equal(clock.Now().Add(-time.Second)) {
		t.Fatalf("heartbeat=%v", job.LastHeartbeatAt)
	}
}

func TestListEvents_After(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a"}, ""); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	job := claimOne(t, s)
	for _, msg := range []string{"one", "two", "three"} {
		if err := s.EmitLogEvent(ctx, job.ID, domain.Metadata{"message": msg}); err != nil {
			t.Fatalf("EmitLogEvent() err=%v", err)
		}
	}
	all, err := s.ListEvents(ctx, job.ID, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListEvents()=%v err=%v", all, err)
	}
	if all[0].ID >= all[1].ID || all[1].ID >= all[2].ID {
		t.Fatalf("ids not increasing: %+v", all)
	}

	after := all[0].ID
	tail, err := s.ListEvents(ctx, job.ID, &after)
	if err != nil {
		t.Fatalf("ListEvents(after) err=%v", err)
	}
	if len(tail) != 2 || tail[0].Body["message"] != "two" {
		t.Fatalf("tail=%+v", tail)
	}

	if err := s.CompleteJob(ctx, job.ID, domain.JobStatusCompleted, domain.Metadata{"message": "done"}); err != nil {
		t.Fatalf("CompleteJob() err=%v", err)
	}
	all, err = s.ListEvents(ctx, job.ID, nil)
	if err != nil || len(all) != 4 {
		t.Fatalf("ListEvents()=%v err=%v", all, err)
	}
	completion := all[3]
	if completion.Type != domain.EventTypeCompletion {
		t.Fatalf("last event=%+v", completion)
	}
	after = completion.ID
	tail, err = s.ListEvents(ctx, job.ID, &after)
	if err != nil {
		t.Fatalf("ListEvents(after completion) err=%v", err)
	}
	if len(tail) != 1 || tail[0].ID != completion.ID {
		t.Fatalf("tail after completion=%+v", tail)
	}
}

func TestShutdownJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	runID, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a"}, "")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	job := claimOne(t, s)
	emit := func(body domain.Metadata) {
		t.Helper()
		if err := s.EmitLogEvent(ctx, job.ID, body); err != nil {
			t.Fatalf("EmitLogEvent() err=%v", err)
		}
	}
	emit(domain.StepEventBody("Beginning step one", "one", domain.StepStatusProcessing))
	emit(domain.StepEventBody("Finished step one", "one", domain.StepStatusCompleted))
	emit(domain.StepEventBody("Beginning step skip", "skip", domain.StepStatusProcessing))
	emit(domain.StepEventBody("Skipping step skip because its if condition was false", "skip", domain.StepStatusSkipped))
	emit(domain.StepEventBody("Beginning step two", "two", domain.StepStatusProcessing))
	emit(domain.Metadata{"message": "working", "stepId": "two"})

	if err := s.ShutdownJob(ctx, job.ID); err != nil {
		t.Fatalf("ShutdownJob() err=%v", err)
	}
	events, err := s.ListEvents(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("ListEvents() err=%v", err)
	}
	if len(events) != 8 {
		t.Fatalf("len(events)=%d: %+v", len(events), events)
	}
	stepFailure := events[6].Body
	if stepFailure["stepId"] != "two" || stepFailure["status"] != "failed" || stepFailure["message"] != StaleJobMessage {
		t.Fatalf("step failure=%+v", stepFailure)
	}
	if events[7].Type != domain.EventTypeCompletion || events[7].Body["message"] != StaleJobMessage {
		t.Fatalf("completion=%+v", events[7])
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.FailedCount != 1 || run.ProcessingCount != 0 {
		t.Fatalf("counters=%+v", run)
	}
}

func TestShutdownJob_AlreadyCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	runID, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a"}, "")
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	job := claimOne(t, s)
	if err := s.EmitLogEvent(ctx, job.ID, domain.StepEventBody("Beginning step one", "one", domain.StepStatusProcessing)); err != nil {
		t.Fatalf("EmitLogEvent() err=%v", err)
	}
	if err := s.CompleteJob(ctx, job.ID, domain.JobStatusCompleted, domain.Metadata{"message": "done"}); err != nil {
		t.Fatalf("CompleteJob() err=%v", err)
	}

	if err := s.ShutdownJob(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ShutdownJob() err=%v, want conflict", err)
	}
	events, err := s.ListEvents(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("ListEvents() err=%v", err)
	}
	if len(events) != 2 || events[1].Type != domain.EventTypeCompletion {
		t.Fatalf("events=%+v, want the completion event last", events)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if run.CompletedCount != 1 || run.FailedCount != 0 {
		t.Fatalf("counters=%+v", run)
	}
}

func TestEmitLogEvent_RequiresProcessingJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRun(ctx, testSpec(), []string{"component:default/a", "component:default/b"}, ""); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	job := claimOne(t, s)
	if err := s.CompleteJob(ctx, job.ID, domain.JobStatusFailed, domain.Metadata{"message": "boom"}); err != nil {
		t.Fatalf("CompleteJob() err=%v", err)
	}
	if err := s.EmitLogEvent(ctx, job.ID, domain.Metadata{"message": "late"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("EmitLogEvent() err=%v, want conflict", err)
	}
	if err := s.EmitLogEvent(ctx, "missing", domain.Metadata{"message": "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("EmitLogEvent() err=%v, want not found", err)
	}
	events, err := s.ListEvents(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("ListEvents() err=%v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventTypeCompletion {
		t.Fatalf("events=%+v", events)
	}
}

func TestRebind(t *testing.T) {
	got := SQLite.rebind("SELECT 1 WHERE a = $1 AND b = $12")
	if got != "SELECT 1 WHERE a = ?1 AND b = ?12" {
		t.Fatalf("rebind=%q", got)
	}
	if Postgres.rebind("a = $1") != "a = $1" {
		t.Fatalf("postgres queries must not be rebound")
	}
}

func TestPostgresQueries(t *testing.T) {
	if !strings.Contains(claimJobQueryPostgres, "FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected row locking in postgres claim query")
	}
	if strings.Contains(claimJobQuerySQLite, "FOR UPDATE") {
		t.Fatalf("sqlite claim query must not lock rows")
	}
	if !strings.HasSuffix(jobStatusQuery+Postgres.lockClause(), "FOR UPDATE") || SQLite.lockClause() != "" {
		t.Fatalf("only postgres locks the job row before appending events")
	}
	for name, query := range map[string]string{
		"claim":     claimJobQueryPostgres,
		"complete":  completeJobQuery,
		"heartbeat": heartbeatJobQuery,
	} {
		if !strings.Contains(query, "status = 'processing'") && !strings.Contains(query, "status = 'open'") {
			t.Fatalf("%s query lacks a status guard", name)
		}
	}
	query, args := buildListRunsQuery(repo.RunFilter{CreatedBy: "user:default/jane", Limit: 20})
	if !strings.Contains(query, "created_by = $1") || !strings.Contains(query, "LIMIT $2") || len(args) != 2 {
		t.Fatalf("query=%q args=%v", query, args)
	}
	query, args = buildListJobsQuery(repo.JobFilter{RunID: "r1", Status: domain.JobStatusOpen})
	if !strings.Contains(query, "run_id = $1 AND status = $2") || len(args) != 2 {
		t.Fatalf("query=%q args=%v", query, args)
	}
}

func TestParseDialect(t *testing.T) {
	if d, err := ParseDialect(" Postgres "); err != nil || d != Postgres {
		t.Fatalf("ParseDialect()=%q err=%v", d, err)
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("ParseDialect() expected error")
	}
	schema, err := Schema(Postgres)
	if err != nil || !strings.Contains(schema, "BIGSERIAL") {
		t.Fatalf("Schema(postgres) err=%v", err)
	}
}
