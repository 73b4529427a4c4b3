package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

const selectJobColumns = `SELECT id, run_id, target, status, last_heartbeat_at, output_json FROM jobs`

const claimJobQueryPostgres = `UPDATE jobs
	SET status = 'processing', last_heartbeat_at = $1
	WHERE id = (
		SELECT id FROM jobs WHERE status = 'open' LIMIT 1 FOR UPDATE SKIP LOCKED
	) AND status = 'open'
	RETURNING id, run_id, target, status, last_heartbeat_at, output_json`

const claimJobQuerySQLite = `UPDATE jobs
	SET status = 'processing', last_heartbeat_at = $1
	WHERE id = (
		SELECT id FROM jobs WHERE status = 'open' LIMIT 1
	) AND status = 'open'
	RETURNING id, run_id, target, status, last_heartbeat_at, output_json`

const claimRunCountersQuery = `UPDATE runs
	SET open_count = open_count - 1, processing_count = processing_count + 1
	WHERE id = $1`

const completeJobQuery = `UPDATE jobs
	SET status = $2, output_json = $3
	WHERE id = $1 AND status = 'processing'
	RETURNING run_id`

const completeRunFailedQuery = `UPDATE runs
	SET processing_count = processing_count - 1, failed_count = failed_count + 1
	WHERE id = $1`

const completeRunCompletedQuery = `UPDATE runs
	SET processing_count = processing_count - 1, completed_count = completed_count + 1
	WHERE id = $1`

const heartbeatJobQuery = `UPDATE jobs SET last_heartbeat_at = $2 WHERE id = $1 AND status = 'processing'`

const staleJobsQuery = `SELECT id FROM jobs
	WHERE status = 'processing' AND last_heartbeat_at <= $1
	ORDER BY last_heartbeat_at, id`

const insertEventQuery = `INSERT INTO job_events (job_id, body_json, event_type, created_at) VALUES ($1,$2,$3,$4)`

// StaleJobMessage is recorded on jobs failed by the vacuum sweep.
const StaleJobMessage = "This job was marked as stale as it exceeded its timeout"

func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	if err := s.ready(); err != nil {
		return domain.Job{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Job{}, domain.Inputf("job id is required")
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, s.q(selectJobColumns+` WHERE id = $1`), id))
	if err != nil {
		return domain.Job{}, handleNotFound(err, "No job with id %s found", id)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query, args := buildListJobsQuery(filter)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func buildListJobsQuery(filter repo.JobFilter) (string, []any) {
	clauses := []string{}
	args := []any{}
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		args = append(args, runID)
		clauses = append(clauses, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := selectJobColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY target, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *Store) claimQuery() string {
	if s.dialect == Postgres {
		return claimJobQueryPostgres
	}
	return claimJobQuerySQLite
}

func (s *Store) ClaimJob(ctx context.Context) (domain.Job, bool, error) {
	if err := s.ready(); err != nil {
		return domain.Job{}, false, err
	}
	var (
		job     domain.Job
		claimed bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(s.claimQuery()), s.dialect.timeArg(s.timestamp()))
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(claimRunCountersQuery), j.RunID); err != nil {
			return fmt.Errorf("update run counters: %w", err)
		}
		job, claimed = j, true
		return nil
	})
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, claimed, nil
}

func (s *Store) HeartbeatJob(ctx context.Context, jobID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(heartbeatJobQuery), jobID, s.dialect.timeArg(s.timestamp()))
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return domain.Conflictf("No running job with jobId %s found", jobID)
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, status domain.JobStatus, body domain.Metadata) error {
	if err := s.ready(); err != nil {
		return err
	}
	var counterQuery string
	switch status {
	case domain.JobStatusFailed:
		counterQuery = completeRunFailedQuery
	case domain.JobStatusCompleted:
		counterQuery = completeRunCompletedQuery
	default:
		return domain.Inputf("Invalid status '%s', a job can only be completed as failed or completed", status)
	}
	outputJSON, err := encodeMetadata(outputOf(body))
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}
	bodyJSON, err := encodeMetadata(body)
	if err != nil {
		return fmt.Errorf("encode event body: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.finishJob(ctx, tx, jobID, status, counterQuery, outputJSON, bodyJSON, nil)
	})
}

// finishJob moves a processing job to its terminal status inside tx. The job
// row is updated first so that concurrent writers see the new status; closing
// events are inserted before the completion event.
func (s *Store) finishJob(
	ctx context.Context,
	tx *sql.Tx,
	jobID string,
	status domain.JobStatus,
	counterQuery string,
	outputJSON, bodyJSON []byte,
	closing func(tx *sql.Tx) error,
) error {
	var runID string
	err := tx.QueryRowContext(ctx, s.q(completeJobQuery), jobID, string(status), s.dialect.jsonArg(outputJSON)).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		var current string
		lookup := tx.QueryRowContext(ctx, s.q(jobStatusQuery), jobID).Scan(&current)
		if lookup != nil {
			return handleNotFound(lookup, "No job with id %s found", jobID)
		}
		return domain.Conflictf(
			"Refusing to update status of job '%s' to status '%s' as it is currently '%s', expected 'processing'",
			jobID, status, current,
		)
	}
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if closing != nil {
		if err := closing(tx); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(counterQuery), runID); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	return s.insertEvent(ctx, tx, jobID, bodyJSON, domain.EventTypeCompletion)
}

func (s *Store) ListStaleJobs(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cutoff := s.timestamp().Add(-timeout)
	rows, err := s.db.QueryContext(ctx, s.q(staleJobsQuery), s.dialect.timeArg(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}
	return ids, nil
}

// ShutdownJob fails a stale job. Steps that were started but never finished
// get a failed event first so the log reads as a closed sequence. Everything
// happens in one transaction: a job completed in the meantime is left alone.
func (s *Store) ShutdownJob(ctx context.Context, jobID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	body := domain.Metadata{"message": StaleJobMessage}
	outputJSON, err := encodeMetadata(outputOf(body))
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}
	bodyJSON, err := encodeMetadata(body)
	if err != nil {
		return fmt.Errorf("encode event body: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.finishJob(ctx, tx, jobID, domain.JobStatusFailed, completeRunFailedQuery, outputJSON, bodyJSON, func(tx *sql.Tx) error {
			events, err := s.listEvents(ctx, tx, jobID, nil)
			if err != nil {
				return err
			}
			for _, stepID := range unfinishedSteps(events) {
				stepJSON, err := encodeMetadata(domain.StepEventBody(StaleJobMessage, stepID, domain.StepStatusFailed))
				if err != nil {
					return fmt.Errorf("encode event body: %w", err)
				}
				if err := s.insertEvent(ctx, tx, jobID, stepJSON, domain.EventTypeLog); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func unfinishedSteps(events []domain.JobEvent) []string {
	started := []string{}
	finished := map[string]bool{}
	seen := map[string]bool{}
	for _, event := range events {
		stepID, _ := event.Body["stepId"].(string)
		if stepID == "" {
			continue
		}
		status, _ := event.Body["status"].(string)
		switch domain.StepStatus(status) {
		case domain.StepStatusProcessing:
			if !seen[stepID] {
				seen[stepID] = true
				started = append(started, stepID)
			}
		case domain.StepStatusFailed, domain.StepStatusCompleted, domain.StepStatusSkipped:
			finished[stepID] = true
		}
	}
	out := make([]string, 0, len(started))
	for _, stepID := range started {
		if !finished[stepID] {
			out = append(out, stepID)
		}
	}
	return out
}

// outputOf extracts the job output carried by a completion body.
func outputOf(body domain.Metadata) domain.Metadata {
	switch v := body["output"].(type) {
	case domain.Metadata:
		return v
	case map[string]any:
		return domain.Metadata(v)
	default:
		return domain.Metadata{}
	}
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job        domain.Job
		status     string
		heartbeat  dbTime
		outputJSON []byte
	)
	if err := row.Scan(&job.ID, &job.RunID, &job.Target, &status, &heartbeat, &outputJSON); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.LastHeartbeatAt = heartbeat.ptr()
	if len(outputJSON) > 0 {
		output, err := decodeMetadata(outputJSON)
		if err != nil {
			return domain.Job{}, fmt.Errorf("decode job output: %w", err)
		}
		job.Output = output
	}
	return job, nil
}
