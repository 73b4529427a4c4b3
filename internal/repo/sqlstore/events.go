package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

const listEventsQuery = `SELECT id, job_id, body_json, event_type, created_at FROM job_events
	WHERE job_id = $1
	ORDER BY id`

const listEventsAfterQuery = `SELECT id, job_id, body_json, event_type, created_at FROM job_events
	WHERE job_id = $1 AND (id > $2 OR event_type = 'completion')
	ORDER BY id`

const jobStatusQuery = `SELECT status FROM jobs WHERE id = $1`

// EmitLogEvent appends a log event to a processing job. Once the job holds its
// completion event nothing else is appended, so completion stays the last event.
func (s *Store) EmitLogEvent(ctx context.Context, jobID string, body domain.Metadata) error {
	if err := s.ready(); err != nil {
		return err
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Inputf("job id is required")
	}
	bodyJSON, err := encodeMetadata(body)
	if err != nil {
		return fmt.Errorf("encode event body: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, s.q(jobStatusQuery+s.dialect.lockClause()), jobID).Scan(&status)
		if err != nil {
			return handleNotFound(err, "No job with id %s found", jobID)
		}
		if domain.JobStatus(status) != domain.JobStatusProcessing {
			return domain.Conflictf("No running job with jobId %s found", jobID)
		}
		return s.insertEvent(ctx, tx, jobID, bodyJSON, domain.EventTypeLog)
	})
}

func (s *Store) insertEvent(ctx context.Context, db DB, jobID string, bodyJSON []byte, eventType domain.EventType) error {
	if _, err := db.ExecContext(
		ctx,
		s.q(insertEventQuery),
		jobID,
		s.dialect.jsonArg(bodyJSON),
		string(eventType),
		s.dialect.timeArg(s.timestamp()),
	); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, jobID string, after *int64) ([]domain.JobEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.listEvents(ctx, s.db, jobID, after)
}

func (s *Store) listEvents(ctx context.Context, db DB, jobID string, after *int64) ([]domain.JobEvent, error) {
	query, args := listEventsQuery, []any{jobID}
	if after != nil {
		query, args = listEventsAfterQuery, []any{jobID, *after}
	}
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.JobEvent, 0)
	for rows.Next() {
		var (
			event     domain.JobEvent
			bodyJSON  []byte
			eventType string
			createdAt dbTime
		)
		if err := rows.Scan(&event.ID, &event.JobID, &bodyJSON, &eventType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		body, err := decodeMetadata(bodyJSON)
		if err != nil {
			return nil, fmt.Errorf("decode event body: %w", err)
		}
		event.Body = body
		event.Type = domain.EventType(eventType)
		event.CreatedAt = createdAt.Time
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
