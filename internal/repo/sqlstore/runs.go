package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

const insertRunQuery = `INSERT INTO runs (
	id,
	spec_json,
	targets_count,
	open_count,
	processing_count,
	failed_count,
	cancelled_count,
	completed_count,
	created_at,
	created_by
) VALUES ($1,$2,$3,$3,0,0,0,0,$4,$5)`

const insertJobQuery = `INSERT INTO jobs (id, run_id, status, target) VALUES ($1,$2,$3,$4)`

const selectRunColumns = `SELECT id, spec_json, targets_count, open_count, processing_count, failed_count, cancelled_count, completed_count, created_at, created_by FROM runs`

func (s *Store) CreateRun(ctx context.Context, spec domain.RunSpec, targets []string, createdBy string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode run spec: %w", err)
	}
	runID := uuid.NewString()
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			s.q(insertRunQuery),
			runID,
			s.dialect.jsonArg(specJSON),
			len(targets),
			s.dialect.timeArg(s.timestamp()),
			nullIfEmpty(createdBy),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, target := range targets {
			if _, err := tx.ExecContext(
				ctx,
				s.q(insertJobQuery),
				uuid.NewString(),
				runID,
				string(domain.JobStatusOpen),
				target,
			); err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if err := s.ready(); err != nil {
		return domain.Run{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, domain.Inputf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, s.q(selectRunColumns+` WHERE id = $1`), id)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err, "No run with id %s found", id)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query, args := buildListRunsQuery(filter)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func buildListRunsQuery(filter repo.RunFilter) (string, []any) {
	clauses := []string{}
	args := []any{}
	if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
		args = append(args, createdBy)
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", len(args)))
	}
	query := selectRunColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run       domain.Run
		specJSON  []byte
		createdAt dbTime
		createdBy sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&specJSON,
		&run.TargetsCount,
		&run.OpenCount,
		&run.ProcessingCount,
		&run.FailedCount,
		&run.CancelledCount,
		&run.CompletedCount,
		&createdAt,
		&createdBy,
	); err != nil {
		return domain.Run{}, err
	}
	if err := json.Unmarshal(specJSON, &run.Spec); err != nil {
		return domain.Run{}, fmt.Errorf("decode run spec: %w", err)
	}
	run.CreatedAt = createdAt.Time
	if createdBy.Valid {
		run.CreatedBy = createdBy.String
	}
	return run, nil
}
