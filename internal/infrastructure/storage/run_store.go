package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// RunStore keeps run results retrievable by run id.
type RunStore struct {
	db *DB
}

var _ ports.RunRepository = (*RunStore)(nil)

// NewRunStore wires the runs table.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun upserts the latest snapshot of a run.
func (s *RunStore) SaveRun(ctx context.Context, run domain.RunResult) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.RunID, err)
	}

	query, args, err := s.db.sb.
		Insert("runs").
		Columns("run_id", "started_at", "state", "overall_status", "total_cost", "payload").
		Values(run.RunID, formatTime(run.StartedAt), string(run.State), string(run.OverallStatus), run.TotalCost, string(payload)).
		Suffix(`ON CONFLICT (run_id) DO UPDATE SET
			state = excluded.state,
			overall_status = excluded.overall_status,
			total_cost = excluded.total_cost,
			payload = excluded.payload`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run upsert: %w", err)
	}
	if err := s.db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun loads one run or returns domain.ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (domain.RunResult, error) {
	query, args, err := s.db.sb.
		Select("payload").
		From("runs").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("build run lookup: %w", err)
	}

	var payload string
	err = s.db.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunResult{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	return decodeRun(payload)
}

// ListRuns returns up to limit runs, newest first. A non-positive limit returns all runs.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]domain.RunResult, error) {
	builder := s.db.sb.
		Select("payload").
		From("runs").
		OrderBy("started_at DESC", "run_id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run list: %w", err)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}

func decodeRun(payload string) (domain.RunResult, error) {
	var run domain.RunResult
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return domain.RunResult{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}
