package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

var (
	// ErrProcessNotFound is returned for an unknown process id
	ErrProcessNotFound = errors.New("process not found")
	// ErrProcessFinished is returned when cancelling a terminal process
	ErrProcessFinished = errors.New("process already finished")
)

// Repository persists ecl.process_runs and ecl.process_stage_status
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateProcess inserts the run and its pending stage rows in one transaction
func (r *Repository) CreateProcess(ctx context.Context, run *contracts.ProcessRun) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO ecl.process_runs (process_id, fic_mis_date, run_key, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ProcessID, run.FicMisDate, run.RunKey, string(run.Status), run.StartedAt)
	for _, st := range run.Stages {
		batch.Queue(`
			INSERT INTO ecl.process_stage_status (process_id, seq, stage, status)
			VALUES ($1, $2, $3, $4)
		`, run.ProcessID, st.Seq, st.Stage.String(), string(st.Status))
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert process: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateStage writes one stage status row
func (r *Repository) UpdateStage(ctx context.Context, processID string, st contracts.ProcessStageStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ecl.process_stage_status
		SET status = $3, started_at = $4, finished_at = $5, error = NULLIF($6, '')
		WHERE process_id = $1 AND seq = $2
	`, processID, st.Seq, string(st.Status), st.StartedAt, st.FinishedAt, st.Error)
	if err != nil {
		return fmt.Errorf("update stage %s: %w", st.Stage, err)
	}
	return nil
}

// UpdateProcess writes the run status, run key and finish time
func (r *Repository) UpdateProcess(ctx context.Context, run *contracts.ProcessRun) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ecl.process_runs
		SET status = $2, run_key = $3, finished_at = $4, error = NULLIF($5, '')
		WHERE process_id = $1
	`, run.ProcessID, string(run.Status), run.RunKey, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("finish process: %w", err)
	}
	return nil
}

// CancelRequested reads the cancel flag
func (r *Repository) CancelRequested(ctx context.Context, processID string) (bool, error) {
	var flag bool
	err := r.db.QueryRow(ctx, `
		SELECT cancel_requested FROM ecl.process_runs WHERE process_id = $1
	`, processID).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrProcessNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag, nil
}

// RequestCancel sets the cancel flag
func (r *Repository) RequestCancel(ctx context.Context, processID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ecl.process_runs SET cancel_requested = TRUE WHERE process_id = $1
	`, processID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProcessNotFound
	}
	return nil
}

// GetProcess loads a run with its stage rows
func (r *Repository) GetProcess(ctx context.Context, processID string) (*contracts.ProcessRun, error) {
	run := &contracts.ProcessRun{ProcessID: processID}
	var status string
	var errText *string
	err := r.db.QueryRow(ctx, `
		SELECT fic_mis_date, run_key, status, cancel_requested, started_at, finished_at, error
		FROM ecl.process_runs
		WHERE process_id = $1
	`, processID).Scan(&run.FicMisDate, &run.RunKey, &status, &run.CancelRequested,
		&run.StartedAt, &run.FinishedAt, &errText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query process: %w", err)
	}
	run.Status = contracts.Status(status)
	if errText != nil {
		run.Error = *errText
	}

	rows, err := r.db.Query(ctx, `
		SELECT seq, stage, status, started_at, finished_at, error
		FROM ecl.process_stage_status
		WHERE process_id = $1
		ORDER BY seq
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st contracts.ProcessStageStatus
		var stage, stStatus string
		var started, finished *time.Time
		var stErr *string
		if err := rows.Scan(&st.Seq, &stage, &stStatus, &started, &finished, &stErr); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Stage = contracts.Stage(stage)
		st.Status = contracts.Status(stStatus)
		st.StartedAt, st.FinishedAt = started, finished
		if stErr != nil {
			st.Error = *stErr
		}
		run.Stages = append(run.Stages, st)
	}
	return run, rows.Err()
}
