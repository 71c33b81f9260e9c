package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository writes ecl.process_log
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertLogs writes entries in one batch round trip
func (r *Repository) InsertLogs(ctx context.Context, entries []contracts.LogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ecl.process_log (logged_at, source, level, message)
			VALUES ($1, $2, $3, $4)
		`, e.LoggedAt, e.Source, e.Level, e.Message)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert process log: %w", err)
		}
	}
	return nil
}

// Recent returns the latest entries, newest first
func (r *Repository) Recent(ctx context.Context, limit int) ([]contracts.LogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT logged_at, source, level, message
		FROM ecl.process_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query process log: %w", err)
	}
	defer rows.Close()

	var entries []contracts.LogEntry
	for rows.Next() {
		var e contracts.LogEntry
		if err := rows.Scan(&e.LoggedAt, &e.Source, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan process log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries logged before the cutoff
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ecl.process_log WHERE logged_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune process log: %w", err)
	}
	return tag.RowsAffected(), nil
}
