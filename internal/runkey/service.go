package runkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Service issues run keys from the single-row ecl.run_key_counter table
// ⭐ SSOT: run_key 는 여기서만 증가 (유일한 공유 가변 상태)
type Service struct {
	db        *pgxpool.Pool
	opts      batch.Options
	increment func(context.Context) (int64, error)
	logger    *logger.Logger
}

// NewService creates a new run key service; opts bounds the contention retry
func NewService(db *pgxpool.Pool, opts batch.Options, log *logger.Logger) *Service {
	s := &Service{
		db:     db,
		opts:   opts,
		logger: log.WithField("module", "runkey"),
	}
	s.increment = s.incrementOnce
	return s
}

// The upsert takes the row lock, so concurrent callers queue and each sees the
// committed value under READ COMMITTED.
const nextQuery = `
	INSERT INTO ecl.run_key_counter (id, value)
	VALUES (1, 1)
	ON CONFLICT (id) DO UPDATE SET value = ecl.run_key_counter.value + 1
	RETURNING value
`

// Next increments the counter (initialising it to 1), retrying lock contention
func (s *Service) Next(ctx context.Context) (int64, error) {
	var key int64
	err := batch.WithRetry(ctx, s.opts.Retries, s.opts.RetryDelay, func(ctx context.Context) error {
		var err error
		key, err = s.increment(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", contracts.ErrRunKeyUnavailable, err)
	}

	s.logger.WithField("run_key", key).Info("Issued run key")
	return key, nil
}

func (s *Service) incrementOnce(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var key int64
	if err := tx.QueryRow(ctx, nextQuery).Scan(&key); err != nil {
		return 0, fmt.Errorf("increment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return key, nil
}

// Current returns the latest issued key, issuing the first one when the counter is empty
func (s *Service) Current(ctx context.Context) (int64, error) {
	var key int64
	err := s.db.QueryRow(ctx, `SELECT value FROM ecl.run_key_counter WHERE id = 1`).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Next(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read: %w", contracts.ErrRunKeyUnavailable, err)
	}
	return key, nil
}

// Resolve picks the key a ledger run should use
func Resolve(ctx context.Context, issuer contracts.RunKeyIssuer, rc contracts.RunContext) (int64, error) {
	if rc.RunKey != nil {
		return *rc.RunKey, nil
	}
	if rc.FreshRunKey {
		return issuer.Next(ctx)
	}
	return issuer.Current(ctx)
}
