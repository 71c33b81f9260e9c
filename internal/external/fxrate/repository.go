package fxrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes ecl.exchange_rates
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// StoredRate returns the stored rate of the pair on date
func (r *Repository) StoredRate(ctx context.Context, from, to string, date time.Time) (float64, bool, error) {
	var rate float64
	err := r.db.QueryRow(ctx, `
		SELECT rate FROM ecl.exchange_rates
		WHERE rate_date = $1 AND from_currency = $2 AND to_currency = $3
	`, date, from, to).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query exchange rate: %w", err)
	}
	return rate, true, nil
}

// SaveRate upserts one fetched rate
func (r *Repository) SaveRate(ctx context.Context, from, to string, date time.Time, rate float64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ecl.exchange_rates (rate_date, from_currency, to_currency, rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rate_date, from_currency, to_currency) DO UPDATE SET rate = EXCLUDED.rate
	`, date, from, to, rate)
	if err != nil {
		return fmt.Errorf("save exchange rate: %w", err)
	}
	return nil
}
