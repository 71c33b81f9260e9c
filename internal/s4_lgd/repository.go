package s4_lgd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S4
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// History returns every enriched stage observation in [from, to]
func (r *Repository) History(ctx context.Context, from, to time.Time) ([]HistoryPoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT account_number, segment_key, fic_mis_date, amort_term_unit,
		       COALESCE(delq_band_code, ''), COALESCE(credit_rating, ''),
		       carrying_amount, COALESCE(collateral_amount, 0)
		FROM ecl.stage_determination
		WHERE fic_mis_date BETWEEN $1 AND $2
		  AND segment_key IS NOT NULL
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query lgd history: %w", err)
	}
	defer rows.Close()

	var result []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		var unit string
		if err := rows.Scan(&p.AccountNumber, &p.SegmentKey, &p.FicMisDate, &unit,
			&p.DelqBandCode, &p.CreditRating, &p.CarryingAmount, &p.CollateralAmount); err != nil {
			return nil, fmt.Errorf("scan lgd history: %w", err)
		}
		p.AmortTermUnit = contracts.TermUnit(unit)
		result = append(result, p)
	}
	return result, rows.Err()
}

// ReplaceCalibration swaps every segment-level TTC row of the date for rows;
// an empty rows clears the date
func (r *Repository) ReplaceCalibration(ctx context.Context, date time.Time, rows []contracts.LGDTermStructure) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM ecl.lgd_term_structures
		WHERE fic_mis_date = $1 AND basis_code = ''
	`, date); err != nil {
		return fmt.Errorf("delete lgd term structures: %w", err)
	}

	if len(rows) == 0 {
		return tx.Commit(ctx)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "lgd_term_structures"},
		[]string{"fic_mis_date", "segment_key", "basis_code", "lgd_percent", "lgd_base"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			t := rows[i]
			return []any{t.FicMisDate, t.SegmentKey, t.BasisCode, t.LGD, t.LGDBase}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy lgd term structures: %w", err)
	}

	return tx.Commit(ctx)
}

// TermStructures returns every LGD term structure row dated on or before date
func (r *Repository) TermStructures(ctx context.Context, date time.Time) ([]contracts.LGDTermStructure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, segment_key, basis_code, lgd_percent,
		       lgd_base, pit_lgd_base, pit_lgd_best, pit_lgd_worst
		FROM ecl.lgd_term_structures
		WHERE fic_mis_date <= $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query lgd term structures: %w", err)
	}
	defer rows.Close()

	var result []contracts.LGDTermStructure
	for rows.Next() {
		var t contracts.LGDTermStructure
		if err := rows.Scan(&t.FicMisDate, &t.SegmentKey, &t.BasisCode, &t.LGD,
			&t.LGDBase, &t.PITLGDBase, &t.PITLGDBest, &t.PITLGDWorst); err != nil {
			return nil, fmt.Errorf("scan lgd term structure: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Exposures returns the LGD-relevant slice of every stage row of the date
func (r *Repository) Exposures(ctx context.Context, date time.Time) ([]Exposure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, account_number, segment_key, pd_term_structure_id,
		       COALESCE(delq_band_code, ''), COALESCE(credit_rating, ''),
		       carrying_amount, ead, collateral_amount, lgd_percent
		FROM ecl.stage_determination
		WHERE fic_mis_date = $1
		ORDER BY account_number
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query exposures: %w", err)
	}
	defer rows.Close()

	var result []Exposure
	for rows.Next() {
		var e Exposure
		if err := rows.Scan(&e.FicMisDate, &e.AccountNumber, &e.SegmentKey, &e.PDTermStructureID,
			&e.DelqBandCode, &e.CreditRating, &e.CarryingAmount, &e.EAD, &e.CollateralAmount, &e.LGD); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// UpdateLGD writes lgd_percent for one chunk in its own transaction
func (r *Repository) UpdateLGD(ctx context.Context, rows []Exposure) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(`UPDATE ecl.stage_determination SET lgd_percent = $3 WHERE fic_mis_date = $1 AND account_number = $2`,
			e.FicMisDate, e.AccountNumber, e.LGD)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("update lgd row %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}
