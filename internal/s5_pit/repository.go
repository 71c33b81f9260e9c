package s5_pit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S5
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InterpolatedRows returns every curve row of the date
func (r *Repository) InterpolatedRows(ctx context.Context, date time.Time) ([]contracts.InterpolatedPDRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, pd_term_structure_id, basis_kind, basis_code, bucket,
		       periodic_pd, cumulative_pd, cumulative_pd_base, pit_pd_base, pit_pd_best, pit_pd_worst
		FROM ecl.interpolated_pd
		WHERE fic_mis_date = $1
		ORDER BY pd_term_structure_id, basis_code, bucket
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query interpolated pd: %w", err)
	}
	defer rows.Close()

	var result []contracts.InterpolatedPDRow
	for rows.Next() {
		var p contracts.InterpolatedPDRow
		var kind string
		if err := rows.Scan(&p.FicMisDate, &p.TermStructureID, &kind, &p.BasisCode, &p.Bucket,
			&p.PeriodicPD, &p.CumulativePD, &p.CumulativePDBase, &p.PITPDBase, &p.PITPDBest, &p.PITPDWorst); err != nil {
			return nil, fmt.Errorf("scan interpolated pd: %w", err)
		}
		p.BasisKind = contracts.BasisKind(kind)
		result = append(result, p)
	}
	return result, rows.Err()
}

// UpdatePITPD writes the scenario PDs, the weighted PD and the TTC copy
func (r *Repository) UpdatePITPD(ctx context.Context, rows []contracts.InterpolatedPDRow) error {
	return r.sendBatch(ctx, len(rows), func(b *pgx.Batch) {
		for _, p := range rows {
			b.Queue(`
				UPDATE ecl.interpolated_pd SET
					cumulative_pd = $5, cumulative_pd_base = $6,
					pit_pd_base = $7, pit_pd_best = $8, pit_pd_worst = $9
				WHERE fic_mis_date = $1 AND pd_term_structure_id = $2 AND basis_code = $3 AND bucket = $4
			`, p.FicMisDate, p.TermStructureID, p.BasisCode, p.Bucket,
				p.CumulativePD, p.CumulativePDBase, p.PITPDBase, p.PITPDBest, p.PITPDWorst)
		}
	})
}

// LGDTermStructures returns the LGD rows of the date
func (r *Repository) LGDTermStructures(ctx context.Context, date time.Time) ([]contracts.LGDTermStructure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, segment_key, basis_code, lgd_percent,
		       lgd_base, pit_lgd_base, pit_lgd_best, pit_lgd_worst
		FROM ecl.lgd_term_structures
		WHERE fic_mis_date = $1
		ORDER BY segment_key, basis_code
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

// UpdatePITLGD writes scenario LGDs, the weighted LGD and the TTC copy
func (r *Repository) UpdatePITLGD(ctx context.Context, rows []contracts.LGDTermStructure) error {
	return r.sendBatch(ctx, len(rows), func(b *pgx.Batch) {
		for _, t := range rows {
			b.Queue(`
				UPDATE ecl.lgd_term_structures SET
					lgd_percent = $4, lgd_base = $5,
					pit_lgd_base = $6, pit_lgd_best = $7, pit_lgd_worst = $8
				WHERE fic_mis_date = $1 AND segment_key = $2 AND basis_code = $3
			`, t.FicMisDate, t.SegmentKey, t.BasisCode,
				t.LGD, t.LGDBase, t.PITLGDBase, t.PITLGDBest, t.PITLGDWorst)
		}
	})
}

func (r *Repository) sendBatch(ctx context.Context, n int, queue func(*pgx.Batch)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	queue(b)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch update row %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}
