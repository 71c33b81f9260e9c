package s3_interpolation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S3
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Details returns the annual PD per term structure and code of the date
func (r *Repository) Details(ctx context.Context, date time.Time) ([]contracts.PDTermStructureDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT pd_term_structure_id, basis_code, fic_mis_date, pd_percent
		FROM ecl.pd_term_structure_details
		WHERE fic_mis_date = $1
		ORDER BY pd_term_structure_id, basis_code
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query pd term structure details: %w", err)
	}
	defer rows.Close()

	var result []contracts.PDTermStructureDetail
	for rows.Next() {
		var d contracts.PDTermStructureDetail
		if err := rows.Scan(&d.TermStructureID, &d.BasisCode, &d.FicMisDate, &d.PD); err != nil {
			return nil, fmt.Errorf("scan detail: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// DeleteInterpolated removes every interpolated row of the date
func (r *Repository) DeleteInterpolated(ctx context.Context, date time.Time) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM ecl.interpolated_pd WHERE fic_mis_date = $1`, date); err != nil {
		return fmt.Errorf("delete interpolated pd: %w", err)
	}
	return nil
}

// InsertInterpolated bulk-inserts one chunk
func (r *Repository) InsertInterpolated(ctx context.Context, rows []contracts.InterpolatedPDRow) error {
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"ecl", "interpolated_pd"},
		[]string{"fic_mis_date", "pd_term_structure_id", "basis_kind", "basis_code", "bucket", "periodic_pd", "cumulative_pd"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			p := rows[i]
			return []any{p.FicMisDate, p.TermStructureID, string(p.BasisKind), p.BasisCode, p.Bucket, p.PeriodicPD, p.CumulativePD}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy interpolated pd: %w", err)
	}
	return nil
}
