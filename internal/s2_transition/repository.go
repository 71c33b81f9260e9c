package s2_transition

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S2
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Observations returns stage rows in [from, to] carrying a code for the basis column
func (r *Repository) Observations(ctx context.Context, from, to time.Time, basis Basis) ([]contracts.Observation, error) {
	// column comes from a fixed Basis implementation, never user input
	query := fmt.Sprintf(`
		SELECT account_number, segment_key, fic_mis_date, %[1]s, carrying_amount, COALESCE(collateral_amount, 0)
		FROM ecl.stage_determination
		WHERE fic_mis_date BETWEEN $1 AND $2
		  AND segment_key IS NOT NULL
		  AND %[1]s IS NOT NULL
	`, pgx.Identifier{basis.Column()}.Sanitize())

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var result []contracts.Observation
	for rows.Next() {
		var o contracts.Observation
		if err := rows.Scan(&o.AccountNumber, &o.SegmentKey, &o.FicMisDate, &o.BasisCode,
			&o.CarryingAmount, &o.CollateralAmount); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// HistoryDates returns the distinct reporting dates in [from, to]
func (r *Repository) HistoryDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT fic_mis_date FROM ecl.stage_determination
		WHERE fic_mis_date BETWEEN $1 AND $2
		ORDER BY fic_mis_date
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query history dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// DeleteResults removes every S2 output of the date
func (r *Repository) DeleteResults(ctx context.Context, date time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{
		"ecl.flow_rate_history",
		"ecl.transition_matrix",
		"ecl.cumulative_pd",
		"ecl.annual_pd",
		"ecl.pd_term_structure_details",
	} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE fic_mis_date = $1`, date); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// InsertTransitions writes counts (flow_rate_history) and probabilities (transition_matrix)
func (r *Repository) InsertTransitions(ctx context.Context, rows []contracts.TransitionRow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "flow_rate_history"},
		[]string{"fic_mis_date", "group_key", "basis_kind", "from_code", "to_code", "transition_date", "count_from", "count_to"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			t := rows[i]
			return []any{t.FicMisDate, t.GroupKey, string(t.BasisKind), t.FromCode, t.ToCode, t.TransitionDate, t.CountFrom, t.CountTo}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy flow rate history: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "transition_matrix"},
		[]string{"fic_mis_date", "group_key", "basis_kind", "from_code", "to_code", "transition_date", "probability"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			t := rows[i]
			return []any{t.FicMisDate, t.GroupKey, string(t.BasisKind), t.FromCode, t.ToCode, t.TransitionDate, t.Probability}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy transition matrix: %w", err)
	}

	return tx.Commit(ctx)
}

// InsertCumulative writes cumulative PD rows
func (r *Repository) InsertCumulative(ctx context.Context, rows []contracts.CumulativePDRow) error {
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"ecl", "cumulative_pd"},
		[]string{"fic_mis_date", "group_key", "basis_kind", "transition_date", "basis_code", "cumulative_pd"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			c := rows[i]
			return []any{c.FicMisDate, c.GroupKey, string(c.BasisKind), c.TransitionDate, c.BasisCode, c.CumulativePD}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy cumulative pd: %w", err)
	}
	return nil
}

// InsertAnnual writes annual PD rows
func (r *Repository) InsertAnnual(ctx context.Context, rows []contracts.AnnualPDRow) error {
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"ecl", "annual_pd"},
		[]string{"fic_mis_date", "group_key", "segment_key", "basis_kind", "basis_code", "avg_cumulative_pd", "annual_pd"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			a := rows[i]
			return []any{a.FicMisDate, a.GroupKey, a.SegmentKey, string(a.BasisKind), a.BasisCode, a.AvgCumulativePD, a.AnnualPD}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy annual pd: %w", err)
	}
	return nil
}

// InsertDetails writes the fanned-out PD term structure details
func (r *Repository) InsertDetails(ctx context.Context, rows []contracts.PDTermStructureDetail) error {
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"ecl", "pd_term_structure_details"},
		[]string{"pd_term_structure_id", "basis_code", "fic_mis_date", "pd_percent"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			d := rows[i]
			return []any{d.TermStructureID, d.BasisCode, d.FicMisDate, d.PD}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy pd term structure details: %w", err)
	}
	return nil
}
