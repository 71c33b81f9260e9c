package eclconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository reads business configuration tables
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Overlay copies every non-null ecl.engine_settings column onto cfg
func (r *Repository) Overlay(ctx context.Context, cfg *Config) error {
	query := `
		SELECT
			ecl_method, discounting,
			pd_interpolation_method, projection_cap_years, bucket_frequency_unit,
			reporting_currency, fx_source, can_calculate_lgd,
			weight_base, weight_best, weight_worst,
			historical_lookback_months,
			stage2_dpd, stage3_dpd, sicr_notches
		FROM ecl.engine_settings
		WHERE id = 1
	`

	var (
		eclMethod, pdMethod, bucketUnit, reportingCcy, fxSource *string
		capYears, lookback, stage2, stage3, notches             *int
		wBase, wBest, wWorst                                    *float64
		discounting, canLGD                                     bool
	)

	err := r.db.QueryRow(ctx, query).Scan(
		&eclMethod, &discounting,
		&pdMethod, &capYears, &bucketUnit,
		&reportingCcy, &fxSource, &canLGD,
		&wBase, &wBest, &wWorst,
		&lookback,
		&stage2, &stage3, &notches,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query engine settings: %w", err)
	}

	cfg.ECL.Discounting = discounting
	cfg.LGD.CanCalculate = canLGD
	setString(&cfg.ECL.Method, eclMethod)
	setString(&cfg.Interpolation.Method, pdMethod)
	setString(&cfg.Interpolation.BucketUnit, bucketUnit)
	setString(&cfg.Currency.Reporting, reportingCcy)
	setString(&cfg.Currency.FXSource, fxSource)
	setInt(&cfg.Interpolation.ProjectionCapYears, capYears)
	setInt(&cfg.History.LookbackMonths, lookback)
	setInt(&cfg.Staging.Stage2DPD, stage2)
	setInt(&cfg.Staging.Stage3DPD, stage3)
	setInt(&cfg.Staging.SICRNotches, notches)

	// weights only apply as a complete set
	if wBase != nil && wBest != nil && wWorst != nil {
		cfg.Weights = ScenarioWeights{Base: *wBase, Best: *wBest, Worst: *wWorst}
	}

	return nil
}

// Sensitivities returns the calibrated betas / correlation per PD term structure
func (r *Repository) Sensitivities(ctx context.Context) (map[int]contracts.Sensitivity, error) {
	query := `
		SELECT pd_term_structure_id, beta_gdp, beta_inflation, beta_unemployment, beta_debt, asset_correlation
		FROM ecl.pit_calibration
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pit calibration: %w", err)
	}
	defer rows.Close()

	result := make(map[int]contracts.Sensitivity)
	for rows.Next() {
		var id int
		var s contracts.Sensitivity
		if err := rows.Scan(&id, &s.BetaGDP, &s.BetaInflation, &s.BetaUnemployment, &s.BetaDebt, &s.AssetCorrelation); err != nil {
			return nil, fmt.Errorf("scan pit calibration: %w", err)
		}
		result[id] = s
	}
	return result, rows.Err()
}

// MacroScenarios returns every scenario year of macro drivers
func (r *Repository) MacroScenarios(ctx context.Context) ([]contracts.MacroPoint, error) {
	query := `
		SELECT scenario, year, gdp_growth, inflation, unemployment, government_debt
		FROM ecl.macro_scenarios
		ORDER BY scenario, year
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query macro scenarios: %w", err)
	}
	defer rows.Close()

	var points []contracts.MacroPoint
	for rows.Next() {
		var m contracts.MacroPoint
		var scenario string
		if err := rows.Scan(&scenario, &m.Year, &m.GDPGrowth, &m.Inflation, &m.Unemployment, &m.GovernmentDebt); err != nil {
			return nil, fmt.Errorf("scan macro scenario: %w", err)
		}
		m.Scenario = contracts.Scenario(scenario)
		points = append(points, m)
	}
	return points, rows.Err()
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
