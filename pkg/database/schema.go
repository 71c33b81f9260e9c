package database

import (
	"context"
	"fmt"
	"strings"
)

// Schema is the complete DDL of the ECL engine.
// ⭐ SSOT: 테이블 정의는 여기서만
//
// All pipeline tables are scoped by fic_mis_date; ledger-derived tables also by run_key.
const Schema = `
CREATE SCHEMA IF NOT EXISTS ecl;

-- Reference data --------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.products (
    product_code    TEXT PRIMARY KEY,
    product_segment TEXT NOT NULL,
    product_type    TEXT NOT NULL,
    product_desc    TEXT
);

CREATE TABLE IF NOT EXISTS ecl.segments (
    segment_key     INTEGER PRIMARY KEY,
    product_segment TEXT NOT NULL,
    product_type    TEXT NOT NULL,
    segment_name    TEXT,
    UNIQUE (product_segment, product_type)
);

CREATE TABLE IF NOT EXISTS ecl.combined_segment_map (
    group_key   TEXT NOT NULL,
    segment_key INTEGER NOT NULL REFERENCES ecl.segments (segment_key),
    PRIMARY KEY (group_key, segment_key)
);

CREATE TABLE IF NOT EXISTS ecl.customers (
    customer_ref TEXT PRIMARY KEY,
    partner_name TEXT,
    partner_type TEXT
);

CREATE TABLE IF NOT EXISTS ecl.collateral (
    fic_mis_date      DATE NOT NULL,
    customer_ref      TEXT NOT NULL,
    collateral_id     TEXT NOT NULL,
    collateral_amount DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (fic_mis_date, customer_ref, collateral_id)
);

CREATE TABLE IF NOT EXISTS ecl.delinquency_bands (
    band_code       TEXT NOT NULL,
    lower_days      INTEGER NOT NULL,
    upper_days      INTEGER NOT NULL,
    amort_term_unit CHAR(1) NOT NULL,
    PRIMARY KEY (band_code, amort_term_unit)
);

CREATE TABLE IF NOT EXISTS ecl.rating_grades (
    rating_code TEXT PRIMARY KEY,
    rank        INTEGER NOT NULL,
    is_default  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS ecl.customer_ratings (
    fic_mis_date DATE NOT NULL,
    customer_ref TEXT NOT NULL,
    rating_code  TEXT NOT NULL,
    PRIMARY KEY (fic_mis_date, customer_ref)
);

CREATE TABLE IF NOT EXISTS ecl.cooling_period_definitions (
    amort_term_unit CHAR(1) PRIMARY KEY,
    cooling_days    INTEGER NOT NULL
);

-- Configuration ---------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.engine_settings (
    id                         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    ecl_method                 TEXT,
    discounting                BOOLEAN NOT NULL DEFAULT TRUE,
    pd_interpolation_method    TEXT,
    projection_cap_years       INTEGER,
    bucket_frequency_unit      CHAR(1),
    reporting_currency         TEXT,
    fx_source                  TEXT,
    can_calculate_lgd          BOOLEAN NOT NULL DEFAULT FALSE,
    weight_base                DOUBLE PRECISION,
    weight_best                DOUBLE PRECISION,
    weight_worst               DOUBLE PRECISION,
    historical_lookback_months INTEGER,
    stage2_dpd                 INTEGER,
    stage3_dpd                 INTEGER,
    sicr_notches               INTEGER
);

CREATE TABLE IF NOT EXISTS ecl.pit_calibration (
    pd_term_structure_id INTEGER PRIMARY KEY,
    beta_gdp             DOUBLE PRECISION NOT NULL,
    beta_inflation       DOUBLE PRECISION NOT NULL,
    beta_unemployment    DOUBLE PRECISION NOT NULL,
    beta_debt            DOUBLE PRECISION NOT NULL,
    asset_correlation    DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS ecl.macro_scenarios (
    scenario        TEXT NOT NULL,
    year            INTEGER NOT NULL,
    gdp_growth      DOUBLE PRECISION NOT NULL,
    inflation       DOUBLE PRECISION NOT NULL,
    unemployment    DOUBLE PRECISION NOT NULL,
    government_debt DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (scenario, year)
);

CREATE TABLE IF NOT EXISTS ecl.exchange_rates (
    rate_date     DATE NOT NULL,
    from_currency TEXT NOT NULL,
    to_currency   TEXT NOT NULL,
    rate          DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (rate_date, from_currency, to_currency)
);

-- Source instruments ------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.loan_instruments (
    fic_mis_date            DATE NOT NULL,
    account_number          TEXT NOT NULL,
    customer_ref            TEXT NOT NULL,
    product_code            TEXT NOT NULL,
    currency_code           TEXT NOT NULL,
    carrying_amount         DOUBLE PRECISION NOT NULL,
    interest_rate           DOUBLE PRECISION,
    effective_interest_rate DOUBLE PRECISION,
    discount_rate           DOUBLE PRECISION,
    amort_term_unit         CHAR(1) NOT NULL,
    repayment_type          TEXT NOT NULL,
    interest_method         TEXT,
    day_count               TEXT,
    acct_start_date         DATE,
    maturity_date           DATE,
    next_payment_date       DATE,
    delinquent_days         INTEGER,
    collateral_amount       DOUBLE PRECISION,
    orig_credit_score       INTEGER,
    curr_credit_score       INTEGER,
    credit_rating           TEXT,
    withholding_tax_rate    DOUBLE PRECISION,
    management_fee_amount   DOUBLE PRECISION,
    PRIMARY KEY (fic_mis_date, account_number)
);

CREATE TABLE IF NOT EXISTS ecl.payment_schedules (
    fic_mis_date     DATE NOT NULL,
    account_number   TEXT NOT NULL,
    payment_date     DATE NOT NULL,
    principal_amount DOUBLE PRECISION NOT NULL,
    interest_amount  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (fic_mis_date, account_number, payment_date)
);

-- Staging -----------------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.stage_determination (
    fic_mis_date            DATE NOT NULL,
    account_number          TEXT NOT NULL,
    customer_ref            TEXT NOT NULL,
    product_code            TEXT NOT NULL,
    currency_code           TEXT NOT NULL,
    carrying_amount         DOUBLE PRECISION NOT NULL,
    interest_rate           DOUBLE PRECISION,
    effective_interest_rate DOUBLE PRECISION,
    discount_rate           DOUBLE PRECISION,
    amort_term_unit         CHAR(1) NOT NULL,
    repayment_type          TEXT NOT NULL,
    interest_method         TEXT,
    day_count               TEXT,
    acct_start_date         DATE,
    maturity_date           DATE,
    next_payment_date       DATE,
    delinquent_days         INTEGER,
    collateral_amount       DOUBLE PRECISION,
    orig_credit_score       INTEGER,
    curr_credit_score       INTEGER,
    credit_rating           TEXT,
    withholding_tax_rate    DOUBLE PRECISION,
    management_fee_amount   DOUBLE PRECISION,
    product_segment         TEXT,
    product_type            TEXT,
    product_desc            TEXT,
    segment_key             INTEGER,
    pd_term_structure_id    INTEGER,
    pd_term_structure_name  TEXT,
    pd_term_structure_desc  TEXT,
    delq_band_code          TEXT,
    rating_movement         INTEGER,
    partner_name            TEXT,
    partner_type            TEXT,
    ead                     DOUBLE PRECISION,
    lgd_percent             DOUBLE PRECISION,
    pd_percent              DOUBLE PRECISION,
    stage                   SMALLINT NOT NULL DEFAULT 1 CHECK (stage BETWEEN 1 AND 3),
    prev_stage              SMALLINT,
    in_cooling_period       BOOLEAN NOT NULL DEFAULT FALSE,
    cooling_start_date      DATE,
    cooling_duration        INTEGER,
    target_stage            SMALLINT,
    PRIMARY KEY (fic_mis_date, account_number)
);

CREATE INDEX IF NOT EXISTS idx_stage_account_date ON ecl.stage_determination (account_number, fic_mis_date);

-- PD term structures ------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.pd_term_structures (
    pd_term_structure_id INTEGER PRIMARY KEY,
    name                 TEXT NOT NULL,
    description          TEXT,
    basis_kind           CHAR(1) NOT NULL CHECK (basis_kind IN ('D', 'R')),
    frequency_unit       CHAR(1) NOT NULL
);

CREATE TABLE IF NOT EXISTS ecl.pd_term_structure_details (
    pd_term_structure_id INTEGER NOT NULL,
    basis_code           TEXT NOT NULL,
    fic_mis_date         DATE NOT NULL,
    pd_percent           DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (pd_term_structure_id, basis_code, fic_mis_date)
);

CREATE TABLE IF NOT EXISTS ecl.flow_rate_history (
    fic_mis_date    DATE NOT NULL,
    group_key       TEXT NOT NULL,
    basis_kind      CHAR(1) NOT NULL,
    from_code       TEXT NOT NULL,
    to_code         TEXT NOT NULL,
    transition_date DATE NOT NULL,
    count_from      INTEGER NOT NULL CHECK (count_from >= 0),
    count_to        INTEGER NOT NULL CHECK (count_to >= 0),
    PRIMARY KEY (fic_mis_date, group_key, basis_kind, from_code, to_code, transition_date)
);

CREATE TABLE IF NOT EXISTS ecl.transition_matrix (
    fic_mis_date    DATE NOT NULL,
    group_key       TEXT NOT NULL,
    basis_kind      CHAR(1) NOT NULL,
    from_code       TEXT NOT NULL,
    to_code         TEXT NOT NULL,
    transition_date DATE NOT NULL,
    probability     DOUBLE PRECISION NOT NULL CHECK (probability BETWEEN 0 AND 1),
    PRIMARY KEY (fic_mis_date, group_key, basis_kind, from_code, to_code, transition_date)
);

CREATE TABLE IF NOT EXISTS ecl.cumulative_pd (
    fic_mis_date    DATE NOT NULL,
    group_key       TEXT NOT NULL,
    basis_kind      CHAR(1) NOT NULL,
    transition_date DATE NOT NULL,
    basis_code      TEXT NOT NULL,
    cumulative_pd   DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (fic_mis_date, group_key, basis_kind, transition_date, basis_code)
);

CREATE TABLE IF NOT EXISTS ecl.annual_pd (
    fic_mis_date      DATE NOT NULL,
    group_key         TEXT NOT NULL,
    segment_key       INTEGER,
    basis_kind        CHAR(1) NOT NULL,
    basis_code        TEXT NOT NULL,
    avg_cumulative_pd DOUBLE PRECISION NOT NULL,
    annual_pd         DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annual_pd_date ON ecl.annual_pd (fic_mis_date, basis_kind);

CREATE TABLE IF NOT EXISTS ecl.interpolated_pd (
    fic_mis_date         DATE NOT NULL,
    pd_term_structure_id INTEGER NOT NULL,
    basis_kind           CHAR(1) NOT NULL,
    basis_code           TEXT NOT NULL,
    bucket               INTEGER NOT NULL,
    periodic_pd          DOUBLE PRECISION NOT NULL,
    cumulative_pd        DOUBLE PRECISION NOT NULL,
    cumulative_pd_base   DOUBLE PRECISION,
    pit_pd_base          DOUBLE PRECISION,
    pit_pd_best          DOUBLE PRECISION,
    pit_pd_worst         DOUBLE PRECISION,
    PRIMARY KEY (fic_mis_date, pd_term_structure_id, basis_code, bucket)
);

-- LGD ---------------------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.lgd_term_structures (
    fic_mis_date   DATE NOT NULL,
    segment_key    INTEGER NOT NULL,
    basis_code     TEXT NOT NULL DEFAULT '',
    lgd_percent    DOUBLE PRECISION NOT NULL CHECK (lgd_percent BETWEEN 0 AND 1),
    lgd_base       DOUBLE PRECISION,
    pit_lgd_base   DOUBLE PRECISION,
    pit_lgd_best   DOUBLE PRECISION,
    pit_lgd_worst  DOUBLE PRECISION,
    PRIMARY KEY (fic_mis_date, segment_key, basis_code)
);

-- Cash flows & ledger -----------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.expected_cashflows (
    fic_mis_date   DATE NOT NULL,
    account_number TEXT NOT NULL,
    bucket         INTEGER NOT NULL,
    cashflow_date  DATE NOT NULL,
    principal      DOUBLE PRECISION NOT NULL,
    interest       DOUBLE PRECISION NOT NULL,
    management_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
    amount         DOUBLE PRECISION NOT NULL,
    balance        DOUBLE PRECISION NOT NULL,
    currency_code  TEXT NOT NULL,
    PRIMARY KEY (fic_mis_date, account_number, bucket)
);

CREATE TABLE IF NOT EXISTS ecl.run_key_counter (
    id    SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS ecl.financial_cashflow_cal (
    fic_mis_date             DATE NOT NULL,
    run_key                  BIGINT NOT NULL,
    account_number           TEXT NOT NULL,
    bucket                   INTEGER NOT NULL,
    cashflow_date            DATE NOT NULL,
    cash_flow_amount         DOUBLE PRECISION NOT NULL,
    principal                DOUBLE PRECISION NOT NULL,
    interest                 DOUBLE PRECISION NOT NULL,
    currency_code            TEXT NOT NULL,
    amort_term_unit          CHAR(1) NOT NULL,
    discount_rate            DOUBLE PRECISION,
    effective_interest_rate  DOUBLE PRECISION,
    discount_factor          DOUBLE PRECISION,
    lgd_percent              DOUBLE PRECISION,
    cumulative_loss_rate     DOUBLE PRECISION,
    cumulative_impaired_prob DOUBLE PRECISION,
    cumulative_12m_pd        DOUBLE PRECISION,
    marginal_impaired_prob   DOUBLE PRECISION,
    marginal_12m_pd          DOUBLE PRECISION,
    ead                      DOUBLE PRECISION,
    expected_cf_rate         DOUBLE PRECISION,
    expected_cf              DOUBLE PRECISION,
    expected_cf_12m          DOUBLE PRECISION,
    cash_shortfall           DOUBLE PRECISION,
    cash_shortfall_pv        DOUBLE PRECISION,
    cash_shortfall_12m       DOUBLE PRECISION,
    cash_shortfall_12m_pv    DOUBLE PRECISION,
    forward_el               DOUBLE PRECISION,
    forward_el_pv            DOUBLE PRECISION,
    forward_el_12m           DOUBLE PRECISION,
    forward_el_12m_pv        DOUBLE PRECISION,
    PRIMARY KEY (fic_mis_date, run_key, account_number, bucket)
);

CREATE TABLE IF NOT EXISTS ecl.reporting_lines (
    fic_mis_date       DATE NOT NULL,
    run_key            BIGINT NOT NULL,
    account_number     TEXT NOT NULL,
    currency_code      TEXT NOT NULL,
    stage              SMALLINT NOT NULL,
    ead_ncy            DOUBLE PRECISION,
    pd_12m             DOUBLE PRECISION,
    pd_lifetime        DOUBLE PRECISION,
    lgd_percent        DOUBLE PRECISION,
    ecl_12m_ncy        DOUBLE PRECISION,
    ecl_lifetime_ncy   DOUBLE PRECISION,
    final_ecl_ncy      DOUBLE PRECISION,
    reporting_currency TEXT,
    exchange_rate      DOUBLE PRECISION,
    ead_rcy            DOUBLE PRECISION,
    ecl_12m_rcy        DOUBLE PRECISION,
    ecl_lifetime_rcy   DOUBLE PRECISION,
    final_ecl_rcy      DOUBLE PRECISION,
    PRIMARY KEY (fic_mis_date, run_key, account_number)
);

-- Process tracking ----------------------------------------------------------------

CREATE TABLE IF NOT EXISTS ecl.process_runs (
    process_id       UUID PRIMARY KEY,
    fic_mis_date     DATE NOT NULL,
    run_key          BIGINT,
    status           TEXT NOT NULL,
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    started_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at      TIMESTAMPTZ,
    error            TEXT
);

CREATE TABLE IF NOT EXISTS ecl.process_stage_status (
    process_id  UUID NOT NULL REFERENCES ecl.process_runs (process_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    error       TEXT,
    PRIMARY KEY (process_id, seq)
);

CREATE TABLE IF NOT EXISTS ecl.process_log (
    id        BIGSERIAL PRIMARY KEY,
    logged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    source    TEXT NOT NULL,
    level     TEXT NOT NULL,
    message   TEXT NOT NULL
);
`

// Migrate applies the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExpectedTables is the number of tables Schema creates
func ExpectedTables() int {
	return strings.Count(Schema, "CREATE TABLE IF NOT EXISTS ecl.")
}
