package eclconfig

import (
	"context"
	"fmt"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// ECL methods
const (
	MethodCashFlow        = "cash_flow"
	MethodForwardExposure = "forward_exposure"
	MethodSimpleEAD       = "simple_ead"
)

// PD interpolation methods
const (
	InterpolationPoisson          = "poisson"
	InterpolationGeometric        = "geometric"
	InterpolationArithmetic       = "arithmetic"
	InterpolationExponentialDecay = "exponential_decay"
)

// Exchange-rate sources
const (
	FXSourceAPI    = "API"
	FXSourceManual = "MANUAL"
)

// Config는 ECL 엔진의 비즈니스 설정 전체
// ⭐ SSOT: YAML 파일 + DB engine_settings overlay
type Config struct {
	ECL           ECL                   `yaml:"ecl" json:"ecl"`
	Interpolation Interpolation         `yaml:"interpolation" json:"interpolation"`
	Weights       ScenarioWeights       `yaml:"scenario_weights" json:"scenario_weights"`
	Sensitivity   contracts.Sensitivity `yaml:"sensitivity_defaults" json:"sensitivity_defaults"`
	Staging       Staging               `yaml:"staging" json:"staging"`
	LGD           LGD                   `yaml:"lgd" json:"lgd"`
	History       History               `yaml:"history" json:"history"`
	Currency      Currency              `yaml:"currency" json:"currency"`
}

// ECL S8: 집계 방식
type ECL struct {
	Method      string `yaml:"method" json:"method" validate:"omitempty,oneof=cash_flow forward_exposure simple_ead"`
	Discounting bool   `yaml:"discounting" json:"discounting"`
}

// Interpolation S3: PD 곡선 생성
type Interpolation struct {
	Method             string `yaml:"method" json:"method" validate:"required,oneof=poisson geometric arithmetic exponential_decay"`
	ProjectionCapYears int    `yaml:"projection_cap_years" json:"projection_cap_years" validate:"gte=1,lte=100"`
	BucketUnit         string `yaml:"bucket_frequency_unit" json:"bucket_frequency_unit" validate:"required,oneof=M Q H Y"`
}

// ScenarioWeights S5: 시나리오 가중치
type ScenarioWeights struct {
	Base  float64 `yaml:"base" json:"base" validate:"gte=0,lte=1"`
	Best  float64 `yaml:"best" json:"best" validate:"gte=0,lte=1"`
	Worst float64 `yaml:"worst" json:"worst" validate:"gte=0,lte=1"`
}

// Staging S1: stage 판정 기준
type Staging struct {
	Stage2DPD   int `yaml:"stage2_dpd" json:"stage2_dpd" validate:"gte=1"`
	Stage3DPD   int `yaml:"stage3_dpd" json:"stage3_dpd" validate:"gtfield=Stage2DPD"`
	SICRNotches int `yaml:"sicr_notches" json:"sicr_notches" validate:"gte=1"`
}

// LGD S4: collateral_cap 은 0.65 이하만 허용 (business ceiling)
type LGD struct {
	CanCalculate  bool    `yaml:"can_calculate_lgd" json:"can_calculate_lgd"`
	CollateralCap float64 `yaml:"collateral_cap" json:"collateral_cap" validate:"gt=0,lte=0.65"`
}

// History S2/S4: 과거 관측 구간
type History struct {
	LookbackMonths int `yaml:"lookback_months" json:"lookback_months" validate:"gte=1,lte=600"`
}

// Currency S8: 보고 통화
type Currency struct {
	Reporting string `yaml:"reporting_currency" json:"reporting_currency" validate:"omitempty,len=3,uppercase"`
	FXSource  string `yaml:"fx_source" json:"fx_source" validate:"oneof=API MANUAL"`
}

// Defaults returns the documented engine defaults.
// The ECL method has no default: S8 fails with ErrConfigMissing until one is configured.
func Defaults() *Config {
	return &Config{
		ECL: ECL{
			Discounting: true,
		},
		Interpolation: Interpolation{
			Method:             InterpolationPoisson,
			ProjectionCapYears: 5,
			BucketUnit:         string(contracts.UnitMonth),
		},
		Weights: ScenarioWeights{
			Base:  1.0 / 3,
			Best:  1.0 / 3,
			Worst: 1.0 / 3,
		},
		Sensitivity: DefaultSensitivity(),
		Staging: Staging{
			Stage2DPD:   30,
			Stage3DPD:   90,
			SICRNotches: 3,
		},
		LGD: LGD{
			CollateralCap: 0.65,
		},
		History: History{
			LookbackMonths: 60,
		},
		Currency: Currency{
			FXSource: FXSourceManual,
		},
	}
}

// DefaultSensitivity is the Basel-style fallback calibration
func DefaultSensitivity() contracts.Sensitivity {
	return contracts.Sensitivity{
		BetaGDP:          -0.30,
		BetaInflation:    0.20,
		BetaUnemployment: 0.40,
		BetaDebt:         0.10,
		AssetCorrelation: 0.1,
	}
}

// BucketsPerYear returns the number of PD curve buckets per year
func (c *Config) BucketsPerYear() int {
	n, err := contracts.TermUnit(c.Interpolation.BucketUnit).PeriodsPerYear()
	if err != nil {
		return 12
	}
	return n
}

// Buckets returns bucket_frequency × projection_cap
func (c *Config) Buckets() int {
	return c.BucketsPerYear() * c.Interpolation.ProjectionCapYears
}

// ScenarioWeightList returns weights in contracts.AllScenarios order
func (c *Config) ScenarioWeightList() []float64 {
	return []float64{c.Weights.Base, c.Weights.Best, c.Weights.Worst}
}

// RequireECLMethod fails with ErrConfigMissing when no method is configured
func (c *Config) RequireECLMethod() (string, error) {
	if c.ECL.Method == "" {
		return "", fmt.Errorf("%w: ecl method", contracts.ErrConfigMissing)
	}
	return c.ECL.Method, nil
}

// Source hands out the current configuration to a stage run
type Source interface {
	Load(ctx context.Context) (*Config, error)
}

// Static is a Source returning a fixed configuration
type Static struct {
	Config *Config
}

// Load returns the fixed configuration
func (s Static) Load(context.Context) (*Config, error) {
	if s.Config == nil {
		return nil, fmt.Errorf("%w: engine configuration", contracts.ErrConfigMissing)
	}
	return s.Config, nil
}
