package contracts

import "time"

// LGDTermStructure is a TTC LGD per segment (and optional basis code)
type LGDTermStructure struct {
	FicMisDate  time.Time
	SegmentKey  int
	BasisCode   string // "" = segment level
	LGD         float64
	LGDBase     *float64 // TTC copy, never overwritten by S5
	PITLGDBase  *float64
	PITLGDBest  *float64
	PITLGDWorst *float64
}

// TTC returns the through-the-cycle LGD
func (t *LGDTermStructure) TTC() float64 {
	if t.LGDBase != nil {
		return *t.LGDBase
	}
	return t.LGD
}

// Sensitivity holds macro betas and asset correlation of a term structure
type Sensitivity struct {
	BetaGDP          float64 `yaml:"beta_gdp"`
	BetaInflation    float64 `yaml:"beta_inflation"`
	BetaUnemployment float64 `yaml:"beta_unemployment"`
	BetaDebt         float64 `yaml:"beta_debt"`
	AssetCorrelation float64 `yaml:"asset_correlation" validate:"gte=0,lt=1"`
}

// MacroPoint is one scenario year of macro drivers
type MacroPoint struct {
	Scenario       Scenario
	Year           int
	GDPGrowth      float64
	Inflation      float64
	Unemployment   float64
	GovernmentDebt float64
}

// Factor returns Σ βᵢ × macroᵢ
func (s Sensitivity) Factor(m MacroPoint) float64 {
	return s.BetaGDP*m.GDPGrowth +
		s.BetaInflation*m.Inflation +
		s.BetaUnemployment*m.Unemployment +
		s.BetaDebt*m.GovernmentDebt
}
