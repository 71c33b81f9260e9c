package contracts

import (
	"fmt"
	"time"
)

// TermUnit is an amortization / frequency unit code (D/W/M/Q/H/Y)
type TermUnit string

const (
	UnitDay      TermUnit = "D"
	UnitWeek     TermUnit = "W"
	UnitMonth    TermUnit = "M"
	UnitQuarter  TermUnit = "Q"
	UnitHalfYear TermUnit = "H"
	UnitYear     TermUnit = "Y"
)

// PeriodsPerYear returns 365/52/12/4/2/1 for D/W/M/Q/H/Y
func (u TermUnit) PeriodsPerYear() (int, error) {
	switch u {
	case UnitDay:
		return 365, nil
	case UnitWeek:
		return 52, nil
	case UnitMonth:
		return 12, nil
	case UnitQuarter:
		return 4, nil
	case UnitHalfYear:
		return 2, nil
	case UnitYear:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown term unit %q", string(u))
	}
}

// Truncate maps a date onto the first day of its period
func (u TermUnit) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	switch u {
	case UnitWeek:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
	case UnitMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case UnitQuarter:
		return time.Date(y, ((m-1)/3)*3+1, 1, 0, 0, 0, 0, time.UTC)
	case UnitHalfYear:
		return time.Date(y, ((m-1)/6)*6+1, 1, 0, 0, 0, 0, time.UTC)
	case UnitYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// BasisKind selects the risk-basis dimension of a PD term structure
type BasisKind string

const (
	BasisDelinquency BasisKind = "D" // delinquency band (DPD)
	BasisRating      BasisKind = "R" // credit rating
)

// Scenario is a macro-economic scenario
type Scenario string

const (
	ScenarioBase  Scenario = "BASE"
	ScenarioBest  Scenario = "BEST"
	ScenarioWorst Scenario = "WORST"
)

// AllScenarios returns scenarios in storage order
func AllScenarios() []Scenario {
	return []Scenario{ScenarioBase, ScenarioBest, ScenarioWorst}
}

// DateKey formats a reporting date the way every log line and cache key does
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }
