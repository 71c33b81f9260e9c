package s4_lgd

import (
	"sort"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/risk"
)

// Epsilon keeps (EAD − recovered) / (EAD + ε) finite
const Epsilon = 1e-6

// HistoryPoint is one historical observation of an account used for LGD calibration
type HistoryPoint struct {
	AccountNumber    string
	SegmentKey       int
	FicMisDate       time.Time
	AmortTermUnit    contracts.TermUnit
	DelqBandCode     string
	CreditRating     string
	CarryingAmount   float64
	CollateralAmount float64
}

// DefaultRule decides whether an observation is a default event
type DefaultRule struct {
	// WorstBands maps term unit → worst delinquency band code
	WorstBands     map[contracts.TermUnit]string
	DefaultRatings map[string]bool
}

// NewDefaultRule derives the worst band per term unit and the default ratings
func NewDefaultRule(bands []contracts.DelinquencyBand, grades []contracts.RatingGrade) DefaultRule {
	rule := DefaultRule{
		WorstBands:     make(map[contracts.TermUnit]string),
		DefaultRatings: make(map[string]bool),
	}
	lower := make(map[contracts.TermUnit]int)
	for _, b := range bands {
		if cur, ok := lower[b.AmortTermUnit]; !ok || b.LowerDays > cur {
			lower[b.AmortTermUnit] = b.LowerDays
			rule.WorstBands[b.AmortTermUnit] = b.Code
		}
	}
	for _, g := range grades {
		if g.IsDefault {
			rule.DefaultRatings[g.Code] = true
		}
	}
	return rule
}

// IsDefault reports whether p sits in the worst band or a default rating
func (r DefaultRule) IsDefault(p HistoryPoint) bool {
	if p.DelqBandCode != "" && r.WorstBands[p.AmortTermUnit] == p.DelqBandCode {
		return true
	}
	return p.CreditRating != "" && r.DefaultRatings[p.CreditRating]
}

// AccountLGD computes the realised LGD of one account's history.
// ok is false when the account never defaulted or had no exposure at default.
func AccountLGD(history []HistoryPoint, rule DefaultRule) (lgd float64, ok bool) {
	sorted := make([]HistoryPoint, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FicMisDate.Before(sorted[j].FicMisDate) })

	event := -1
	for i, p := range sorted {
		if rule.IsDefault(p) {
			event = i
			break
		}
	}
	if event < 0 {
		return 0, false
	}

	ead := sorted[event].CarryingAmount
	if ead <= 0 {
		return 0, false
	}

	minAfter := ead
	for _, p := range sorted[event+1:] {
		if p.CarryingAmount < minAfter {
			minAfter = p.CarryingAmount
		}
	}

	recovered := ead - minAfter
	if recovered < 0 {
		recovered = 0
	}
	recovered += sorted[event].CollateralAmount
	if recovered > ead {
		recovered = ead
	}

	return risk.Clamp((ead-recovered)/(ead+Epsilon), 0, 1), true
}

// Calibration is the outcome of a historical LGD calibration
type Calibration struct {
	BySegment map[int]float64
	Overall   float64
	Defaults  int
}

// Calibrate averages realised LGD per segment and overall
func Calibrate(points []HistoryPoint, rule DefaultRule) Calibration {
	type key struct {
		segment int
		account string
	}
	histories := make(map[key][]HistoryPoint)
	for _, p := range points {
		k := key{p.SegmentKey, p.AccountNumber}
		histories[k] = append(histories[k], p)
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	var total float64
	var n int
	for k, h := range histories {
		lgd, ok := AccountLGD(h, rule)
		if !ok {
			continue
		}
		sums[k.segment] += lgd
		counts[k.segment]++
		total += lgd
		n++
	}

	cal := Calibration{BySegment: make(map[int]float64, len(sums)), Defaults: n}
	for seg, s := range sums {
		cal.BySegment[seg] = risk.Round6(s / float64(counts[seg]))
	}
	if n > 0 {
		cal.Overall = risk.Round6(total / float64(n))
	}
	return cal
}
