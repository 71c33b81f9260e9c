package s4_lgd

import (
	"sort"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/risk"
)

// Exposure is the slice of a stage row LGD assignment needs
type Exposure struct {
	FicMisDate        time.Time
	AccountNumber     string
	SegmentKey        *int
	PDTermStructureID *int
	DelqBandCode      string
	CreditRating      string
	CarryingAmount    float64
	EAD               *float64
	CollateralAmount  *float64
	LGD               *float64
}

// Source tags which rule assigned an LGD
type Source string

const (
	SourceSegment    Source = "segment"
	SourceBasis      Source = "basis"
	SourceCollateral Source = "collateral"
)

type tsKey struct {
	segment int
	basis   string
}

// TermStructureIndex keeps the latest LGD per (segment, basis code)
type TermStructureIndex map[tsKey]float64

// IndexTermStructures keeps, per (segment, basis code), the row with the latest date
func IndexTermStructures(rows []contracts.LGDTermStructure) TermStructureIndex {
	sorted := make([]contracts.LGDTermStructure, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FicMisDate.Before(sorted[j].FicMisDate) })

	idx := make(TermStructureIndex, len(sorted))
	for _, r := range sorted {
		idx[tsKey{r.SegmentKey, r.BasisCode}] = r.LGD
	}
	return idx
}

// AssignTermStructure fills null LGDs: pass A by segment alone, pass B by
// segment plus the basis code of the segment's PD term structure
func AssignTermStructure(rows []Exposure, idx TermStructureIndex, structures map[int]contracts.PDTermStructure) map[string]Source {
	assigned := make(map[string]Source)

	for i := range rows {
		r := &rows[i]
		if r.LGD != nil || r.SegmentKey == nil {
			continue
		}
		if lgd, ok := idx[tsKey{*r.SegmentKey, ""}]; ok {
			r.LGD = contracts.Float(risk.Clamp(lgd, 0, 1))
			assigned[r.AccountNumber] = SourceSegment
		}
	}

	for i := range rows {
		r := &rows[i]
		if r.LGD != nil || r.SegmentKey == nil {
			continue
		}
		code := r.DelqBandCode
		if r.PDTermStructureID != nil {
			if ts, ok := structures[*r.PDTermStructureID]; ok && ts.BasisKind == contracts.BasisRating {
				code = r.CreditRating
			}
		}
		if code == "" {
			continue
		}
		if lgd, ok := idx[tsKey{*r.SegmentKey, code}]; ok {
			r.LGD = contracts.Float(risk.Clamp(lgd, 0, 1))
			assigned[r.AccountNumber] = SourceBasis
		}
	}

	return assigned
}

// MaxCollateralLGD is the hard ceiling of collateral-based LGD
const MaxCollateralLGD = 0.65

// CollateralLGD returns clamp(1 − collateral/exposure, 0, ceiling).
// A ceiling above MaxCollateralLGD is lowered to it.
// ok is false when the exposure is not positive.
func CollateralLGD(collateral, exposure, ceiling float64) (float64, bool) {
	if exposure <= 0 {
		return 0, false
	}
	if ceiling <= 0 || ceiling > MaxCollateralLGD {
		ceiling = MaxCollateralLGD
	}
	return risk.Clamp(1-collateral/exposure, 0, ceiling), true
}

// AssignCollateral fills the LGDs still null after the term-structure passes
func AssignCollateral(rows []Exposure, ceiling float64) map[string]Source {
	assigned := make(map[string]Source)
	for i := range rows {
		r := &rows[i]
		if r.LGD != nil {
			continue
		}
		exposure := r.CarryingAmount
		if r.EAD != nil {
			exposure = *r.EAD
		}
		collateral := 0.0
		if r.CollateralAmount != nil {
			collateral = *r.CollateralAmount
		}
		if lgd, ok := CollateralLGD(collateral, exposure, ceiling); ok {
			r.LGD = contracts.Float(lgd)
			assigned[r.AccountNumber] = SourceCollateral
		}
	}
	return assigned
}
