package contracts

import "time"

// TransitionRow is one adjacent-band migration for a group and transition date.
// Persisted to ecl.flow_rate_history (counts) and ecl.transition_matrix (probability).
type TransitionRow struct {
	FicMisDate     time.Time
	GroupKey       string
	BasisKind      BasisKind
	FromCode       string
	ToCode         string
	TransitionDate time.Time
	CountFrom      int
	CountTo        int
	Probability    float64
}

// CumulativePDRow is the backward-recursed default probability of one band
type CumulativePDRow struct {
	FicMisDate     time.Time
	GroupKey       string
	BasisKind      BasisKind
	TransitionDate time.Time
	BasisCode      string
	CumulativePD   float64
}

// AnnualPDRow is the annualised average cumulative PD.
// SegmentKey is nil on the group's own row.
type AnnualPDRow struct {
	FicMisDate      time.Time
	GroupKey        string
	SegmentKey      *int
	BasisKind       BasisKind
	BasisCode       string
	AvgCumulativePD float64
	AnnualPD        float64
}

// PDTermStructureDetail is one PD per code per date for a term structure
type PDTermStructureDetail struct {
	TermStructureID int
	BasisCode       string
	FicMisDate      time.Time
	PD              float64
}

// InterpolatedPDRow is one bucket of a PD curve
type InterpolatedPDRow struct {
	FicMisDate       time.Time
	TermStructureID  int
	BasisKind        BasisKind
	BasisCode        string
	Bucket           int
	PeriodicPD       float64
	CumulativePD     float64
	CumulativePDBase *float64 // TTC copy, never overwritten by S5
	PITPDBase        *float64
	PITPDBest        *float64
	PITPDWorst       *float64
}

// TTC returns the through-the-cycle cumulative PD
func (r *InterpolatedPDRow) TTC() float64 {
	if r.CumulativePDBase != nil {
		return *r.CumulativePDBase
	}
	return r.CumulativePD
}

// CurveKey identifies one PD curve
type CurveKey struct {
	TermStructureID int
	BasisCode       string
}
