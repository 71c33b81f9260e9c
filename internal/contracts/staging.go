package contracts

import "time"

// Instrument is one raw loan record (ecl.loan_instruments)
type Instrument struct {
	FicMisDate            time.Time
	AccountNumber         string
	CustomerRef           string
	ProductCode           string
	CurrencyCode          string
	CarryingAmount        float64
	InterestRate          *float64
	EffectiveInterestRate *float64
	DiscountRate          *float64
	AmortTermUnit         TermUnit
	RepaymentType         string
	InterestMethod        string
	DayCount              string
	AcctStartDate         *time.Time
	MaturityDate          *time.Time
	NextPaymentDate       *time.Time
	DelinquentDays        *int
	CollateralAmount      *float64
	OrigCreditScore       *int
	CurrCreditScore       *int
	CreditRating          *string
	WithholdingTaxRate    *float64
	ManagementFeeAmount   *float64
}

// IsActive reports whether the instrument is live on the reporting date
func (i *Instrument) IsActive(date time.Time) bool {
	if !i.FicMisDate.Equal(date) {
		return false
	}
	return i.MaturityDate == nil || !i.MaturityDate.Before(date)
}

// StageRecord is one row of ecl.stage_determination, keyed by (account, fic_mis_date)
// ⭐ SSOT: S1 이후 모든 stage가 읽는 계좌 단위 작업 레코드
type StageRecord struct {
	Instrument

	// Enrichment
	ProductSegment      string
	ProductType         string
	ProductDesc         string
	SegmentKey          *int
	PDTermStructureID   *int
	PDTermStructureName string
	PDTermStructureDesc string
	DelqBandCode        string
	RatingMovement      *int
	PartnerName         string
	PartnerType         string

	// Risk parameters
	EAD *float64
	LGD *float64
	PD  *float64

	// IFRS9 stage + cooling bookkeeping
	Stage            int
	PrevStage        *int
	InCoolingPeriod  bool
	CoolingStartDate *time.Time
	CoolingDuration  *int
	TargetStage      *int
}

// NewStageRecord maps an instrument 1:1 onto a fresh stage row
func NewStageRecord(inst Instrument) StageRecord {
	return StageRecord{
		Instrument: inst,
		Stage:      1,
	}
}

// BasisCode returns the band or rating used by the given risk basis
func (r *StageRecord) BasisCode(kind BasisKind) string {
	if kind == BasisRating {
		if r.CreditRating == nil {
			return ""
		}
		return *r.CreditRating
	}
	return r.DelqBandCode
}

// ExposureAmount is the EAD when known, otherwise the carrying amount
func (r *StageRecord) ExposureAmount() float64 {
	if r.EAD != nil {
		return *r.EAD
	}
	return r.CarryingAmount
}

// ClearCooling resets the cooling bookkeeping
func (r *StageRecord) ClearCooling() {
	r.InCoolingPeriod = false
	r.CoolingStartDate = nil
	r.CoolingDuration = nil
	r.TargetStage = nil
}

// Observation is a historical point used by the transition matrix and LGD calibration
type Observation struct {
	AccountNumber    string
	SegmentKey       int
	FicMisDate       time.Time
	BasisCode        string
	CarryingAmount   float64
	CollateralAmount float64
}
