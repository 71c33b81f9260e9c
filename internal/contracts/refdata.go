package contracts

import (
	"context"
	"time"
)

// Product maps a product code to its segment/type
type Product struct {
	Code    string
	Segment string
	Type    string
	Desc    string
}

// Segment is a (product segment, product type) pair with its numeric key.
// The segment key doubles as the PD term structure id.
type Segment struct {
	Key            int
	ProductSegment string
	ProductType    string
	Name           string
}

// Customer holds counterparty attributes
type Customer struct {
	Ref         string
	PartnerName string
	PartnerType string
}

// DelinquencyBand is a [lower, upper] DPD range for one term unit
type DelinquencyBand struct {
	Code          string
	LowerDays     int
	UpperDays     int
	AmortTermUnit TermUnit
}

// Contains reports lower ≤ days ≤ upper for the same term unit
func (b DelinquencyBand) Contains(days int, unit TermUnit) bool {
	return b.AmortTermUnit == unit && b.LowerDays <= days && days <= b.UpperDays
}

// RatingGrade is one rating in the configured order (rank ascending = better)
type RatingGrade struct {
	Code      string
	Rank      int
	IsDefault bool
}

// PDTermStructure is a curve header
type PDTermStructure struct {
	ID            int
	Name          string
	Description   string
	BasisKind     BasisKind
	FrequencyUnit TermUnit
}

// ReferenceData is the read-only reference-data provider
// ⭐ SSOT: 참조 데이터 조회 인터페이스
type ReferenceData interface {
	Products(ctx context.Context) (map[string]Product, error)
	Segments(ctx context.Context) ([]Segment, error)
	Customers(ctx context.Context) (map[string]Customer, error)
	CollateralTotals(ctx context.Context, date time.Time) (map[string]float64, error)
	DelinquencyBands(ctx context.Context) ([]DelinquencyBand, error)
	RatingGrades(ctx context.Context) ([]RatingGrade, error)
	CustomerRatings(ctx context.Context, date time.Time) (map[string]string, error)
	CoolingPeriods(ctx context.Context) (map[TermUnit]int, error)
	PDTermStructures(ctx context.Context) (map[int]PDTermStructure, error)
	// CombinedSegments returns group key → member segment keys
	CombinedSegments(ctx context.Context) (map[string][]int, error)
}
