package s2_transition

import (
	"fmt"
	"sort"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
)

// Basis is the risk-basis dimension of a transition matrix
// ⭐ SSOT: 연체구간(D) / 신용등급(R) 두 경로를 하나의 구현으로
type Basis interface {
	Kind() contracts.BasisKind
	// Order returns the canonical codes, worst last
	Order() []string
	// DefaultValue is the worst (absorbing) code
	DefaultValue() string
	// Column is the stage_determination column holding the code
	Column() string
}

// DelinquencyBasis orders bands by ascending lower bound
type DelinquencyBasis struct {
	codes []string
}

// NewDelinquencyBasis builds the band order for one term unit
func NewDelinquencyBasis(bands []contracts.DelinquencyBand, unit contracts.TermUnit) (*DelinquencyBasis, error) {
	ordered := refdata.BandsForUnit(bands, unit)
	if len(ordered) < 2 {
		return nil, fmt.Errorf("%w: delinquency bands for unit %q", contracts.ErrReferenceMissing, unit)
	}
	codes := make([]string, len(ordered))
	for i, b := range ordered {
		codes[i] = b.Code
	}
	return &DelinquencyBasis{codes: codes}, nil
}

func (b *DelinquencyBasis) Kind() contracts.BasisKind { return contracts.BasisDelinquency }
func (b *DelinquencyBasis) Order() []string           { return b.codes }
func (b *DelinquencyBasis) DefaultValue() string      { return b.codes[len(b.codes)-1] }
func (b *DelinquencyBasis) Column() string            { return "delq_band_code" }

// RatingBasis orders ratings by configured rank; the default grade goes last
type RatingBasis struct {
	codes []string
}

// NewRatingBasis builds the rating order
func NewRatingBasis(grades []contracts.RatingGrade) (*RatingBasis, error) {
	if len(grades) < 2 {
		return nil, fmt.Errorf("%w: rating grades", contracts.ErrReferenceMissing)
	}
	sorted := make([]contracts.RatingGrade, len(grades))
	copy(sorted, grades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsDefault != sorted[j].IsDefault {
			return !sorted[i].IsDefault
		}
		return sorted[i].Rank < sorted[j].Rank
	})

	codes := make([]string, len(sorted))
	for i, g := range sorted {
		codes[i] = g.Code
	}
	return &RatingBasis{codes: codes}, nil
}

func (b *RatingBasis) Kind() contracts.BasisKind { return contracts.BasisRating }
func (b *RatingBasis) Order() []string           { return b.codes }
func (b *RatingBasis) DefaultValue() string      { return b.codes[len(b.codes)-1] }
func (b *RatingBasis) Column() string            { return "credit_rating" }
