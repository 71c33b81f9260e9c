package s3_interpolation

import (
	"fmt"
	"math"

	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/risk"
)

// Point is one bucket of an interpolated curve
type Point struct {
	Bucket     int
	PeriodicPD float64
	Cumulative float64
}

// Interpolate expands an annual PD into buckets 1..buckets (bucket 0 too for exponential decay)
// ⭐ SSOT: 보간 방식은 설정값 하나로 선택
func Interpolate(method string, annualPD float64, bucketsPerYear, buckets int) ([]Point, error) {
	if bucketsPerYear < 1 || buckets < 1 {
		return nil, fmt.Errorf("invalid bucket layout: %d per year, %d total", bucketsPerYear, buckets)
	}
	if annualPD < 0 || annualPD > 1 || math.IsNaN(annualPD) {
		return nil, fmt.Errorf("annual pd %v outside [0,1]", annualPD)
	}

	freq := float64(bucketsPerYear)
	switch method {
	case eclconfig.InterpolationPoisson:
		marginal := 1 - math.Exp(math.Log(1-annualPD)/freq)
		return compound(marginal, buckets), nil
	case eclconfig.InterpolationGeometric:
		marginal := math.Pow(1+annualPD, 1/freq) - 1
		return compound(marginal, buckets), nil
	case eclconfig.InterpolationArithmetic:
		return compound(annualPD/freq, buckets), nil
	case eclconfig.InterpolationExponentialDecay:
		return exponentialDecay(annualPD, bucketsPerYear, buckets), nil
	default:
		return nil, fmt.Errorf("unknown interpolation method %q", method)
	}
}

// compound: cum = 1 − (1−cum)(1−marginal) with a constant marginal
func compound(marginal float64, buckets int) []Point {
	marginal = risk.Clamp(marginal, 0, 1)
	points := make([]Point, 0, buckets)
	cum := 0.0
	for b := 1; b <= buckets; b++ {
		cum = 1 - (1-cum)*(1-marginal)
		points = append(points, Point{Bucket: b, PeriodicPD: marginal, Cumulative: risk.Clamp(cum, 0, 1)})
	}
	return points
}

// exponentialDecay walks a surviving population forward at a constant hazard,
// rounding to 4 dp each step and stopping once nothing remains
func exponentialDecay(annualPD float64, bucketsPerYear, buckets int) []Point {
	hazard := annualPD
	if bucketsPerYear > 1 {
		hazard = 1 - math.Pow(1-annualPD, 1/float64(bucketsPerYear))
	}
	hazard = risk.Round4(hazard)

	points := make([]Point, 0, buckets+1)
	points = append(points, Point{Bucket: 0})

	remaining, cum := 1.0, 0.0
	for b := 1; b <= buckets; b++ {
		if remaining <= 0 {
			break
		}
		marginal := risk.Round4(remaining * hazard)
		remaining = risk.Round4(remaining - marginal)
		cum = risk.Round4(cum + marginal)
		points = append(points, Point{Bucket: b, PeriodicPD: marginal, Cumulative: risk.Clamp(cum, 0, 1)})
	}
	return points
}
