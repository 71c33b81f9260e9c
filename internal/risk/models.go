package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// Model bounds
const (
	// PDFloor / PDCeil bound every PIT PD
	PDFloor = 1e-6
	PDCeil  = 1 - 1e-6

	// DegeneratePD: TTC PD at or above this carries no Frye-Jacobs adjustment
	DegeneratePD = 0.999999

	// LGDGuardrail: PIT LGD stays within ±10pp of TTC LGD
	LGDGuardrail = 0.10
)

// Vasicek converts a TTC PD into a PIT PD for one scenario.
//
//	pit = Φ((Φ⁻¹(ttc) − factor) / √(1−ρ)), clamped to [1e-6, 1−1e-6]
func Vasicek(ttcPD, factor, rho float64) float64 {
	ttc := Clamp(ttcPD, PDFloor, PDCeil)
	z := (NormInv(ttc) - factor) / math.Sqrt(1-rho)
	return Clamp(NormCDF(z), PDFloor, PDCeil)
}

// FryeJacobs converts a TTC LGD into a PIT LGD given the scenario conditional default rate.
//
//	k   = (Φ⁻¹(pd) − Φ⁻¹(pd × lgd)) / √(1−ρ)
//	pit = Φ(Φ⁻¹(cDR) − k) / cDR
//
// The result is clamped to [0,1] and then to ±LGDGuardrail around the TTC LGD.
func FryeJacobs(ttcPD, ttcLGD, conditionalDR, rho float64) float64 {
	if ttcPD >= DegeneratePD {
		return ttcLGD
	}

	pd := Clamp(ttcPD, PDFloor, PDCeil)
	el := Clamp(pd*ttcLGD, PDFloor, PDCeil)
	cdr := Clamp(conditionalDR, PDFloor, PDCeil)

	k := (NormInv(pd) - NormInv(el)) / math.Sqrt(1-rho)
	pit := NormCDF(NormInv(cdr)-k) / cdr

	pit = Clamp(pit, 0, 1)
	return Clamp(pit, ttcLGD-LGDGuardrail, ttcLGD+LGDGuardrail)
}

// Weighted returns Σ wᵢ × vᵢ / Σ wᵢ
func Weighted(values, weights []float64) float64 {
	var sum, total float64
	for i, v := range values {
		if i >= len(weights) {
			break
		}
		sum += v * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return Mean(values)
	}
	return sum / total
}

// Round rounds half away from zero to places decimal places
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Round6 is the PD storage precision
func Round6(v float64) float64 { return Round(v, 6) }

// Round4 is the exponential-decay step precision
func Round4(v float64) float64 { return Round(v, 4) }
