package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PearsonCorrelation computes the Pearson correlation coefficient of x and y.
//
// The second return value is false when the coefficient is undefined: the
// inputs differ in length, hold fewer than two values, either has zero
// variance, or the computation produced a non-finite value. The returned
// coefficient is always within [-1, 1].
//
// References:
//   - Pearson, K. (1895). "Notes on regression and inheritance in the case of
//     two parents"
func PearsonCorrelation(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}

	if isConstant(x) || isConstant(y) {
		return 0, false
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}

	return clampCorrelation(r), true
}

// clampCorrelation removes floating point overshoot past +-1
func clampCorrelation(correlation float64) float64 {
	if correlation > 1.0 {
		return 1.0
	}
	if correlation < -1.0 {
		return -1.0
	}
	return correlation
}

func isConstant(data []float64) bool {
	return floats.Min(data) == floats.Max(data)
}
