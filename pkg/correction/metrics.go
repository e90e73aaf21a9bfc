package correction

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// rmse returns the root mean square difference of two equally long
// sample sets, 0 when they are empty or differ in length.
func rmse(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

// correlation returns the Pearson correlation, 0 for constant inputs.
func correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	c := stat.Correlation(a, b, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// ssim returns the global structural similarity of b with respect to a,
// using the dynamic range of a.
func ssim(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	l := floats.Max(a) - floats.Min(a)
	if l <= 0 {
		l = 1
	}
	c1 := (0.01 * l) * (0.01 * l)
	c2 := (0.03 * l) * (0.03 * l)

	muA, muB := stat.Mean(a, nil), stat.Mean(b, nil)
	varA, varB := stat.Variance(a, nil), stat.Variance(b, nil)
	cov := stat.Covariance(a, b, nil)

	num := (2*muA*muB + c1) * (2*cov + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
