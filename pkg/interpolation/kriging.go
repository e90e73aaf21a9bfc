// Package interpolation resamples image stacks along Z. Missing planes are
// estimated by ordinary kriging over the nearest acquired planes, which
// recovers isotropic voxels from stacks acquired with a coarse Z step.
package interpolation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// VariogramModel selects the shape of the semivariance curve.
type VariogramModel int

const (
	Spherical VariogramModel = iota
	Exponential
	Gaussian
)

var modelNames = map[string]VariogramModel{
	"spherical":   Spherical,
	"exponential": Exponential,
	"gaussian":    Gaussian,
}

func (m VariogramModel) String() string {
	for name, v := range modelNames {
		if v == m {
			return name
		}
	}
	return fmt.Sprintf("variogram(%d)", int(m))
}

// ParseModel is the inverse of String.
func ParseModel(s string) (VariogramModel, error) {
	m, ok := modelNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown variogram model %q", s)
	}
	return m, nil
}

// KrigingParams holds the variogram parameters. Distances are in the
// calibration unit of the stack.
type KrigingParams struct {
	Range  float64
	Sill   float64
	Nugget float64
	Model  VariogramModel
}

// Variogram returns the semivariance at distance h.
func (p KrigingParams) Variogram(h float64) float64 {
	if h == 0 {
		return 0
	}
	gamma := p.Nugget
	switch p.Model {
	case Spherical:
		if h < p.Range {
			r := h / p.Range
			gamma += p.Sill * (1.5*r - 0.5*r*r*r)
		} else {
			gamma += p.Sill
		}
	case Exponential:
		gamma += p.Sill * (1 - math.Exp(-3*h/p.Range))
	case Gaussian:
		gamma += p.Sill * (1 - math.Exp(-3*h*h/(p.Range*p.Range)))
	}
	return gamma
}

// regularization is added to the variogram diagonal so that smooth models
// (gaussian without nugget) stay solvable.
const regularization = 1e-9

// Weights solves the ordinary kriging system for an estimate at target
// from samples at positions. The weights sum to one.
func Weights(positions []float64, target float64, p KrigingParams) ([]float64, error) {
	n := len(positions)
	switch {
	case n == 0:
		return nil, fmt.Errorf("kriging needs at least one sample")
	case n == 1:
		return []float64{1}, nil
	case p.Range <= 0:
		return nil, fmt.Errorf("variogram range must be positive, got %g", p.Range)
	}

	a := mat.NewDense(n+1, n+1, nil)
	b := mat.NewVecDense(n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, p.Variogram(math.Abs(positions[i]-positions[j])))
		}
		a.Set(i, i, a.At(i, i)+regularization)
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		b.SetVec(i, p.Variogram(math.Abs(positions[i]-target)))
	}
	b.SetVec(n, 1)

	var qr mat.QR
	qr.Factorize(a)
	x := mat.NewDense(n+1, 1, nil)
	if err := qr.SolveTo(x, false, b); err != nil {
		// An ill-conditioned system still yields a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solving kriging system: %w", err)
		}
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = x.At(i, 0)
	}
	return w, nil
}
