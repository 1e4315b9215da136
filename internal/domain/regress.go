package domain

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Line is a fitted simple linear regression y = Alpha + Beta*x.
type Line struct {
	Alpha float64
	Beta  float64
}

// FitLine fits y on x by ordinary least squares.
//
// A NaN anywhere in x or y yields a NaN line, so predictions and residuals
// of that series are NaN as well. A constant x has no solution and returns
// ErrNumericDegeneracy.
func FitLine(x, y []float64) (Line, error) {
	if len(x) != len(y) {
		return Line{}, fmt.Errorf("%w: regressor has %d values, response has %d", ErrInputShape, len(x), len(y))
	}
	if len(x) < 2 {
		return Line{}, fmt.Errorf("%w: need at least 2 points, got %d", ErrNumericDegeneracy, len(x))
	}
	if stat.Variance(x, nil) == 0 {
		return Line{}, fmt.Errorf("%w: constant regressor", ErrNumericDegeneracy)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return Line{Alpha: alpha, Beta: beta}, nil
}

// Predict evaluates the line at x.
func (l Line) Predict(x float64) float64 {
	return l.Alpha + l.Beta*x
}

// timeIndex returns 0, 1, ..., n-1 as floats.
func timeIndex(n int) []float64 {
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}
