package domain

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Standardize rescales x to zero mean and unit standard deviation.
//
// The deviation is the population one (divisor n, numpy's default std), not
// the sample one (divisor n-1), so the output has population variance 1.
func Standardize(x []float64) ([]float64, error) {
	mean, std := stat.PopMeanStdDev(x, nil)
	if std == 0 {
		return nil, fmt.Errorf("%w: series has zero spread", ErrNumericDegeneracy)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out, nil
}
