package domain

import "math"

// Smooth applies a 3-point centered running mean to every cell.
// The first and last steps have no full window and become NaN.
func Smooth(f *Field, workers int) *Field {
	out, _ := mapColumns(f, workers, func(col []float64) cellOutcome {
		smoothed := RunningMean3(col)
		copy(col, smoothed)
		return cellProcessed
	})
	return out
}

// RunningMean3 returns the 3-point centered running mean of x.
func RunningMean3(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	for t := 1; t < n-1; t++ {
		out[t] = (x[t-1] + x[t] + x[t+1]) / 3
	}
	return out
}
