package domain

import "math"

// Detrend removes a per-cell linear trend in time, processing at most workers
// latitude rows at once.
//
// A cell whose first step is NaN is treated as permanently masked and copied
// through unchanged. Interior NaNs are not filtered; they turn the whole
// column NaN through the regression.
func Detrend(f *Field, workers int) (*Field, CellStats) {
	tindex := timeIndex(f.NT())
	return mapColumns(f, workers, func(col []float64) cellOutcome {
		if len(col) == 0 || math.IsNaN(col[0]) {
			return cellMasked
		}
		line, err := FitLine(tindex, col)
		if err != nil {
			return cellDegenerate
		}
		for t := range col {
			col[t] -= line.Predict(tindex[t])
		}
		return cellProcessed
	})
}
