package domain

import (
	"fmt"
	"math"
)

// SignalOptions controls RemoveSignal.
type SignalOptions struct {
	// Probe is the time step checked for the mask sentinel. Both pipelines
	// probe step 1 because step 0 is NaN after smoothing.
	Probe int
	// FitFrom and FitTo bound the regression window [FitFrom, FitTo).
	// FitTo <= 0 means the full series.
	FitFrom int
	FitTo   int
}

// window resolves the regression window for a series of length nt.
func (o SignalOptions) window(nt int) (int, int, error) {
	from, to := o.FitFrom, o.FitTo
	if to <= 0 {
		to = nt
	}
	if from < 0 || to > nt || to-from < 2 {
		return 0, 0, fmt.Errorf("%w: fit window [%d, %d) invalid for %d steps", ErrInputShape, from, to, nt)
	}
	if o.Probe < 0 || o.Probe >= nt {
		return 0, 0, fmt.Errorf("%w: probe step %d outside %d steps", ErrInputShape, o.Probe, nt)
	}
	return from, to, nil
}

// RemoveSignal regresses every cell's series on ref and keeps the residual.
//
// The fit uses only the window in opts but the fitted signal is subtracted
// over the full series. Cells that are NaN at opts.Probe pass through
// unchanged, as do all cells when ref is constant over the window.
func RemoveSignal(f *Field, ref []float64, opts SignalOptions, workers int) (*Field, CellStats, error) {
	nt := f.NT()
	if len(ref) != nt {
		return nil, CellStats{}, fmt.Errorf("%w: reference series has %d steps, field has %d", ErrInputShape, len(ref), nt)
	}
	from, to, err := opts.window(nt)
	if err != nil {
		return nil, CellStats{}, err
	}
	x := ref[from:to]
	out, stats := mapColumns(f, workers, func(col []float64) cellOutcome {
		if math.IsNaN(col[opts.Probe]) {
			return cellMasked
		}
		line, err := FitLine(x, col[from:to])
		if err != nil {
			return cellDegenerate
		}
		for t := range col {
			col[t] -= line.Predict(ref[t])
		}
		return cellProcessed
	})
	return out, stats, nil
}

// RegionMean returns the NaN-skipping spatial mean of every time step.
// A step with no valid cell yields NaN.
func RegionMean(f *Field) []float64 {
	series := make([]float64, f.NT())
	for t := range series {
		var sum float64
		var n int
		for _, v := range f.Slab(t) {
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			series[t] = math.NaN()
			continue
		}
		series[t] = sum / float64(n)
	}
	return series
}
