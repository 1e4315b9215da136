package domain

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CellStats counts how a per-cell stage treated the grid.
type CellStats struct {
	Processed  int
	Masked     int
	Degenerate int
}

// Add accumulates o into s.
func (s *CellStats) Add(o CellStats) {
	s.Processed += o.Processed
	s.Masked += o.Masked
	s.Degenerate += o.Degenerate
}

type cellOutcome int

const (
	cellProcessed cellOutcome = iota
	cellMasked
	cellDegenerate
)

// columnFunc transforms one cell's time series in place.
type columnFunc func(col []float64) cellOutcome

// mapColumns applies fn to a copy of every cell's time series, one goroutine
// per latitude row with at most workers rows in flight (GOMAXPROCS when
// workers <= 0). Cells do not depend on each other, so the result equals a
// serial sweep.
func mapColumns(f *Field, workers int, fn columnFunc) (*Field, CellStats) {
	out := f.Clone()
	rowStats := make([]CellStats, f.NY())

	limit := workers
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for y := 0; y < f.NY(); y++ {
		g.Go(func() error {
			col := make([]float64, f.NT())
			st := &rowStats[y]
			for x := 0; x < f.NX(); x++ {
				col = f.Column(y, x, col)
				switch fn(col) {
				case cellMasked:
					st.Masked++
					continue
				case cellDegenerate:
					st.Degenerate++
					continue
				}
				st.Processed++
				out.SetColumn(y, x, col)
			}
			return nil
		})
	}
	_ = g.Wait()

	var stats CellStats
	for _, st := range rowStats {
		stats.Add(st)
	}
	return out, stats
}
