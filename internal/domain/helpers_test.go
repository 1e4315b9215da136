package domain

import (
	"time"
)

// monthly returns n month-start times from start.
func monthly(start time.Time, n int) []time.Time {
	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.AddDate(0, i, 0)
	}
	return times
}

// makeField builds an nt x ny x nx field on a regular 1-degree grid.
func makeField(nt, ny, nx int, fn func(t, y, x int) float64) *Field {
	lat := make([]float64, ny)
	for i := range lat {
		lat[i] = float64(i)
	}
	lon := make([]float64, nx)
	for i := range lon {
		lon[i] = float64(i)
	}
	f := NewField(monthly(time.Date(1980, 12, 1, 0, 0, 0, 0, time.UTC), nt), lat, lon)
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				f.Set(t, y, x, fn(t, y, x))
			}
		}
	}
	return f
}
