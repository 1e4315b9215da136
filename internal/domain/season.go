package domain

import "fmt"

// Season describes the annual cycle sampling of a time axis.
//
// Period is the number of steps per cycle (12 for monthly data, 5 for the
// reduced-season ensemble runs). Offset is the index of the first step that
// belongs to phase 0.
type Season struct {
	Period int
	Offset int
}

// Validate checks 0 <= Offset < Period.
func (s Season) Validate() error {
	if s.Period <= 0 {
		return fmt.Errorf("season period must be positive, got %d", s.Period)
	}
	if s.Offset < 0 || s.Offset >= s.Period {
		return fmt.Errorf("season offset must be in [0, %d), got %d", s.Period, s.Offset)
	}
	return nil
}

// Phase returns the climatology phase of time step t.
func (s Season) Phase(t int) int {
	p := (t - s.Offset) % s.Period
	if p < 0 {
		p += s.Period
	}
	return p
}

// Climatology holds one mean field per phase of the annual cycle.
type Climatology struct {
	Season Season
	Lat    []float64
	Lon    []float64
	// Values is (phase, lat, lon) row-major.
	Values []float64
}

// Phase returns the mean field of phase p. The slice aliases Values.
func (c *Climatology) Phase(p int) []float64 {
	n := len(c.Lat) * len(c.Lon)
	return c.Values[p*n : (p+1)*n]
}

// BuildClimatology averages f over t = k*Period + Offset + p for each phase p.
//
// No NaN skipping is done: a cell that is NaN in any contributing step has a
// NaN mean, so permanently masked cells stay masked.
func BuildClimatology(f *Field, s Season) (*Climatology, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	n := f.Cells()
	c := &Climatology{
		Season: s,
		Lat:    append([]float64(nil), f.Lat...),
		Lon:    append([]float64(nil), f.Lon...),
		Values: make([]float64, s.Period*n),
	}
	for p := 0; p < s.Period; p++ {
		mean := c.Phase(p)
		count := 0
		for t := s.Offset + p; t < f.NT(); t += s.Period {
			slab := f.Slab(t)
			for i, v := range slab {
				mean[i] += v
			}
			count++
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: no time steps for phase %d (nt=%d, period=%d, offset=%d)",
				ErrInputShape, p, f.NT(), s.Period, s.Offset)
		}
		for i := range mean {
			mean[i] /= float64(count)
		}
	}
	return c, nil
}

// Anomalies subtracts the matching phase mean from every time step of f.
func (c *Climatology) Anomalies(f *Field) (*Field, error) {
	if f.NY() != len(c.Lat) || f.NX() != len(c.Lon) {
		return nil, fmt.Errorf("%w: field is %dx%d, climatology is %dx%d",
			ErrInputShape, f.NY(), f.NX(), len(c.Lat), len(c.Lon))
	}
	out := f.Clone()
	for t := 0; t < out.NT(); t++ {
		slab := out.Slab(t)
		mean := c.Phase(c.Season.Phase(t))
		for i := range slab {
			slab[i] -= mean[i]
		}
	}
	return out, nil
}

// RemoveSeasonalCycle builds the climatology of f and returns f's anomalies.
func RemoveSeasonalCycle(f *Field, s Season) (*Field, error) {
	clim, err := BuildClimatology(f, s)
	if err != nil {
		return nil, err
	}
	return clim.Anomalies(f)
}
