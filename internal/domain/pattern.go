package domain

import (
	"fmt"
	"math"
)

// Pattern is a fixed (lat, lon) weight field such as a leading EOF.
// NaN cells lie outside the pattern's footprint.
type Pattern struct {
	Lat    []float64
	Lon    []float64
	Values []float64
}

// Validate checks that Values matches the axes.
func (p *Pattern) Validate() error {
	if len(p.Values) != len(p.Lat)*len(p.Lon) {
		return fmt.Errorf("%w: pattern has %d values for %dx%d grid", ErrInputShape, len(p.Values), len(p.Lat), len(p.Lon))
	}
	return nil
}

// Projector projects fields onto a fixed pattern.
type Projector struct {
	pattern *Pattern
	norm    float64
}

// NewProjector computes the pattern's NaN-ignoring sum once and reuses it for
// every projection.
func NewProjector(p *Pattern) (*Projector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	norm := nansum(p.Values)
	if norm == 0 {
		return nil, fmt.Errorf("%w: pattern sums to zero", ErrNumericDegeneracy)
	}
	return &Projector{pattern: p, norm: norm}, nil
}

// Project returns one index value per time step of f:
// nansum(f[t] * pattern) / nansum(pattern). f must lie on the pattern's grid.
func (pr *Projector) Project(f *Field) ([]float64, error) {
	if f.NY() != len(pr.pattern.Lat) || f.NX() != len(pr.pattern.Lon) {
		return nil, fmt.Errorf("%w: field is %dx%d, pattern is %dx%d",
			ErrInputShape, f.NY(), f.NX(), len(pr.pattern.Lat), len(pr.pattern.Lon))
	}
	if !sameAxis(f.Lat, pr.pattern.Lat) || !sameAxis(f.Lon, pr.pattern.Lon) {
		return nil, fmt.Errorf("%w: field and pattern coordinates differ", ErrInputShape)
	}
	index := make([]float64, f.NT())
	for t := range index {
		var sum float64
		for i, v := range f.Slab(t) {
			w := v * pr.pattern.Values[i]
			if math.IsNaN(w) {
				continue
			}
			sum += w
		}
		index[t] = sum / pr.norm
	}
	return index, nil
}

// axisTolerance absorbs float32 round-trips of coordinate variables.
const axisTolerance = 1e-4

func sameAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > axisTolerance {
			return false
		}
	}
	return true
}

func nansum(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}
