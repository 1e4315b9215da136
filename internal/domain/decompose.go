package domain

import (
	"fmt"
	"time"
)

// Decomposition is the result of a joint two-field decomposition.
// Modes are ordered by descending singular value.
type Decomposition struct {
	Times          []time.Time
	SingularValues []float64
	// LeftPCs[k] and RightPCs[k] are the time expansion coefficients of mode k.
	LeftPCs  [][]float64
	RightPCs [][]float64
	// LeftEOFs[k] and RightEOFs[k] are the spatial patterns of mode k.
	LeftEOFs  []*Pattern
	RightEOFs []*Pattern
}

// Modes returns the number of modes.
func (d *Decomposition) Modes() int { return len(d.SingularValues) }

// Decomposer solves a maximum covariance analysis of two space-time fields
// sharing a time axis.
type Decomposer interface {
	Solve(left, right *Field, complexify bool) (*Decomposition, error)
}

// StackWinds lays u and v out as one field by doubling the latitude axis.
// The synthetic latitudes span the real latitude range evenly.
func StackWinds(u, v *Field) (*Field, error) {
	if !u.SameGrid(v) {
		return nil, fmt.Errorf("%w: u is %dx%dx%d, v is %dx%dx%d", ErrInputShape,
			u.NT(), u.NY(), u.NX(), v.NT(), v.NY(), v.NX())
	}
	if u.NY() == 0 {
		return nil, fmt.Errorf("%w: wind field has no latitudes", ErrMissingData)
	}
	ny := 2 * u.NY()
	lat := linspace(u.Lat[0], u.Lat[u.NY()-1], ny)
	out := NewField(u.Time, lat, u.Lon)
	n := u.Cells()
	for t := 0; t < u.NT(); t++ {
		dst := out.Slab(t)
		copy(dst[:n], u.Slab(t))
		copy(dst[n:], v.Slab(t))
	}
	return out, nil
}

// LeadingIndex standardizes the left time expansion coefficient of mode 0.
func LeadingIndex(d *Decomposition) ([]float64, error) {
	if d.Modes() == 0 || len(d.LeftPCs) == 0 {
		return nil, fmt.Errorf("%w: decomposition has no modes", ErrNumericDegeneracy)
	}
	return Standardize(d.LeftPCs[0])
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}
