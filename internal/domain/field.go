// Package domain holds gridded fields and the per-cell stages that turn them
// into the AMM index.
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Region is an inclusive longitude/latitude box in degrees.
type Region struct {
	LonMin float64
	LonMax float64
	LatMin float64
	LatMax float64
}

// Validate checks that the box has positive extent.
func (r Region) Validate() error {
	if r.LonMin >= r.LonMax {
		return fmt.Errorf("region lon_min (%.2f) must be < lon_max (%.2f)", r.LonMin, r.LonMax)
	}
	if r.LatMin >= r.LatMax {
		return fmt.Errorf("region lat_min (%.2f) must be < lat_max (%.2f)", r.LatMin, r.LatMax)
	}
	return nil
}

// LoadRequest selects a variable and time range from a gridded file.
type LoadRequest struct {
	Path string
	Var  string
	// Start and End bound the time axis inclusively. Zero values leave the
	// corresponding side open.
	Start time.Time
	End   time.Time
	// Offset is added to every unpacked value, e.g. -273.15 for Kelvin input.
	Offset float64
}

// Field is a dense (time, lat, lon) grid.
//
// Values are stored row-major: index (t*ny+y)*nx+x. Missing or land cells
// hold NaN.
type Field struct {
	Time   []time.Time
	Lat    []float64
	Lon    []float64
	Values []float64
}

// NewField allocates a NaN-free zero field on the given axes.
func NewField(times []time.Time, lat, lon []float64) *Field {
	return &Field{
		Time:   append([]time.Time(nil), times...),
		Lat:    append([]float64(nil), lat...),
		Lon:    append([]float64(nil), lon...),
		Values: make([]float64, len(times)*len(lat)*len(lon)),
	}
}

// NT returns the length of the time axis.
func (f *Field) NT() int { return len(f.Time) }

// NY returns the length of the latitude axis.
func (f *Field) NY() int { return len(f.Lat) }

// NX returns the length of the longitude axis.
func (f *Field) NX() int { return len(f.Lon) }

// Cells returns the number of spatial cells.
func (f *Field) Cells() int { return len(f.Lat) * len(f.Lon) }

func (f *Field) index(t, y, x int) int {
	return (t*len(f.Lat)+y)*len(f.Lon) + x
}

// At returns the value at (t, y, x).
func (f *Field) At(t, y, x int) float64 {
	return f.Values[f.index(t, y, x)]
}

// Set stores v at (t, y, x).
func (f *Field) Set(t, y, x int, v float64) {
	f.Values[f.index(t, y, x)] = v
}

// Slab returns the spatial slice at time step t. The slice aliases Values.
func (f *Field) Slab(t int) []float64 {
	n := f.Cells()
	return f.Values[t*n : (t+1)*n]
}

// Column copies the time series at cell (y, x) into dst (allocated if nil).
func (f *Field) Column(y, x int, dst []float64) []float64 {
	nt := f.NT()
	if cap(dst) < nt {
		dst = make([]float64, nt)
	}
	dst = dst[:nt]
	n := f.Cells()
	off := y*len(f.Lon) + x
	for t := 0; t < nt; t++ {
		dst[t] = f.Values[t*n+off]
	}
	return dst
}

// SetColumn writes the time series col into cell (y, x).
func (f *Field) SetColumn(y, x int, col []float64) {
	n := f.Cells()
	off := y*len(f.Lon) + x
	for t, v := range col {
		f.Values[t*n+off] = v
	}
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{
		Time:   append([]time.Time(nil), f.Time...),
		Lat:    append([]float64(nil), f.Lat...),
		Lon:    append([]float64(nil), f.Lon...),
		Values: append([]float64(nil), f.Values...),
	}
}

// Validate checks that Values matches the axes and that the spatial axes are
// strictly increasing.
func (f *Field) Validate() error {
	if want := f.NT() * f.Cells(); len(f.Values) != want {
		return fmt.Errorf("%w: %d values for %dx%dx%d grid", ErrInputShape, len(f.Values), f.NT(), f.NY(), f.NX())
	}
	for i := 1; i < len(f.Lon); i++ {
		if f.Lon[i] <= f.Lon[i-1] {
			return fmt.Errorf("%w: longitudes must be strictly increasing", ErrInputShape)
		}
	}
	for i := 1; i < len(f.Lat); i++ {
		if f.Lat[i] <= f.Lat[i-1] {
			return fmt.Errorf("%w: latitudes must be strictly increasing", ErrInputShape)
		}
	}
	return nil
}

// SameGrid reports whether g shares f's time length and spatial shape.
func (f *Field) SameGrid(g *Field) bool {
	return f.NT() == g.NT() && f.NY() == g.NY() && f.NX() == g.NX()
}

// NormalizeLon maps a longitude in degrees into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Normalize maps longitudes into [-180, 180) and reorders both spatial axes
// ascending, permuting Values to match.
func (f *Field) Normalize() {
	for i, lon := range f.Lon {
		f.Lon[i] = NormalizeLon(lon)
	}
	lonPerm := ascending(f.Lon)
	latPerm := ascending(f.Lat)
	if isIdentity(lonPerm) && isIdentity(latPerm) {
		return
	}
	f.reindex(latPerm, lonPerm)
}

// Select restricts the field to cells inside r (bounds inclusive).
func (f *Field) Select(r Region) (*Field, error) {
	var latIdx, lonIdx []int
	for i, lat := range f.Lat {
		if lat >= r.LatMin && lat <= r.LatMax {
			latIdx = append(latIdx, i)
		}
	}
	for j, lon := range f.Lon {
		if lon >= r.LonMin && lon <= r.LonMax {
			lonIdx = append(lonIdx, j)
		}
	}
	if len(latIdx) == 0 || len(lonIdx) == 0 {
		return nil, fmt.Errorf("%w: empty spatial window lon [%.2f, %.2f] lat [%.2f, %.2f]",
			ErrMissingData, r.LonMin, r.LonMax, r.LatMin, r.LatMax)
	}
	out := f.Clone()
	out.reindex(latIdx, lonIdx)
	return out, nil
}

// TrimTime keeps time steps [from, to).
func (f *Field) TrimTime(from, to int) (*Field, error) {
	if from < 0 || to > f.NT() || from >= to {
		return nil, fmt.Errorf("%w: cannot keep steps [%d, %d) of %d", ErrInputShape, from, to, f.NT())
	}
	n := f.Cells()
	return &Field{
		Time:   append([]time.Time(nil), f.Time[from:to]...),
		Lat:    append([]float64(nil), f.Lat...),
		Lon:    append([]float64(nil), f.Lon...),
		Values: append([]float64(nil), f.Values[from*n:to*n]...),
	}, nil
}

// reindex rebuilds the field keeping latIdx rows and lonIdx columns in order.
func (f *Field) reindex(latIdx, lonIdx []int) {
	nx := len(f.Lon)
	n := f.Cells()
	m := len(latIdx) * len(lonIdx)
	values := make([]float64, f.NT()*m)
	for t := 0; t < f.NT(); t++ {
		src := f.Values[t*n : (t+1)*n]
		dst := values[t*m : (t+1)*m]
		for yi, y := range latIdx {
			for xi, x := range lonIdx {
				dst[yi*len(lonIdx)+xi] = src[y*nx+x]
			}
		}
	}
	lat := make([]float64, len(latIdx))
	for i, y := range latIdx {
		lat[i] = f.Lat[y]
	}
	lon := make([]float64, len(lonIdx))
	for i, x := range lonIdx {
		lon[i] = f.Lon[x]
	}
	f.Lat, f.Lon, f.Values = lat, lon, values
}

// ascending returns the permutation that sorts xs ascending.
func ascending(xs []float64) []int {
	perm := make([]int, len(xs))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return xs[perm[a]] < xs[perm[b]] })
	return perm
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}

// Ensemble holds the members of an ensemble grid, each a Field on shared axes.
type Ensemble struct {
	Members []*Field
}

// Validate checks that every member shares the first member's grid.
func (e *Ensemble) Validate() error {
	if len(e.Members) == 0 {
		return fmt.Errorf("%w: ensemble has no members", ErrMissingData)
	}
	first := e.Members[0]
	for i, m := range e.Members {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
		if !first.SameGrid(m) {
			return fmt.Errorf("%w: member %d is %dx%dx%d, member 0 is %dx%dx%d", ErrInputShape,
				i, m.NT(), m.NY(), m.NX(), first.NT(), first.NY(), first.NX())
		}
	}
	return nil
}

// Select applies Field.Select to every member.
func (e *Ensemble) Select(r Region) (*Ensemble, error) {
	out := &Ensemble{Members: make([]*Field, len(e.Members))}
	for i, m := range e.Members {
		sel, err := m.Select(r)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		out.Members[i] = sel
	}
	return out, nil
}
