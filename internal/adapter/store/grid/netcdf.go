// Package grid reads and writes gridded climate fields stored as NetCDF.
package grid

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/amm-index/internal/domain"
)

// FileConfig lists the coordinate variable names tried, in order, when a
// dimension has no coordinate variable of its own name.
type FileConfig struct {
	LatVarNames  []string
	LonVarNames  []string
	TimeVarNames []string
}

// DefaultConfig returns the coordinate names used by NOAA, ERA and CMIP files.
func DefaultConfig() FileConfig {
	return FileConfig{
		LatVarNames:  []string{"lat", "latitude", "y"},
		LonVarNames:  []string{"lon", "longitude", "x"},
		TimeVarNames: []string{"time", "t"},
	}
}

// Loader reads fields from NetCDF files.
type Loader struct {
	config FileConfig
}

// NewLoader creates a loader using cfg for coordinate lookup.
func NewLoader(cfg FileConfig) *Loader {
	return &Loader{config: cfg}
}

// LoadField reads a (time, lat, lon) variable. Longitudes come back in
// [-180, 180) and both spatial axes ascending.
func (l *Loader) LoadField(req domain.LoadRequest) (*domain.Field, error) {
	nc, err := netcdf.OpenFile(req.Path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open NetCDF file %s: %v", domain.ErrMissingData, req.Path, err)
	}
	defer func() { _ = nc.Close() }()

	v, axes, err := l.openVar(nc, req.Var, 3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	times, lat, lon, swapped, err := l.readAxes(nc, axes[0], axes[1], axes[2])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}

	from, to, err := timeWindow(times, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	n1, n2 := uint64(axes[1].len), uint64(axes[2].len)
	raw, err := readSlab(v, []uint64{uint64(from), 0, 0}, []uint64{uint64(to - from), n1, n2})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %s: %w", req.Path, req.Var, err)
	}
	unpack(v, raw, req.Offset)

	f := domain.NewField(times[from:to], lat, lon)
	fill(f, raw, 0, 1, swapped)
	f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	return f, nil
}

// LoadEnsemble reads a (time, member, lat, lon) variable and splits it into
// one field per member.
func (l *Loader) LoadEnsemble(req domain.LoadRequest) (*domain.Ensemble, error) {
	nc, err := netcdf.OpenFile(req.Path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open NetCDF file %s: %v", domain.ErrMissingData, req.Path, err)
	}
	defer func() { _ = nc.Close() }()

	v, axes, err := l.openVar(nc, req.Var, 4)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	times, lat, lon, swapped, err := l.readAxes(nc, axes[0], axes[2], axes[3])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}

	from, to, err := timeWindow(times, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	members := axes[1].len
	n2, n3 := uint64(axes[2].len), uint64(axes[3].len)
	raw, err := readSlab(v,
		[]uint64{uint64(from), 0, 0, 0},
		[]uint64{uint64(to - from), uint64(members), n2, n3})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %s: %w", req.Path, req.Var, err)
	}
	unpack(v, raw, req.Offset)

	e := &domain.Ensemble{Members: make([]*domain.Field, members)}
	for m := 0; m < members; m++ {
		f := domain.NewField(times[from:to], lat, lon)
		fill(f, raw, m, members, swapped)
		f.Normalize()
		e.Members[m] = f
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Path, err)
	}
	return e, nil
}

// LoadPattern reads a spatial pattern from a (lat, lon) variable, or mode
// `mode` of a (mode, lat, lon) variable.
func (l *Loader) LoadPattern(path, varName string, mode int) (*domain.Pattern, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open NetCDF file %s: %v", domain.ErrMissingData, path, err)
	}
	defer func() { _ = nc.Close() }()

	v, err := nc.Var(varName)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %s not found in %s", domain.ErrMissingData, varName, path)
	}
	axes, err := varAxes(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	start := []uint64{0, 0}
	switch len(axes) {
	case 2:
	case 3:
		if mode < 0 || mode >= axes[0].len {
			return nil, fmt.Errorf("%w: mode %d out of range, %s has %d modes", domain.ErrInputShape, mode, varName, axes[0].len)
		}
		start = []uint64{uint64(mode), 0, 0}
		axes = axes[1:]
	default:
		return nil, fmt.Errorf("%w: expected 2D or 3D pattern, %s is %dD", domain.ErrInputShape, varName, len(axes))
	}

	lat, lon, swapped, err := l.readSpatialAxes(nc, axes[0], axes[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	count := make([]uint64, len(start))
	for i := range count {
		count[i] = 1
	}
	count[len(count)-2] = uint64(axes[0].len)
	count[len(count)-1] = uint64(axes[1].len)
	raw, err := readSlab(v, start, count)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %s: %w", path, varName, err)
	}
	unpack(v, raw, 0)

	// A single-step field gives the pattern the same normalization as data.
	f := domain.NewField([]time.Time{{}}, lat, lon)
	fill(f, raw, 0, 1, swapped)
	f.Normalize()
	p := &domain.Pattern{Lat: f.Lat, Lon: f.Lon, Values: f.Values}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// axis is one dimension of a variable.
type axis struct {
	name string
	len  int
}

func varAxes(v netcdf.Var) ([]axis, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	axes := make([]axis, len(dims))
	for i, d := range dims {
		name, err := d.Name()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimension name: %w", err)
		}
		n, err := d.Len()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimension %s length: %w", name, err)
		}
		axes[i] = axis{name: name, len: int(n)}
	}
	return axes, nil
}

func (l *Loader) openVar(nc netcdf.Dataset, name string, rank int) (netcdf.Var, []axis, error) {
	v, err := nc.Var(name)
	if err != nil {
		return netcdf.Var{}, nil, fmt.Errorf("%w: variable %s not found", domain.ErrMissingData, name)
	}
	axes, err := varAxes(v)
	if err != nil {
		return netcdf.Var{}, nil, err
	}
	if len(axes) != rank {
		return netcdf.Var{}, nil, fmt.Errorf("%w: expected %dD variable, %s is %dD", domain.ErrInputShape, rank, name, len(axes))
	}
	return v, axes, nil
}

// readAxes decodes the time axis and the two spatial axes of a variable.
func (l *Loader) readAxes(nc netcdf.Dataset, t, a, b axis) ([]time.Time, []float64, []float64, bool, error) {
	tv, err := coordVar(nc, t, l.config.TimeVarNames)
	if err != nil {
		return nil, nil, nil, false, err
	}
	raw, err := readFloat64Var(tv)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("failed to read time: %w", err)
	}
	units, ok := attrString(tv, "units")
	if !ok {
		return nil, nil, nil, false, fmt.Errorf("%w: time variable has no units", domain.ErrMissingData)
	}
	ta, err := ParseTimeUnits(units)
	if err != nil {
		return nil, nil, nil, false, err
	}
	lat, lon, swapped, err := l.readSpatialAxes(nc, a, b)
	if err != nil {
		return nil, nil, nil, false, err
	}
	return ta.DecodeAll(raw), lat, lon, swapped, nil
}

// readSpatialAxes reads the coordinates of a (lat, lon) or (lon, lat) pair.
// swapped reports the latter order.
func (l *Loader) readSpatialAxes(nc netcdf.Dataset, a, b axis) ([]float64, []float64, bool, error) {
	swapped := isNamed(a.name, l.config.LonVarNames) && isNamed(b.name, l.config.LatVarNames)
	latAxis, lonAxis := a, b
	if swapped {
		latAxis, lonAxis = b, a
	}
	latVar, err := coordVar(nc, latAxis, l.config.LatVarNames)
	if err != nil {
		return nil, nil, false, err
	}
	lat, err := readFloat64Var(latVar)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read latitude: %w", err)
	}
	lonVar, err := coordVar(nc, lonAxis, l.config.LonVarNames)
	if err != nil {
		return nil, nil, false, err
	}
	lon, err := readFloat64Var(lonVar)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read longitude: %w", err)
	}
	if len(lat) != latAxis.len || len(lon) != lonAxis.len {
		return nil, nil, false, fmt.Errorf("%w: coordinates are %dx%d, data is %dx%d",
			domain.ErrInputShape, len(lat), len(lon), latAxis.len, lonAxis.len)
	}
	return lat, lon, swapped, nil
}

// coordVar finds the coordinate variable for ax: first the variable named
// after the dimension, then each fallback name of matching length.
func coordVar(nc netcdf.Dataset, ax axis, fallbacks []string) (netcdf.Var, error) {
	names := append([]string{ax.name}, fallbacks...)
	for _, name := range names {
		v, err := nc.Var(name)
		if err != nil {
			continue
		}
		dims, err := v.Dims()
		if err != nil || len(dims) != 1 {
			continue
		}
		if n, err := dims[0].Len(); err == nil && int(n) == ax.len {
			return v, nil
		}
	}
	return netcdf.Var{}, fmt.Errorf("%w: coordinate variable for dimension %s not found (tried: %v)",
		domain.ErrMissingData, ax.name, names)
}

func isNamed(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}

// timeWindow returns the [from, to) step range inside [start, end].
func timeWindow(times []time.Time, start, end time.Time) (int, int, error) {
	from, to := 0, len(times)
	if !start.IsZero() {
		for from < len(times) && times[from].Before(start) {
			from++
		}
	}
	if !end.IsZero() {
		for to > from && times[to-1].After(end) {
			to--
		}
	}
	if from >= to {
		return 0, 0, fmt.Errorf("%w: no time steps between %s and %s",
			domain.ErrMissingData, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return from, to, nil
}

// fill copies member m of a (time, members, a, b) buffer into f, transposing
// when the buffer is (lon, lat) ordered.
func fill(f *domain.Field, raw []float64, m, members int, swapped bool) {
	ny, nx := f.NY(), f.NX()
	n := ny * nx
	for t := 0; t < f.NT(); t++ {
		src := raw[(t*members+m)*n : (t*members+m+1)*n]
		dst := f.Slab(t)
		if !swapped {
			copy(dst, src)
			continue
		}
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				dst[y*nx+x] = src[x*ny+y]
			}
		}
	}
}

// unpack replaces fill values by NaN, applies scale_factor and add_offset,
// then adds offset.
func unpack(v netcdf.Var, raw []float64, offset float64) {
	var fills []float64
	for _, name := range []string{"_FillValue", "missing_value"} {
		if fv, ok := attrFloat(v, name); ok {
			fills = append(fills, fv)
		}
	}
	scale, ok := attrFloat(v, "scale_factor")
	if !ok {
		scale = 1
	}
	add, _ := attrFloat(v, "add_offset")

	for i, x := range raw {
		missing := math.IsNaN(x)
		for _, fv := range fills {
			if x == fv || (math.Abs(fv) >= 1e30 && math.Abs(x) >= math.Abs(fv)) {
				missing = true
			}
		}
		if missing {
			raw[i] = math.NaN()
			continue
		}
		raw[i] = x*scale + add + offset
	}
}

// attrFloat returns the first element of a numeric attribute.
func attrFloat(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	t, err := a.Type()
	if err != nil {
		return 0, false
	}
	switch t {
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err == nil {
			return buf[0], true
		}
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := a.ReadInt16s(buf); err == nil {
			return float64(buf[0]), true
		}
	default:
	}
	return 0, false
}

// attrString returns a text attribute.
func attrString(v netcdf.Var, name string) (string, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false
	}
	if t, err := a.Type(); err != nil || t != netcdf.CHAR {
		return "", false
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false
	}
	return strings.TrimRight(string(buf), "\x00"), true
}

// readFloat64Var reads a whole 1D variable as float64.
func readFloat64Var(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	n, err := dims[0].Len()
	if err != nil {
		return nil, err
	}
	return readSlab(v, []uint64{0}, []uint64{n})
}

// readSlab reads the hyperslab at start with shape count, converting the
// stored type to float64.
func readSlab(v netcdf.Var, start, count []uint64) ([]float64, error) {
	total := uint64(1)
	for _, c := range count {
		total *= c
	}
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, total)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, start, count); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}
