package grid

import (
	"fmt"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/amm-index/internal/domain"
)

// writer defines dimensions and variables, then writes their data after
// EndDef. The first error sticks.
type writer struct {
	nc      netcdf.Dataset
	err     error
	pending []func() error
}

func create(path string) (*writer, error) {
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return nil, fmt.Errorf("failed to create NetCDF file %s: %w", path, err)
	}
	return &writer{nc: nc}, nil
}

func (w *writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf(format, args...)
	}
}

// dim adds a dimension without a coordinate variable.
func (w *writer) dim(name string, n int) netcdf.Dim {
	if w.err != nil {
		return netcdf.Dim{}
	}
	d, err := w.nc.AddDim(name, uint64(n))
	if err != nil {
		w.fail("failed to add dimension %s: %w", name, err)
	}
	return d
}

// coord adds a dimension with a coordinate variable holding values.
func (w *writer) coord(name, units string, values []float64) netcdf.Dim {
	d := w.dim(name, len(values))
	w.variable(name, units, values, d)
	return d
}

// timeCoord adds a time dimension encoded in DefaultTimeUnits.
func (w *writer) timeCoord(name string, times []time.Time) netcdf.Dim {
	axis, err := ParseTimeUnits(DefaultTimeUnits)
	if err != nil {
		w.fail("time units: %w", err)
		return netcdf.Dim{}
	}
	values := make([]float64, len(times))
	for i, t := range times {
		if values[i], err = axis.Encode(t); err != nil {
			w.fail("encode time: %w", err)
			return netcdf.Dim{}
		}
	}
	d := w.dim(name, len(times))
	w.variable(name, DefaultTimeUnits, values, d)
	return d
}

// variable adds a DOUBLE variable whose values are written after EndDef.
func (w *writer) variable(name, units string, values []float64, dims ...netcdf.Dim) {
	if w.err != nil {
		return
	}
	v, err := w.nc.AddVar(name, netcdf.DOUBLE, dims)
	if err != nil {
		w.fail("failed to add variable %s: %w", name, err)
		return
	}
	if units != "" {
		if err := v.Attr("units").WriteBytes([]byte(units)); err != nil {
			w.fail("failed to write %s units: %w", name, err)
			return
		}
	}
	w.pending = append(w.pending, func() error {
		if err := v.WriteFloat64s(values); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	})
}

// close ends define mode, writes all data and closes the file.
func (w *writer) close() error {
	defer func() { _ = w.nc.Close() }()
	if w.err != nil {
		return w.err
	}
	if err := w.nc.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}
	for _, write := range w.pending {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

// WriteField writes f as a (time, lat, lon) variable.
func WriteField(path, varName, units string, f *domain.Field) error {
	w, err := create(path)
	if err != nil {
		return err
	}
	t := w.timeCoord("time", f.Time)
	lat := w.coord("lat", "degrees_north", f.Lat)
	lon := w.coord("lon", "degrees_east", f.Lon)
	w.variable(varName, units, f.Values, t, lat, lon)
	return w.close()
}

// WriteEnsemble writes e as a (time, ens, lat, lon) variable.
func WriteEnsemble(path, varName, units string, e *domain.Ensemble) error {
	if err := e.Validate(); err != nil {
		return err
	}
	first := e.Members[0]
	n := first.Cells()
	members := len(e.Members)
	values := make([]float64, first.NT()*members*n)
	for t := 0; t < first.NT(); t++ {
		for m, f := range e.Members {
			copy(values[(t*members+m)*n:], f.Slab(t))
		}
	}
	ens := make([]float64, members)
	for m := range ens {
		ens[m] = float64(m)
	}

	w, err := create(path)
	if err != nil {
		return err
	}
	t := w.timeCoord("time", first.Time)
	ensDim := w.coord("ens", "", ens)
	lat := w.coord("lat", "degrees_north", first.Lat)
	lon := w.coord("lon", "degrees_east", first.Lon)
	w.variable(varName, units, values, t, ensDim, lat, lon)
	return w.close()
}

// WriteDecomposition writes singular values, EOFs and PCs of d. Left EOFs
// are on (lat, lon), right EOFs on (wind_lat, wind_lon), PCs on (mode, time).
func WriteDecomposition(path string, d *domain.Decomposition) error {
	modes := d.Modes()
	if modes == 0 {
		return fmt.Errorf("%w: decomposition has no modes", domain.ErrMissingData)
	}
	left, right := d.LeftEOFs[0], d.RightEOFs[0]

	w, err := create(path)
	if err != nil {
		return err
	}
	mode := w.dim("mode", modes)
	t := w.timeCoord("time", d.Times)
	lat := w.coord("lat", "degrees_north", left.Lat)
	lon := w.coord("lon", "degrees_east", left.Lon)
	wlat := w.coord("wind_lat", "degrees_north", right.Lat)
	wlon := w.coord("wind_lon", "degrees_east", right.Lon)

	w.variable("singular_values", "", d.SingularValues, mode)
	w.variable("left_eofs", "", stackPatterns(d.LeftEOFs), mode, lat, lon)
	w.variable("right_eofs", "", stackPatterns(d.RightEOFs), mode, wlat, wlon)
	w.variable("left_pcs", "", stackRows(d.LeftPCs), mode, t)
	w.variable("right_pcs", "", stackRows(d.RightPCs), mode, t)
	return w.close()
}

func stackPatterns(ps []*domain.Pattern) []float64 {
	var out []float64
	for _, p := range ps {
		out = append(out, p.Values...)
	}
	return out
}

func stackRows(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// Writer exposes WriteDecomposition as a method for callers that take an
// interface.
type Writer struct{}

// WriteDecomposition calls the package-level WriteDecomposition.
func (Writer) WriteDecomposition(path string, d *domain.Decomposition) error {
	return WriteDecomposition(path, d)
}
