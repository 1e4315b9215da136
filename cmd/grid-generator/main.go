// Package main writes synthetic SST, wind and ensemble NetCDF grids shaped
// like the real inputs of the amm tool, for smoke runs without the
// multi-gigabyte reanalysis products.
package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/amm-index/internal/adapter/store/grid"
	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/observability"
)

// options are the generator settings.
type options struct {
	outDir     string
	start      string
	months     int
	resolution float64
	members    int
	ensYears   int
	seed       uint64
	logLevel   string
}

// modes are the time series driving one realization.
type modes struct {
	amm  []float64 // Atlantic dipole
	cti  []float64 // Pacific cold tongue
	rand *rand.Rand
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "grid-generator",
		Short:        "Write synthetic SST, wind and ensemble grids",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.outDir, "out", "./data/synthetic", "output directory")
	f.StringVar(&opts.start, "start", "1979-01-01", "first month of the observational grids")
	f.IntVar(&opts.months, "months", 460, "number of monthly steps in the observational grids")
	f.Float64Var(&opts.resolution, "resolution", 5, "grid resolution in degrees")
	f.IntVar(&opts.members, "members", 30, "ensemble members")
	f.IntVar(&opts.ensYears, "ens-years", 36, "ensemble years (five steps per year)")
	f.Uint64Var(&opts.seed, "seed", 1, "random seed")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	logger, err := observability.NewLogger(os.Stderr, opts.logLevel, "text")
	if err != nil {
		return err
	}
	start, err := time.Parse(time.DateOnly, opts.start)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", opts.start, err)
	}
	if opts.resolution <= 0 || opts.months < 24 || opts.members < 1 || opts.ensYears < 2 {
		return errors.New("resolution, months (>= 24), members and ens-years (>= 2) must be positive")
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Latitudes descend and longitudes run 0-360, as in the NCEP products.
	var lat, lon []float64
	for y := 40.0; y >= -30; y -= opts.resolution {
		lat = append(lat, y)
	}
	for x := 0.0; x < 360; x += opts.resolution {
		lon = append(lon, x)
	}
	logger.WithFields(logrus.Fields{
		"lat":    len(lat),
		"lon":    len(lon),
		"months": opts.months,
		"start":  start.Format(time.DateOnly),
	}).Info("generating observational grids")

	times := make([]time.Time, opts.months)
	for i := range times {
		times[i] = start.AddDate(0, i, 0)
	}
	m := newModes(opts.months, rand.New(rand.NewPCG(opts.seed, 0)))

	sst := domain.NewField(times, lat, lon)
	u := domain.NewField(times, lat, lon)
	v := domain.NewField(times, lat, lon)
	for t, ts := range times {
		for y, la := range lat {
			for x, lo := range lon {
				sst.Set(t, y, x, sstAt(m, t, ts.Month(), la, lo))
				uu, vv := windAt(m, t, ts.Month(), la, lo)
				u.Set(t, y, x, uu)
				v.Set(t, y, x, vv)
			}
		}
	}

	outputs := []struct {
		name, varName, units string
		f                    *domain.Field
	}{
		{"sst.nc", "sst", "degC", sst},
		{"uwnd.nc", "uwnd", "m/s", u},
		{"vwnd.nc", "vwnd", "m/s", v},
	}
	for _, o := range outputs {
		path := filepath.Join(opts.outDir, o.name)
		if err := grid.WriteField(path, o.varName, o.units, o.f); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.WithField("path", path).Info("grid written")
	}

	ens, err := ensemble(opts, lat, lon)
	if err != nil {
		return err
	}
	path := filepath.Join(opts.outDir, "ens.nc")
	if err := grid.WriteEnsemble(path, "sst", "K", ens); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.WithFields(logrus.Fields{"path": path, "members": opts.members}).Info("ensemble written")
	return nil
}

// ensemble builds members in Kelvin with five steps (January to May) per year
// on an ascending latitude axis.
func ensemble(opts options, lat, lon []float64) (*domain.Ensemble, error) {
	lat = slices.Clone(lat)
	slices.Reverse(lat)
	var times []time.Time
	for yr := 0; yr < opts.ensYears; yr++ {
		for mo := time.January; mo <= time.May; mo++ {
			times = append(times, time.Date(1981+yr, mo, 1, 0, 0, 0, 0, time.UTC))
		}
	}
	e := &domain.Ensemble{}
	for k := 0; k < opts.members; k++ {
		m := newModes(len(times), rand.New(rand.NewPCG(opts.seed, uint64(k+1))))
		f := domain.NewField(times, lat, lon)
		for t, ts := range times {
			for y, la := range lat {
				for x, lo := range lon {
					f.Set(t, y, x, sstAt(m, t, ts.Month(), la, lo)+273.15)
				}
			}
		}
		e.Members = append(e.Members, f)
	}
	return e, e.Validate()
}

// newModes draws two red-noise series of length n.
func newModes(n int, r *rand.Rand) *modes {
	m := &modes{amm: make([]float64, n), cti: make([]float64, n), rand: r}
	for t := 1; t < n; t++ {
		m.amm[t] = 0.8*m.amm[t-1] + 0.6*r.NormFloat64()
		m.cti[t] = 0.9*m.cti[t-1] + 0.45*r.NormFloat64()
	}
	return m
}

// land masks a block over the Sahara and one over the Amazon basin.
func land(lat, lon float64) bool {
	lon = domain.NormalizeLon(lon)
	return (lat >= 15 && lat <= 30 && lon >= -10 && lon <= 10) ||
		(lat >= -10 && lat <= 0 && lon >= -70 && lon <= -55)
}

func bump(x, center, width float64) float64 {
	d := (x - center) / width
	return math.Exp(-d * d)
}

func sstAt(m *modes, t int, month time.Month, lat, lon float64) float64 {
	if land(lat, lon) {
		return math.NaN()
	}
	lon = domain.NormalizeLon(lon)
	season := 2 * math.Cos(2*math.Pi*float64(month-3)/12) * math.Tanh(lat/10)
	trend := 0.012 * float64(t) / 12

	atlantic := bump(lon, -30, 30)
	dipole := (bump(lat, 15, 8) - bump(lat, -10, 8)) * atlantic
	coldTongue := bump(lat, 0, 4) * bump(lon, -135, 30)
	teleconnection := 0.25 * bump(lat, 10, 10) * atlantic

	noise := 0.15 * m.rand.NormFloat64()
	return 28 - 0.15*math.Abs(lat) + season + trend +
		m.amm[t]*dipole + m.cti[t]*(coldTongue+teleconnection) + noise
}

// windAt returns u and v: trades with a cross-equatorial anomaly that follows
// the dipole.
func windAt(m *modes, t int, month time.Month, lat, lon float64) (float64, float64) {
	lon = domain.NormalizeLon(lon)
	atlantic := bump(lon, -30, 30)
	season := math.Sin(2 * math.Pi * float64(month-1) / 12)

	u := -6*math.Cos(lat*math.Pi/90) + season -
		1.5*m.amm[t]*(bump(lat, 10, 8)-bump(lat, -5, 8))*atlantic +
		0.5*m.rand.NormFloat64()
	v := 0.5*season + 2*m.amm[t]*bump(lat, 5, 10)*atlantic +
		0.3*m.cti[t] + 0.5*m.rand.NormFloat64()
	return u, v
}
