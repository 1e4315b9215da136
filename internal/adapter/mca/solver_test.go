package mca

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/amm-index/internal/domain"
)

func field(nt, ny, nx int, fn func(t, y, x int) float64) *domain.Field {
	times := make([]time.Time, nt)
	for i := range times {
		times[i] = time.Date(2000, time.Month(1+i%12), 1, 0, 0, 0, 0, time.UTC).AddDate(i/12, 0, 0)
	}
	lat := make([]float64, ny)
	for i := range lat {
		lat[i] = float64(i) * 2
	}
	lon := make([]float64, nx)
	for i := range lon {
		lon[i] = float64(i) * 2
	}
	f := domain.NewField(times, lat, lon)
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				f.Set(t, y, x, fn(t, y, x))
			}
		}
	}
	return f
}

func TestSolve_RankOneCoupling(t *testing.T) {
	a := func(t int) float64 { return math.Sin(2*math.Pi*float64(t)/9) + 0.3*math.Cos(float64(t)*1.3) }
	left := field(40, 2, 3, func(t, y, x int) float64 { return a(t) * float64(1+y+x) })
	right := field(40, 2, 2, func(t, y, x int) float64 { return -2 * a(t) * float64(1+x) })

	d, err := NewSolver(0).Solve(left, right, false)
	require.NoError(t, err)

	require.Equal(t, 4, d.Modes())
	assert.Greater(t, d.SingularValues[0], 1e6*d.SingularValues[1])
	for k := 1; k < d.Modes(); k++ {
		assert.GreaterOrEqual(t, d.SingularValues[k-1], d.SingularValues[k])
	}

	// The leading left PC is a(t) up to scale and sign.
	series := make([]float64, 40)
	for i := range series {
		series[i] = a(i)
	}
	r := stat.Correlation(d.LeftPCs[0], series, nil)
	assert.InDelta(t, 1, math.Abs(r), 1e-9)

	// EOFs are unit vectors on the analysis grid.
	require.Len(t, d.LeftEOFs[0].Values, 6)
	assert.InDelta(t, 1, floats.Norm(d.LeftEOFs[0].Values, 2), 1e-9)
	assert.Len(t, d.LeftPCs[0], 40)
	assert.Len(t, d.RightPCs[0], 40)
}

func TestSolve_MaskedCellsComeBackNaN(t *testing.T) {
	left := field(12, 1, 3, func(t, _, x int) float64 {
		if x == 2 {
			return math.NaN()
		}
		return float64(t*(x+1)) + math.Sin(float64(t))
	})
	right := field(12, 1, 2, func(t, _, x int) float64 { return math.Cos(float64(t * (x + 2))) })

	d, err := NewSolver(1).Solve(left, right, false)
	require.NoError(t, err)

	require.Equal(t, 1, d.Modes())
	eof := d.LeftEOFs[0].Values
	assert.True(t, math.IsNaN(eof[2]))
	assert.False(t, math.IsNaN(eof[0]))
	assert.False(t, math.IsNaN(eof[1]))
}

func TestSolve_Errors(t *testing.T) {
	a := field(10, 1, 2, func(t, _, _ int) float64 { return float64(t) })
	b := field(9, 1, 2, func(t, _, _ int) float64 { return float64(t) })

	_, err := NewSolver(0).Solve(a, a, true)
	require.ErrorIs(t, err, ErrComplexUnsupported)

	_, err = NewSolver(0).Solve(a, b, false)
	require.ErrorIs(t, err, domain.ErrInputShape)

	masked := field(10, 1, 2, func(int, int, int) float64 { return math.NaN() })
	_, err = NewSolver(0).Solve(masked, a, false)
	require.ErrorIs(t, err, domain.ErrMissingData)
}

// TestCleanAndDecompose runs a 24-month 2x2 synthetic case through
// climatology removal, detrending and the decomposition.
func TestCleanAndDecompose(t *testing.T) {
	season := domain.Season{Period: 12, Offset: 0}
	cycle := func(t, y, x int) float64 { return 5 * math.Sin(2*math.Pi*float64(t%12)/12+float64(y+x)) }
	trend := func(t int) float64 { return 0.01 * float64(t) }
	signal := func(t int) float64 { return math.Sin(2*math.Pi*float64(t)/7) + 0.4*math.Cos(1.9*float64(t)) }

	clean := func(f *domain.Field) *domain.Field {
		ano, err := domain.RemoveSeasonalCycle(f, season)
		require.NoError(t, err)
		dtr, _ := domain.Detrend(ano, 0)
		return dtr
	}

	// Trend and seasonal cycle only: the cleaned field is near zero relative
	// to the raw amplitude. The per-phase means absorb part of the trend, so
	// the residual is bounded by the trend step, not exactly zero.
	base := field(24, 2, 2, func(t, y, x int) float64 { return 20 + cycle(t, y, x) + trend(t) })
	residual := clean(base)
	assert.Less(t, floats.Max(absAll(residual.Values)), 0.1)
	assert.Greater(t, stat.StdDev(base.Values, nil), 3.0)

	// Add a coupled signal to SST and wind.
	sst := field(24, 2, 2, func(t, y, x int) float64 {
		return 20 + cycle(t, y, x) + trend(t) + signal(t)*float64(1+y-x)
	})
	u := field(24, 2, 2, func(t, y, x int) float64 { return cycle(t, x, y) + 0.8*signal(t)*float64(x+1) })
	v := field(24, 2, 2, func(t, y, x int) float64 { return -cycle(t, y, y) - 0.5*signal(t)*float64(y+1) })

	wind, err := domain.StackWinds(clean(u), clean(v))
	require.NoError(t, err)

	d, err := NewSolver(0).Solve(clean(sst), wind, false)
	require.NoError(t, err)

	require.GreaterOrEqual(t, d.Modes(), 2)
	for k := 1; k < d.Modes(); k++ {
		assert.Greater(t, d.SingularValues[0], 2*d.SingularValues[k])
	}

	index, err := domain.LeadingIndex(d)
	require.NoError(t, err)
	mean, std := stat.PopMeanStdDev(index, nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)
}

func absAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = math.Abs(v)
	}
	return out
}
