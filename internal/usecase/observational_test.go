package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/amm-index/internal/domain"
)

func obsLoader(nt int) *fakeLoader {
	return &fakeLoader{fields: map[string]*domain.Field{
		"sst": testField(nt, sstLike),
		"uwnd": testField(nt, func(t, y, x int) float64 {
			return 5 + math.Cos(2*math.Pi*float64(t)/12) - 0.5*coldTongue(t)*float64(y) + 0.2*math.Sin(float64(t*(x+1)))
		}),
		"vwnd": testField(nt, func(t, y, x int) float64 {
			return -1 + 0.3*coldTongue(t+1)*float64(x) + 0.1*math.Cos(float64(t+y))
		}),
	}}
}

func TestObservationalPipeline_Run(t *testing.T) {
	const nt = 36
	cfg := testConfig()
	loader := obsLoader(nt)
	solver := &fakeSolver{}
	eofs := &recordingEOFs{}
	sink := &recordingSink{}
	deps := newTestDeps()

	p := NewObservationalPipeline(cfg, loader, solver, eofs, []Sink{{Name: "csv", Writer: sink}},
		deps.logger, deps.metrics, deps.clock)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, loader.requests, 3)
	for _, req := range loader.requests {
		assert.Equal(t, cfg.Obs.Start, req.Start)
		assert.Equal(t, cfg.Obs.End, req.End)
	}

	// Window keeps three longitudes; winds are stacked on a doubled latitude axis.
	require.NotNil(t, solver.left)
	assert.Equal(t, nt-4, solver.left.NT())
	assert.Equal(t, 4, solver.left.NY())
	assert.Equal(t, 3, solver.left.NX())
	assert.Equal(t, 8, solver.right.NY())
	assert.Equal(t, 3, solver.right.NX())
	for _, v := range solver.left.Values {
		assert.False(t, math.IsNaN(v))
	}

	series := res.Series
	assert.False(t, series.IsEnsemble())
	require.Equal(t, nt-4, series.Len())
	assert.Equal(t, loader.fields["sst"].Time[2:nt-2], series.Times)
	mean, std := stat.PopMeanStdDev(series.Values, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)

	require.Len(t, sink.series, 1)
	assert.Same(t, series, sink.series[0])
	assert.Equal(t, []string{"mca.nc"}, eofs.paths)

	assert.InDelta(t, 1, testutil.ToFloat64(deps.metrics.Runs.WithLabelValues("observational", "ok")), 0)
	assert.InDelta(t, nt-4, testutil.ToFloat64(deps.metrics.RowsExported.WithLabelValues("observational", "csv")), 0)
	// Three fields of twelve window cells each.
	assert.InDelta(t, 36, testutil.ToFloat64(deps.metrics.Cells.WithLabelValues("detrend", "processed")), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(deps.metrics.Cells.WithLabelValues("cold_tongue", "processed")), 0)
}

func TestObservationalPipeline_MaskedCellsStayMasked(t *testing.T) {
	const nt = 30
	loader := obsLoader(nt)
	sst := loader.fields["sst"]
	for ti := 0; ti < nt; ti++ {
		sst.Set(ti, 3, 3, math.NaN())
	}
	solver := &fakeSolver{}
	deps := newTestDeps()

	p := NewObservationalPipeline(testConfig(), loader, solver, nil, nil, deps.logger, deps.metrics, deps.clock)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// lat 10 / lon 0 is the last cell of the window.
	for ti := 0; ti < solver.left.NT(); ti++ {
		assert.True(t, math.IsNaN(solver.left.At(ti, 3, 2)))
		assert.False(t, math.IsNaN(solver.left.At(ti, 0, 0)))
	}
	assert.InDelta(t, 1, testutil.ToFloat64(deps.metrics.Cells.WithLabelValues("cold_tongue", "masked")), 0)
	assert.InDelta(t, 11, testutil.ToFloat64(deps.metrics.Cells.WithLabelValues("cold_tongue", "processed")), 0)
}

func TestObservationalPipeline_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeLoader)
		trim    int
		wantErr error
	}{
		{
			name:    "missing wind",
			mutate:  func(l *fakeLoader) { l.fail = map[string]error{"vwnd": domain.ErrMissingData} },
			wantErr: domain.ErrMissingData,
		},
		{
			name: "misaligned time axes",
			mutate: func(l *fakeLoader) {
				l.fields["uwnd"] = testField(35, func(int, int, int) float64 { return 1 })
			},
			wantErr: domain.ErrInputShape,
		},
		{
			name:    "trim consumes the series",
			trim:    18,
			wantErr: domain.ErrInputShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			loader := obsLoader(36)
			if tt.mutate != nil {
				tt.mutate(loader)
			}
			if tt.trim > 0 {
				cfg.Obs.Trim = tt.trim
			}
			sink := &recordingSink{}
			deps := newTestDeps()

			p := NewObservationalPipeline(cfg, loader, &fakeSolver{}, nil, []Sink{{Name: "csv", Writer: sink}},
				deps.logger, deps.metrics, deps.clock)
			_, err := p.Run(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, sink.series)
			assert.InDelta(t, 1, testutil.ToFloat64(deps.metrics.Runs.WithLabelValues("observational", "error")), 0)
		})
	}
}

func TestObservationalPipeline_SinkError(t *testing.T) {
	deps := newTestDeps()
	failing := &recordingSink{err: errors.New("disk full")}

	p := NewObservationalPipeline(testConfig(), obsLoader(36), &fakeSolver{}, nil,
		[]Sink{{Name: "sqlite", Writer: failing}}, deps.logger, deps.metrics, deps.clock)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export to sqlite")
	assert.Contains(t, err.Error(), "disk full")
}

func TestObservationalPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deps := newTestDeps()

	p := NewObservationalPipeline(testConfig(), obsLoader(36), &fakeSolver{}, nil, nil,
		deps.logger, deps.metrics, deps.clock)
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestObservationalPipeline_WorkersDoNotChangeResult(t *testing.T) {
	const nt = 30
	run := func(workers int) []float64 {
		cfg := testConfig()
		cfg.Workers = workers
		solver := &fakeSolver{}
		deps := newTestDeps()
		p := NewObservationalPipeline(cfg, obsLoader(nt), solver, nil, nil,
			deps.logger, deps.metrics, deps.clock)
		_, err := p.Run(context.Background())
		require.NoError(t, err)
		return append(append([]float64(nil), solver.left.Values...), solver.right.Values...)
	}

	serial := run(1)
	assert.Equal(t, serial, run(0))
	assert.Equal(t, serial, run(3))
}
