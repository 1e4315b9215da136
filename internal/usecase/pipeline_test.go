package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"go.ngs.io/amm-index/internal/config"
	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/observability"
)

var (
	testLat = []float64{-5, 0, 5, 10}
	// -120 falls in the cold tongue box, the rest in the analysis window.
	testLon = []float64{-120, -60, -30, 0}
)

func testField(nt int, fn func(t, y, x int) float64) *domain.Field {
	times := make([]time.Time, nt)
	for i := range times {
		times[i] = time.Date(1980, time.December, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
	}
	f := domain.NewField(times, append([]float64(nil), testLat...), append([]float64(nil), testLon...))
	for t := 0; t < nt; t++ {
		for y := range testLat {
			for x := range testLon {
				f.Set(t, y, x, fn(t, y, x))
			}
		}
	}
	return f
}

func coldTongue(t int) float64 { return math.Sin(0.9*float64(t)) + 0.4*math.Cos(0.31*float64(t)) }

// sstLike is a seasonal cycle plus trend, cold tongue imprint and local noise.
func sstLike(t, y, x int) float64 {
	return 25 + 2*math.Sin(2*math.Pi*float64(t-1)/12) + 0.01*float64(t) +
		coldTongue(t)*float64(1+x) + 0.3*math.Cos(1.7*float64(t)+float64(y)+float64(x))
}

func testConfig() *config.Config {
	return &config.Config{
		Obs: config.ObsConfig{
			SSTFile:   "sst.nc",
			SSTVar:    "sst",
			UWndFile:  "uwnd.nc",
			UWndVar:   "uwnd",
			VWndFile:  "vwnd.nc",
			VWndVar:   "vwnd",
			Start:     time.Date(1980, 12, 1, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2017, 1, 31, 0, 0, 0, 0, time.UTC),
			Season:    domain.Season{Period: 12, Offset: 1},
			Trim:      2,
			EOFOutput: "mca.nc",
		},
		Ens: config.EnsConfig{
			File:         "ens.nc",
			Var:          "tos",
			PatternFile:  "mca.nc",
			PatternVar:   "left_eofs",
			Season:       domain.Season{Period: 5, Offset: 0},
			Members:      3,
			KelvinOffset: 273.15,
		},
		Window: domain.Region{LonMin: -75, LonMax: 15, LatMin: -21, LatMax: 32},
		CTI:    domain.Region{LonMin: -180, LonMax: -90, LatMin: -6, LatMax: 6},
	}
}

// memberValues extracts member e from a time-major ensemble series.
func memberValues(s *domain.IndexSeries, e int) []float64 {
	out := make([]float64, len(s.Times))
	for t := range out {
		out[t] = s.Values[t*s.Members+e]
	}
	return out
}

// fakeLoader serves fields by variable name and records requests.
type fakeLoader struct {
	fields   map[string]*domain.Field
	ensemble *domain.Ensemble
	pattern  *domain.Pattern
	fail     map[string]error
	requests []domain.LoadRequest
}

func (l *fakeLoader) LoadField(req domain.LoadRequest) (*domain.Field, error) {
	l.requests = append(l.requests, req)
	if err := l.fail[req.Var]; err != nil {
		return nil, err
	}
	f, ok := l.fields[req.Var]
	if !ok {
		return nil, fmt.Errorf("%w: no variable %s", domain.ErrMissingData, req.Var)
	}
	return f.Clone(), nil
}

func (l *fakeLoader) LoadEnsemble(req domain.LoadRequest) (*domain.Ensemble, error) {
	l.requests = append(l.requests, req)
	if err := l.fail[req.Var]; err != nil {
		return nil, err
	}
	return l.ensemble, nil
}

func (l *fakeLoader) LoadPattern(_, varName string, _ int) (*domain.Pattern, error) {
	if err := l.fail[varName]; err != nil {
		return nil, err
	}
	return l.pattern, nil
}

// fakeSolver returns a fixed decomposition and records its inputs.
type fakeSolver struct {
	left, right *domain.Field
}

func (s *fakeSolver) Solve(left, right *domain.Field, _ bool) (*domain.Decomposition, error) {
	s.left, s.right = left, right
	pc := make([]float64, left.NT())
	for t := range pc {
		pc[t] = float64(t % 7)
	}
	return &domain.Decomposition{
		Times:          left.Time,
		SingularValues: []float64{3},
		LeftPCs:        [][]float64{pc},
		RightPCs:       [][]float64{pc},
	}, nil
}

type recordingSink struct {
	series []*domain.IndexSeries
	err    error
}

func (s *recordingSink) WriteIndex(_ context.Context, series *domain.IndexSeries) error {
	if s.err != nil {
		return s.err
	}
	s.series = append(s.series, series)
	return nil
}

type recordingEOFs struct {
	paths []string
}

func (w *recordingEOFs) WriteDecomposition(path string, _ *domain.Decomposition) error {
	w.paths = append(w.paths, path)
	return nil
}

type testDeps struct {
	logger  *logrus.Logger
	hook    *test.Hook
	metrics *observability.Metrics
	clock   *clockwork.FakeClock
}

func newTestDeps() testDeps {
	logger, hook := test.NewNullLogger()
	return testDeps{
		logger:  logger,
		hook:    hook,
		metrics: observability.NewMetricsForTesting(),
		clock:   clockwork.NewFakeClock(),
	}
}

func (d testDeps) warnings() []string {
	var out []string
	for _, e := range d.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}
