package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/amm-index/internal/domain"
)

var createdAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(createdAt)
	s, err := Open(filepath.Join(t.TempDir(), "amm.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func months(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(1981, time.February, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
	}
	return out
}

func TestSaveAndLoad_Observational(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	series, err := domain.NewObservationalSeries(months(4), []float64{0.5, math.NaN(), -1, 2})
	require.NoError(t, err)

	run, err := s.SaveSeries(ctx, "ersst", series)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.ID)
	assert.Equal(t, domain.KindObservational, run.Kind)
	assert.Equal(t, 4, run.Steps)
	assert.Equal(t, createdAt, run.CreatedAt)

	got, err := s.LoadSeries(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, series.Times, got.Times)
	assert.False(t, got.IsEnsemble())
	assert.Equal(t, 0.5, got.Values[0])
	assert.True(t, math.IsNaN(got.Values[1]))
	assert.Equal(t, 2.0, got.Values[3])
}

func TestSaveAndLoad_Ensemble(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	series, err := domain.NewEnsembleSeries(months(3), [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	run, err := s.SaveSeries(ctx, "mpi-ge", series)
	require.NoError(t, err)
	assert.Equal(t, domain.KindEnsemble, run.Kind)
	assert.Equal(t, 2, run.Members)

	got, err := s.LoadSeries(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, series, got)
}

func TestQueryRows_Filters(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	series, err := domain.NewEnsembleSeries(months(4), [][]float64{{1, 2, 3, 4}, {10, 20, 30, 40}, {100, 200, 300, 400}})
	require.NoError(t, err)
	run, err := s.SaveSeries(ctx, "mpi-ge", series)
	require.NoError(t, err)

	all, err := s.QueryRows(ctx, run.ID, domain.RowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 12)
	assert.Equal(t, 0, all[0].Member)
	assert.Equal(t, 1, all[1].Member)
	assert.Equal(t, 0, all[3].Member)

	member := 1
	rows, err := s.QueryRows(ctx, run.ID, domain.RowFilter{
		Member: &member,
		Start:  time.Date(1981, 3, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(1981, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 20.0, rows[0].AMM)
	assert.Equal(t, 30.0, rows[1].AMM)
	assert.Equal(t, time.Date(1981, 4, 1, 0, 0, 0, 0, time.UTC), rows[1].Time)

	_, err = s.QueryRows(ctx, 99, domain.RowFilter{})
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s, clock := openStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	series, err := domain.NewObservationalSeries(months(2), []float64{1, 2})
	require.NoError(t, err)
	w := s.RunWriter("first")
	require.NoError(t, w.WriteIndex(ctx, series))
	assert.Equal(t, "first", w.Last().Label)

	clock.Advance(time.Hour)
	_, err = s.SaveSeries(ctx, "second", series)
	require.NoError(t, err)

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].Label)
	assert.Equal(t, createdAt.Add(time.Hour), runs[0].CreatedAt)
	assert.Equal(t, "first", runs[1].Label)

	_, err = s.GetRun(ctx, 42)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunWriter_UsesCallContext(t *testing.T) {
	s, _ := openStore(t)
	series, err := domain.NewObservationalSeries(months(2), []float64{1, 2})
	require.NoError(t, err)
	w := s.RunWriter("obs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.WriteIndex(ctx, series), context.Canceled)
	assert.Zero(t, w.Last().ID)

	require.NoError(t, w.WriteIndex(context.Background(), series))
	assert.NotZero(t, w.Last().ID)
	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
