package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitLine(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{1, 3, 5, 7, 9}

	line, err := FitLine(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 1, line.Alpha, 1e-12)
	assert.InDelta(t, 2, line.Beta, 1e-12)
	assert.InDelta(t, 21, line.Predict(10), 1e-12)

	_, err = FitLine([]float64{2, 2, 2}, []float64{1, 2, 3})
	require.ErrorIs(t, err, ErrNumericDegeneracy)

	_, err = FitLine([]float64{1, 2}, []float64{1})
	require.ErrorIs(t, err, ErrInputShape)
}

func TestDetrend_RemovesLinearTrend(t *testing.T) {
	f := makeField(30, 2, 3, func(tt, y, x int) float64 {
		return 0.5*float64(tt)*float64(x+1) - float64(y)
	})

	out, stats := Detrend(f, 0)

	assert.Equal(t, 6, stats.Processed)
	for _, v := range out.Values {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestDetrend_Idempotent(t *testing.T) {
	f := makeField(48, 2, 2, func(tt, y, x int) float64 {
		return math.Sin(float64(tt)/3+float64(x)) + 0.1*float64(tt*(y+1))
	})

	once, _ := Detrend(f, 0)
	twice, _ := Detrend(once, 0)

	for i := range once.Values {
		assert.InDelta(t, once.Values[i], twice.Values[i], 1e-9)
	}
	// Second pass finds no trend.
	line, err := FitLine(timeIndex(48), once.Column(1, 1, nil))
	require.NoError(t, err)
	assert.InDelta(t, 0, line.Beta, 1e-10)
}

func TestDetrend_MaskedColumnUnchanged(t *testing.T) {
	f := makeField(12, 2, 2, func(tt, y, x int) float64 {
		if y == 0 && x == 1 {
			if tt == 0 {
				return math.NaN()
			}
			return float64(tt) * 1.7
		}
		return float64(tt)
	})

	out, stats := Detrend(f, 0)

	assert.Equal(t, 1, stats.Masked)
	assert.Equal(t, 3, stats.Processed)
	in := f.Column(0, 1, nil)
	got := out.Column(0, 1, nil)
	for i := range in {
		assert.Equal(t, math.Float64bits(in[i]), math.Float64bits(got[i]), "step %d", i)
	}
}

func TestDetrend_InteriorNaNPropagates(t *testing.T) {
	f := makeField(10, 1, 1, func(tt, _, _ int) float64 {
		if tt == 4 {
			return math.NaN()
		}
		return float64(tt)
	})

	out, stats := Detrend(f, 0)

	assert.Equal(t, 1, stats.Processed)
	for _, v := range out.Values {
		assert.True(t, math.IsNaN(v))
	}
}

func TestDetrend_SerialAndParallelAgree(t *testing.T) {
	f := makeField(24, 7, 5, func(tt, y, x int) float64 {
		return math.Cos(float64(tt*(x+1))) + float64(y*tt)
	})

	serial, _ := Detrend(f, 1)
	parallel, _ := Detrend(f, 0)

	assert.Equal(t, serial.Values, parallel.Values)
}
