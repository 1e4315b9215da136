package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeAxis_Decode(t *testing.T) {
	tests := []struct {
		name  string
		units string
		value float64
		want  time.Time
	}{
		{"NOAA days", "days since 1800-1-1 00:00:00", 66109, time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"hours with fractional seconds", "hours since 1900-01-01 00:00:0.0", 744, time.Date(1900, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"ISO reference", "seconds since 1970-01-01T00:00:00Z", 86400, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"date only", "days since 2000-01-01", 0.5, time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"months", "months since 2000-01-01", 14, time.Date(2001, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"CDO absolute", "day as %Y%m%d.%f", 19810115.5, time.Date(1981, 1, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			axis, err := ParseTimeUnits(tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.want, axis.Decode(tt.value))
		})
	}
}

func TestTimeAxis_EncodeRoundTrip(t *testing.T) {
	for _, units := range []string{DefaultTimeUnits, "hours since 1950-01-01", cdoDayFormat} {
		axis, err := ParseTimeUnits(units)
		require.NoError(t, err)
		want := time.Date(2016, 12, 1, 6, 0, 0, 0, time.UTC)
		v, err := axis.Encode(want)
		require.NoError(t, err)
		assert.Equal(t, want, axis.Decode(v), units)
	}
}

func TestParseTimeUnits_Invalid(t *testing.T) {
	for _, units := range []string{"", "days", "fortnights since 2000-01-01", "days since 2000/01/01"} {
		_, err := ParseTimeUnits(units)
		assert.Error(t, err, units)
	}

	axis, err := ParseTimeUnits("months since 2000-01-01")
	require.NoError(t, err)
	_, err = axis.Encode(time.Now())
	assert.Error(t, err)
}
