package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("stage", "detrend").Info("done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "detrend", entry["stage"])
	assert.Equal(t, "done", entry["msg"])
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", "text")
	require.Error(t, err)
	_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.Cells.WithLabelValues("detrend", "masked").Add(3)
	a.MemberMismatch.Set(-2)

	assert.InDelta(t, 3, testutil.ToFloat64(a.Cells.WithLabelValues("detrend", "masked")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.Cells.WithLabelValues("detrend", "masked")), 0)
	assert.InDelta(t, -2, testutil.ToFloat64(a.MemberMismatch), 0)
}
