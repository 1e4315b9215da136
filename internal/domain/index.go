package domain

import (
	"fmt"
	"time"
)

// IndexSeries is a computed AMM index.
//
// Members is 0 for an observational series. For an ensemble series Values is
// time-major with the member index varying fastest.
type IndexSeries struct {
	Times   []time.Time
	Members int
	Values  []float64
}

// IndexRow is one exported row. Member is -1 for observational rows.
type IndexRow struct {
	Time   time.Time
	Member int
	AMM    float64
}

// NewObservationalSeries wraps a single index series.
func NewObservationalSeries(times []time.Time, values []float64) (*IndexSeries, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("%w: %d times for %d index values", ErrInputShape, len(times), len(values))
	}
	return &IndexSeries{
		Times:  append([]time.Time(nil), times...),
		Values: append([]float64(nil), values...),
	}, nil
}

// NewEnsembleSeries interleaves per-member series (byMember[e][t]) time-major.
func NewEnsembleSeries(times []time.Time, byMember [][]float64) (*IndexSeries, error) {
	ne := len(byMember)
	if ne == 0 {
		return nil, fmt.Errorf("%w: no ensemble members", ErrMissingData)
	}
	nt := len(times)
	values := make([]float64, nt*ne)
	for e, series := range byMember {
		if len(series) != nt {
			return nil, fmt.Errorf("%w: member %d has %d values, expected %d", ErrInputShape, e, len(series), nt)
		}
		for t, v := range series {
			values[t*ne+e] = v
		}
	}
	return &IndexSeries{
		Times:   append([]time.Time(nil), times...),
		Members: ne,
		Values:  values,
	}, nil
}

// IsEnsemble reports whether the series carries an ensemble dimension.
func (s *IndexSeries) IsEnsemble() bool { return s.Members > 0 }

// Len returns the number of rows.
func (s *IndexSeries) Len() int { return len(s.Values) }

// Rows expands the series into export rows, time-major then member-minor.
func (s *IndexSeries) Rows() []IndexRow {
	rows := make([]IndexRow, 0, len(s.Values))
	if !s.IsEnsemble() {
		for t, v := range s.Values {
			rows = append(rows, IndexRow{Time: s.Times[t], Member: -1, AMM: v})
		}
		return rows
	}
	for i, v := range s.Values {
		rows = append(rows, IndexRow{Time: s.Times[i/s.Members], Member: i % s.Members, AMM: v})
	}
	return rows
}

// RunInfo describes a stored index run.
type RunInfo struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	Members   int       `json:"members"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// Run kinds.
const (
	KindObservational = "observational"
	KindEnsemble      = "ensemble"
)

// RowFilter restricts stored index rows. A nil Member or zero time matches
// everything; Start and End are inclusive.
type RowFilter struct {
	Member *int
	Start  time.Time
	End    time.Time
}
