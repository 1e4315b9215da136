// Package csv writes and reads AMM index series as CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"go.ngs.io/amm-index/internal/domain"
)

var (
	observationalHeader = []string{"time", "amm"}
	ensembleHeader      = []string{"time", "ens", "amm"}
)

// IndexFile is an index series stored at a path. The path "-" means stdout
// for writing.
type IndexFile struct {
	path string
}

// NewIndexFile creates an IndexFile for path.
func NewIndexFile(path string) *IndexFile {
	return &IndexFile{path: path}
}

// WriteIndex writes s, replacing any existing file.
func (f *IndexFile) WriteIndex(ctx context.Context, s *domain.IndexSeries) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.path == "-" {
		return Encode(os.Stdout, s)
	}
	//nolint:gosec // G304: output path comes from configuration.
	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file %s: %w", f.path, err)
	}
	if err := Encode(file, s); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close CSV file %s: %w", f.path, err)
	}
	return nil
}

// ReadIndex reads the series stored at the file's path.
func (f *IndexFile) ReadIndex() (*domain.IndexSeries, error) {
	//nolint:gosec // G304: input path comes from configuration.
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open CSV file %s: %v", domain.ErrMissingData, f.path, err)
	}
	defer func() { _ = file.Close() }()
	return Decode(file)
}

// Encode writes s as "time,amm" rows, or "time,ens,amm" rows for an
// ensemble. Missing values are written as empty fields.
func Encode(w io.Writer, s *domain.IndexSeries) error {
	cw := csv.NewWriter(w)
	header := observationalHeader
	if s.IsEnsemble() {
		header = ensembleHeader
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range s.Rows() {
		record := []string{formatTime(row.Time)}
		if s.IsEnsemble() {
			record = append(record, strconv.Itoa(row.Member))
		}
		record = append(record, formatValue(row.AMM))
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// Decode parses a series written by Encode. Ensemble rows must be time-major
// with members 0..n-1 cycling fastest.
func Decode(r io.Reader) (*domain.IndexSeries, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	var ensemble bool
	switch {
	case equalHeader(header, observationalHeader):
	case equalHeader(header, ensembleHeader):
		ensemble = true
	default:
		return nil, fmt.Errorf("invalid CSV header: expected %v or %v, got %v", observationalHeader, ensembleHeader, header)
	}

	var times []time.Time
	var byMember [][]float64
	var values []float64
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, len(header), len(record))
		}
		t, err := parseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := parseValue(record[len(record)-1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if !ensemble {
			times = append(times, t)
			values = append(values, v)
			continue
		}
		member, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid ens %q: %w", line, record[1], err)
		}
		if member == 0 {
			times = append(times, t)
		}
		switch {
		case len(times) == 1 && member == len(byMember):
			byMember = append(byMember, []float64{v})
		case len(times) > 1 && member < len(byMember) && len(byMember[member]) == len(times)-1 && t.Equal(times[len(times)-1]):
			byMember[member] = append(byMember[member], v)
		default:
			return nil, fmt.Errorf("%w: line %d: ens %d at %s breaks time-major member order",
				domain.ErrInputShape, line, member, formatTime(t))
		}
	}

	if !ensemble {
		return domain.NewObservationalSeries(times, values)
	}
	return domain.NewEnsembleSeries(times, byMember)
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

// formatTime writes midnight times as dates.
func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amm %q: %w", s, err)
	}
	return v, nil
}
