// Package sqlite persists computed AMM index runs in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.

	"go.ngs.io/amm-index/internal/domain"
)

// ErrRunNotFound is returned when no run has the requested ID. It matches
// domain.ErrMissingData.
var ErrRunNotFound = fmt.Errorf("run not found: %w", domain.ErrMissingData)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT    NOT NULL,
	label      TEXT    NOT NULL,
	members    INTEGER NOT NULL,
	steps      INTEGER NOT NULL,
	created_at TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS amm_values (
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step   INTEGER NOT NULL,
	time   TEXT    NOT NULL,
	member INTEGER NOT NULL,
	amm    REAL,
	PRIMARY KEY (run_id, step, member)
);
`

// Store is a SQLite-backed run store.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize database %s: %w", path, err)
		}
	}
	return &Store{db: db, clock: clock}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSeries stores series as a new run and returns its metadata.
func (s *Store) SaveSeries(ctx context.Context, label string, series *domain.IndexSeries) (domain.RunInfo, error) {
	run := domain.RunInfo{
		Kind:      domain.KindObservational,
		Label:     label,
		Members:   series.Members,
		Steps:     len(series.Times),
		CreatedAt: s.clock.Now().UTC(),
	}
	if series.IsEnsemble() {
		run.Kind = domain.KindEnsemble
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RunInfo{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (kind, label, members, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.Kind, run.Label, run.Members, run.Steps, run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.RunInfo{}, fmt.Errorf("failed to insert run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return domain.RunInfo{}, fmt.Errorf("failed to get last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO amm_values (run_id, step, time, member, amm) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.RunInfo{}, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	members := max(series.Members, 1)
	for i, row := range series.Rows() {
		amm := sql.NullFloat64{Float64: row.AMM, Valid: !math.IsNaN(row.AMM)}
		if _, err := stmt.ExecContext(ctx, run.ID, i/members, row.Time.UTC().Format(time.RFC3339), row.Member, amm); err != nil {
			return domain.RunInfo{}, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.RunInfo{}, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]domain.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, label, members, steps, created_at FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]domain.RunInfo, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the metadata of run id.
func (s *Store) GetRun(ctx context.Context, id int64) (domain.RunInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, label, members, steps, created_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunInfo{}, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

// QueryRows returns the rows of run id matching f, time-major then
// member-minor.
func (s *Store) QueryRows(ctx context.Context, id int64, f domain.RowFilter) ([]domain.IndexRow, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT time, member, amm FROM amm_values WHERE run_id = ?`
	args := []any{id}
	if f.Member != nil {
		query += ` AND member = ?`
		args = append(args, *f.Member)
	}
	if !f.Start.IsZero() {
		query += ` AND time >= ?`
		args = append(args, f.Start.UTC().Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		query += ` AND time <= ?`
		args = append(args, f.End.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY step, member`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.IndexRow, 0)
	for rows.Next() {
		var ts string
		var row domain.IndexRow
		var amm sql.NullFloat64
		if err := rows.Scan(&ts, &row.Member, &amm); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if row.Time, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("invalid stored time %q: %w", ts, err)
		}
		row.AMM = math.NaN()
		if amm.Valid {
			row.AMM = amm.Float64
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query run %d: %w", id, err)
	}
	return out, nil
}

// LoadSeries rebuilds the stored series of run id.
func (s *Store) LoadSeries(ctx context.Context, id int64) (*domain.IndexSeries, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryRows(ctx, id, domain.RowFilter{})
	if err != nil {
		return nil, err
	}
	members := max(run.Members, 1)
	if len(rows) != run.Steps*members {
		return nil, fmt.Errorf("%w: run %d has %d rows, expected %d", domain.ErrInputShape, id, len(rows), run.Steps*members)
	}
	series := &domain.IndexSeries{
		Times:   make([]time.Time, run.Steps),
		Members: run.Members,
		Values:  make([]float64, len(rows)),
	}
	for i, row := range rows {
		series.Times[i/members] = row.Time
		series.Values[i] = row.AMM
	}
	return series, nil
}

// RunWriter stores each written series as a new run under a fixed label.
type RunWriter struct {
	store *Store
	label string
	last  domain.RunInfo
}

// RunWriter returns a writer that saves series under label.
func (s *Store) RunWriter(label string) *RunWriter {
	return &RunWriter{store: s, label: label}
}

// WriteIndex saves s as a new run.
func (w *RunWriter) WriteIndex(ctx context.Context, s *domain.IndexSeries) error {
	run, err := w.store.SaveSeries(ctx, w.label, s)
	if err != nil {
		return err
	}
	w.last = run
	return nil
}

// Last returns the most recently saved run; its ID is zero before the first
// successful write.
func (w *RunWriter) Last() domain.RunInfo { return w.last }

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (domain.RunInfo, error) {
	var run domain.RunInfo
	var created string
	if err := sc.Scan(&run.ID, &run.Kind, &run.Label, &run.Members, &run.Steps, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("failed to scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return run, fmt.Errorf("invalid stored created_at %q: %w", created, err)
	}
	run.CreatedAt = t
	return run, nil
}
