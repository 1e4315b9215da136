package usecase

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/observability"
)

// GridLoader reads gridded fields.
type GridLoader interface {
	LoadField(req domain.LoadRequest) (*domain.Field, error)
	LoadEnsemble(req domain.LoadRequest) (*domain.Ensemble, error)
}

// PatternLoader reads a precomputed spatial pattern.
type PatternLoader interface {
	LoadPattern(path, varName string, mode int) (*domain.Pattern, error)
}

// IndexWriter persists a computed index series.
type IndexWriter interface {
	WriteIndex(ctx context.Context, s *domain.IndexSeries) error
}

// DecompositionWriter persists the modes of a decomposition.
type DecompositionWriter interface {
	WriteDecomposition(path string, d *domain.Decomposition) error
}

// Sink is a named IndexWriter; the name labels logs and metrics.
type Sink struct {
	Name   string
	Writer IndexWriter
}

// runner times stages and reports cell statistics for one pipeline.
type runner struct {
	pipeline string
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	workers  int
}

// stage runs fn and records its duration.
func (r *runner) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := r.clock.Now()
	err := fn()
	elapsed := r.clock.Since(start)
	r.metrics.StageDuration.WithLabelValues(r.pipeline, name).Observe(elapsed.Seconds())
	if err != nil {
		r.logger.WithFields(logrus.Fields{"stage": name, "error": err}).Error("stage failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.WithFields(logrus.Fields{"stage": name, "duration": elapsed}).Debug("stage done")
	return nil
}

// cells records the outcome counts of a per-cell stage.
func (r *runner) cells(stage string, s domain.CellStats) {
	r.metrics.Cells.WithLabelValues(stage, "processed").Add(float64(s.Processed))
	r.metrics.Cells.WithLabelValues(stage, "masked").Add(float64(s.Masked))
	r.metrics.Cells.WithLabelValues(stage, "degenerate").Add(float64(s.Degenerate))
	entry := r.logger.WithFields(logrus.Fields{
		"stage":      stage,
		"processed":  s.Processed,
		"masked":     s.Masked,
		"degenerate": s.Degenerate,
	})
	if s.Degenerate > 0 {
		entry.Warn("degenerate cells passed through unchanged")
		return
	}
	entry.Debug("cells")
}

// export writes s to every sink.
func (r *runner) export(ctx context.Context, s *domain.IndexSeries, sinks []Sink) error {
	for _, sink := range sinks {
		if err := sink.Writer.WriteIndex(ctx, s); err != nil {
			return fmt.Errorf("export to %s: %w", sink.Name, err)
		}
		r.metrics.RowsExported.WithLabelValues(r.pipeline, sink.Name).Add(float64(s.Len()))
		r.logger.WithFields(logrus.Fields{"sink": sink.Name, "rows": s.Len()}).Info("index exported")
	}
	return nil
}

// finish counts the run by status.
func (r *runner) finish(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.Runs.WithLabelValues(r.pipeline, status).Inc()
}
