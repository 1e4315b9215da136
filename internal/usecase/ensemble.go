package usecase

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"go.ngs.io/amm-index/internal/config"
	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/observability"
)

// EnsemblePipeline computes per-member AMM indices by projecting cleaned SST
// anomalies onto a precomputed pattern.
type EnsemblePipeline struct {
	cfg      *config.Config
	loader   GridLoader
	patterns PatternLoader
	sinks    []Sink
	runner   runner
}

// NewEnsemblePipeline creates the pipeline.
func NewEnsemblePipeline(
	cfg *config.Config,
	loader GridLoader,
	patterns PatternLoader,
	sinks []Sink,
	logger logrus.FieldLogger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
) *EnsemblePipeline {
	return &EnsemblePipeline{
		cfg:      cfg,
		loader:   loader,
		patterns: patterns,
		sinks:    sinks,
		runner: runner{
			pipeline: "ensemble",
			logger:   logger.WithField("pipeline", "ensemble"),
			metrics:  metrics,
			clock:    clock,
			workers:  cfg.Workers,
		},
	}
}

// Run executes the pipeline and exports the index.
func (p *EnsemblePipeline) Run(ctx context.Context) (series *domain.IndexSeries, err error) {
	defer func() { p.runner.finish(err) }()
	ens := p.cfg.Ens
	r := &p.runner

	var members *domain.Ensemble
	var projector *domain.Projector
	err = r.stage(ctx, "load", func() error {
		var err error
		members, err = p.loader.LoadEnsemble(domain.LoadRequest{Path: ens.File, Var: ens.Var, Offset: -ens.KelvinOffset})
		if err != nil {
			return fmt.Errorf("load %s: %w", ens.Var, err)
		}
		if err := members.Validate(); err != nil {
			return err
		}
		pattern, err := p.patterns.LoadPattern(ens.PatternFile, ens.PatternVar, ens.PatternMode)
		if err != nil {
			return fmt.Errorf("load pattern %s: %w", ens.PatternVar, err)
		}
		projector, err = domain.NewProjector(pattern)
		return err
	})
	if err != nil {
		return nil, err
	}

	ne := len(members.Members)
	times := members.Members[0].Time
	p.checkMembers(ne)
	r.logger.WithFields(logrus.Fields{"members": ne, "steps": len(times)}).Info("ensemble loaded")

	byMember := make([][]float64, ne)
	for e, m := range members.Members {
		if byMember[e], err = p.member(ctx, e, m, projector); err != nil {
			return nil, fmt.Errorf("member %d: %w", e, err)
		}
	}

	err = r.stage(ctx, "export", func() error {
		var err error
		if series, err = domain.NewEnsembleSeries(times, byMember); err != nil {
			return err
		}
		return r.export(ctx, series, p.sinks)
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

// member cleans one member's SST and projects it onto the pattern.
func (p *EnsemblePipeline) member(ctx context.Context, e int, f *domain.Field, pr *domain.Projector) ([]float64, error) {
	ens := p.cfg.Ens
	r := &p.runner
	log := r.logger.WithField("member", e)

	var sst, cti *domain.Field
	err := r.stage(ctx, "anomaly", func() error {
		win, err := f.Select(p.cfg.Window)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		box, err := f.Select(p.cfg.CTI)
		if err != nil {
			return fmt.Errorf("cold tongue box: %w", err)
		}
		if sst, err = domain.RemoveSeasonalCycle(win, ens.Season); err != nil {
			return fmt.Errorf("sst: %w", err)
		}
		if cti, err = domain.RemoveSeasonalCycle(box, ens.Season); err != nil {
			return fmt.Errorf("cold tongue box: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, "detrend", func() error {
		var stats domain.CellStats
		sst, stats = domain.Detrend(sst, r.workers)
		r.cells("detrend", stats)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, "cold_tongue", func() error {
		var stats domain.CellStats
		var err error
		sst, stats, err = domain.RemoveSignal(sst, domain.RegionMean(cti), domain.SignalOptions{Probe: 1}, r.workers)
		if err != nil {
			return err
		}
		r.cells("cold_tongue", stats)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var index []float64
	err = r.stage(ctx, "project", func() error {
		var err error
		index, err = pr.Project(sst)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("member projected")
	return index, nil
}

// checkMembers compares the loaded member count with the configured one.
// The loaded count wins; a mismatch is only reported.
func (p *EnsemblePipeline) checkMembers(loaded int) {
	expected := p.cfg.Ens.Members
	if expected <= 0 {
		return
	}
	p.runner.metrics.MemberMismatch.Set(float64(loaded - expected))
	if loaded != expected {
		p.runner.logger.WithFields(logrus.Fields{
			"loaded":   loaded,
			"expected": expected,
		}).Warn("ensemble member count differs from configuration")
	}
}
