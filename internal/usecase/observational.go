// Package usecase wires the AMM index pipelines from domain stages and adapters.
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"go.ngs.io/amm-index/internal/config"
	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/observability"
)

// ObservationalResult is the output of an observational run.
type ObservationalResult struct {
	Series        *domain.IndexSeries
	Decomposition *domain.Decomposition
}

// ObservationalPipeline computes the AMM index from observed SST and winds by
// maximum covariance analysis.
type ObservationalPipeline struct {
	cfg    *config.Config
	loader GridLoader
	solver domain.Decomposer
	eofs   DecompositionWriter
	sinks  []Sink
	runner runner
}

// NewObservationalPipeline creates the pipeline. eofs may be nil to skip
// writing the decomposition.
func NewObservationalPipeline(
	cfg *config.Config,
	loader GridLoader,
	solver domain.Decomposer,
	eofs DecompositionWriter,
	sinks []Sink,
	logger logrus.FieldLogger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
) *ObservationalPipeline {
	return &ObservationalPipeline{
		cfg:    cfg,
		loader: loader,
		solver: solver,
		eofs:   eofs,
		sinks:  sinks,
		runner: runner{
			pipeline: "observational",
			logger:   logger.WithField("pipeline", "observational"),
			metrics:  metrics,
			clock:    clock,
			workers:  cfg.Workers,
		},
	}
}

// obsFields holds the three observed grids at one stage of the pipeline.
type obsFields struct {
	sst, u, v *domain.Field
}

// Run executes the pipeline and exports the index.
func (p *ObservationalPipeline) Run(ctx context.Context) (res *ObservationalResult, err error) {
	defer func() { p.runner.finish(err) }()
	obs := p.cfg.Obs
	r := &p.runner

	var raw, win obsFields
	var cti *domain.Field
	err = r.stage(ctx, "load", func() error {
		var err error
		if raw.sst, err = p.load(obs.SSTFile, obs.SSTVar); err != nil {
			return err
		}
		if raw.u, err = p.load(obs.UWndFile, obs.UWndVar); err != nil {
			return err
		}
		raw.v, err = p.load(obs.VWndFile, obs.VWndVar)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, "select", func() error {
		var err error
		if win.sst, err = raw.sst.Select(p.cfg.Window); err != nil {
			return fmt.Errorf("sst window: %w", err)
		}
		if win.u, err = raw.u.Select(p.cfg.Window); err != nil {
			return fmt.Errorf("uwnd window: %w", err)
		}
		if win.v, err = raw.v.Select(p.cfg.Window); err != nil {
			return fmt.Errorf("vwnd window: %w", err)
		}
		if cti, err = raw.sst.Select(p.cfg.CTI); err != nil {
			return fmt.Errorf("cold tongue box: %w", err)
		}
		return sameTimes(win.sst, win.u, win.v)
	})
	if err != nil {
		return nil, err
	}
	nt := win.sst.NT()
	r.logger.WithFields(logrus.Fields{
		"steps": nt,
		"sst":   fmt.Sprintf("%dx%d", win.sst.NY(), win.sst.NX()),
		"wind":  fmt.Sprintf("%dx%d", win.u.NY(), win.u.NX()),
		"cti":   fmt.Sprintf("%dx%d", cti.NY(), cti.NX()),
		"start": win.sst.Time[0].Format(time.DateOnly),
		"end":   win.sst.Time[nt-1].Format(time.DateOnly),
	}).Info("grids loaded")
	if 2*obs.Trim >= nt {
		return nil, fmt.Errorf("%w: trimming %d steps at each end leaves nothing of %d", domain.ErrInputShape, obs.Trim, nt)
	}

	var ano obsFields
	var ctiAno *domain.Field
	err = r.stage(ctx, "anomaly", func() error {
		var err error
		if ano.sst, err = domain.RemoveSeasonalCycle(win.sst, obs.Season); err != nil {
			return fmt.Errorf("sst: %w", err)
		}
		if ano.u, err = domain.RemoveSeasonalCycle(win.u, obs.Season); err != nil {
			return fmt.Errorf("uwnd: %w", err)
		}
		if ano.v, err = domain.RemoveSeasonalCycle(win.v, obs.Season); err != nil {
			return fmt.Errorf("vwnd: %w", err)
		}
		if ctiAno, err = domain.RemoveSeasonalCycle(cti, obs.Season); err != nil {
			return fmt.Errorf("cold tongue box: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var dtr obsFields
	err = r.stage(ctx, "detrend", func() error {
		var stats, s domain.CellStats
		dtr.sst, s = domain.Detrend(ano.sst, r.workers)
		stats.Add(s)
		dtr.u, s = domain.Detrend(ano.u, r.workers)
		stats.Add(s)
		dtr.v, s = domain.Detrend(ano.v, r.workers)
		stats.Add(s)
		r.cells("detrend", stats)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var smooth obsFields
	err = r.stage(ctx, "smooth", func() error {
		smooth.sst = domain.Smooth(dtr.sst, r.workers)
		smooth.u = domain.Smooth(dtr.u, r.workers)
		smooth.v = domain.Smooth(dtr.v, r.workers)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var sst *domain.Field
	err = r.stage(ctx, "cold_tongue", func() error {
		ref := domain.RegionMean(ctiAno)
		var stats domain.CellStats
		var err error
		sst, stats, err = domain.RemoveSignal(smooth.sst, ref, domain.SignalOptions{Probe: 1, FitFrom: 1, FitTo: nt - 1}, r.workers)
		if err != nil {
			return err
		}
		r.cells("cold_tongue", stats)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var d *domain.Decomposition
	var left *domain.Field
	err = r.stage(ctx, "decompose", func() error {
		from, to := obs.Trim, nt-obs.Trim
		var err error
		if left, err = sst.TrimTime(from, to); err != nil {
			return err
		}
		u, err := smooth.u.TrimTime(from, to)
		if err != nil {
			return err
		}
		v, err := smooth.v.TrimTime(from, to)
		if err != nil {
			return err
		}
		wind, err := domain.StackWinds(u, v)
		if err != nil {
			return err
		}
		d, err = p.solver.Solve(left, wind, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"modes":   d.Modes(),
		"leading": d.SingularValues[0],
	}).Info("decomposition solved")

	var series *domain.IndexSeries
	err = r.stage(ctx, "index", func() error {
		index, err := domain.LeadingIndex(d)
		if err != nil {
			return err
		}
		series, err = domain.NewObservationalSeries(left.Time, index)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, "export", func() error {
		if p.eofs != nil && obs.EOFOutput != "" {
			if err := p.eofs.WriteDecomposition(obs.EOFOutput, d); err != nil {
				return fmt.Errorf("write decomposition: %w", err)
			}
			r.logger.WithField("path", obs.EOFOutput).Info("decomposition written")
		}
		return r.export(ctx, series, p.sinks)
	})
	if err != nil {
		return nil, err
	}

	return &ObservationalResult{Series: series, Decomposition: d}, nil
}

func (p *ObservationalPipeline) load(path, varName string) (*domain.Field, error) {
	f, err := p.loader.LoadField(domain.LoadRequest{
		Path:  path,
		Var:   varName,
		Start: p.cfg.Obs.Start,
		End:   p.cfg.Obs.End,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", varName, err)
	}
	return f, nil
}

// sameTimes checks that all fields share one time axis.
func sameTimes(fields ...*domain.Field) error {
	first := fields[0]
	for _, f := range fields[1:] {
		if f.NT() != first.NT() {
			return fmt.Errorf("%w: time axes have %d and %d steps", domain.ErrInputShape, first.NT(), f.NT())
		}
		for t := range f.Time {
			if !f.Time[t].Equal(first.Time[t]) {
				return fmt.Errorf("%w: time axes differ at step %d (%s vs %s)", domain.ErrInputShape, t,
					first.Time[t].Format(time.DateOnly), f.Time[t].Format(time.DateOnly))
			}
		}
	}
	return nil
}
