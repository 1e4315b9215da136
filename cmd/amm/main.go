// Package main provides the amm command, which computes the Atlantic
// Meridional Mode index from observed or ensemble grids.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.ngs.io/amm-index/internal/adapter/mca"
	"go.ngs.io/amm-index/internal/adapter/store/csv"
	"go.ngs.io/amm-index/internal/adapter/store/grid"
	"go.ngs.io/amm-index/internal/adapter/store/sqlite"
	"go.ngs.io/amm-index/internal/config"
	"go.ngs.io/amm-index/internal/observability"
	"go.ngs.io/amm-index/internal/usecase"
)

const version = "0.1.0"

// app carries what every subcommand needs once flags and config are parsed.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *logrus.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	store      *sqlite.Store
	newMetrics func() *observability.Metrics
}

func main() {
	a := &app{clock: clockwork.NewRealClock(), newMetrics: observability.NewMetrics}
	if err := a.execute(os.Args[1:]); err != nil {
		// Execute has already printed the error.
		os.Exit(1)
	}
}

// execute runs the command line in args and closes the store afterwards,
// including when the command failed.
func (a *app) execute(args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.WithError(cerr).Error("failed to close store")
			if err == nil {
				err = cerr
			}
		}
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "amm",
		Short:        "Compute the Atlantic Meridional Mode index",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("sqlite", "", "also store the index in this SQLite database")
	flags.Int("workers", 0, "parallel latitude rows per stage (0 = GOMAXPROCS)")

	root.AddCommand(a.obsCmd(), a.ensCmd(), a.importCmd(), a.exportCmd())
	return root
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"sqlite":     "sqlite.path",
	"workers":    "workers",
	"modes":      "mca.modes",
	"eof-output": "obs.eof_output",
	"pattern":    "ens.pattern_file",
	"members":    "ens.members",
}

func (a *app) setup(flags *pflag.FlagSet) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger, err = observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.metrics = a.newMetrics()

	if cfg.SQLitePath != "" {
		if a.store, err = sqlite.Open(cfg.SQLitePath, a.clock); err != nil {
			return err
		}
	}
	return nil
}

// sinks returns the CSV sink for output plus the SQLite sink when configured.
// The returned RunWriter is nil without a store.
func (a *app) sinks(output, label string) ([]usecase.Sink, *sqlite.RunWriter) {
	sinks := []usecase.Sink{{Name: "csv", Writer: csv.NewIndexFile(output)}}
	if a.store == nil {
		return sinks, nil
	}
	w := a.store.RunWriter(label)
	return append(sinks, usecase.Sink{Name: "sqlite", Writer: w}), w
}

// logStored reports the run saved by w, if any.
func (a *app) logStored(w *sqlite.RunWriter) {
	if w == nil {
		return
	}
	run := w.Last()
	a.logger.WithFields(logrus.Fields{"run": run.ID, "label": run.Label}).Info("run stored")
}

// requireStore fails when no SQLite database is configured.
func (a *app) requireStore() error {
	if a.store == nil {
		return errors.New("a SQLite database is required (--sqlite or AMM_SQLITE_PATH)")
	}
	return nil
}

func (a *app) obsCmd() *cobra.Command {
	var output, label string
	cmd := &cobra.Command{
		Use:   "obs",
		Short: "Compute the observational index by maximum covariance analysis of SST and winds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			if cmd.Flags().Changed("output") {
				cfg.Obs.Output = output
			}
			if cmd.Flags().Changed("label") {
				cfg.Obs.Label = label
			}

			a.logger.WithFields(logrus.Fields{
				"sst":    cfg.Obs.SSTFile,
				"uwnd":   cfg.Obs.UWndFile,
				"vwnd":   cfg.Obs.VWndFile,
				"start":  cfg.Obs.Start.Format(time.DateOnly),
				"end":    cfg.Obs.End.Format(time.DateOnly),
				"output": cfg.Obs.Output,
			}).Info("starting observational run")

			sinks, stored := a.sinks(cfg.Obs.Output, cfg.Obs.Label)
			p := usecase.NewObservationalPipeline(cfg,
				grid.NewLoader(grid.DefaultConfig()),
				mca.NewSolver(cfg.MCAModes),
				grid.Writer{},
				sinks,
				a.logger, a.metrics, a.clock)
			res, err := p.Run(ctx)
			if err != nil {
				return fmt.Errorf("observational run failed: %w", err)
			}
			a.logger.WithFields(logrus.Fields{
				"rows":  res.Series.Len(),
				"modes": res.Decomposition.Modes(),
			}).Info("observational run complete")
			a.logStored(stored)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV output path (- for stdout)")
	cmd.Flags().StringVar(&label, "label", "", "run label in the SQLite store")
	cmd.Flags().Int("modes", 0, "number of MCA modes to keep (0 = all)")
	cmd.Flags().String("eof-output", "", "NetCDF path for the singular values and EOFs (empty disables)")
	return cmd
}

func (a *app) ensCmd() *cobra.Command {
	var output, label string
	cmd := &cobra.Command{
		Use:   "ens",
		Short: "Compute per-member indices by projecting ensemble SST onto the observed pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			if cmd.Flags().Changed("output") {
				cfg.Ens.Output = output
			}
			if cmd.Flags().Changed("label") {
				cfg.Ens.Label = label
			}

			a.logger.WithFields(logrus.Fields{
				"file":    cfg.Ens.File,
				"pattern": cfg.Ens.PatternFile,
				"output":  cfg.Ens.Output,
			}).Info("starting ensemble run")

			loader := grid.NewLoader(grid.DefaultConfig())
			sinks, stored := a.sinks(cfg.Ens.Output, cfg.Ens.Label)
			p := usecase.NewEnsemblePipeline(cfg, loader, loader, sinks,
				a.logger, a.metrics, a.clock)
			series, err := p.Run(ctx)
			if err != nil {
				return fmt.Errorf("ensemble run failed: %w", err)
			}
			a.logger.WithFields(logrus.Fields{
				"rows":    series.Len(),
				"members": series.Members,
			}).Info("ensemble run complete")
			a.logStored(stored)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV output path (- for stdout)")
	cmd.Flags().StringVar(&label, "label", "", "run label in the SQLite store")
	cmd.Flags().String("pattern", "", "NetCDF file holding the projection pattern")
	cmd.Flags().Int("members", 0, "expected number of ensemble members")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Store an index CSV written by obs or ens in the SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireStore(); err != nil {
				return err
			}
			series, err := csv.NewIndexFile(args[0]).ReadIndex()
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			if label == "" {
				label = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			w := a.store.RunWriter(label)
			if err := w.WriteIndex(cmd.Context(), series); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			a.logger.WithFields(logrus.Fields{
				"path": args[0],
				"rows": series.Len(),
			}).Info("index imported")
			a.logStored(w)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "run label (default: file name without extension)")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write a stored run back out as an index CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireStore(); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			series, err := a.store.LoadSeries(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if err := csv.NewIndexFile(output).WriteIndex(cmd.Context(), series); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			a.logger.WithFields(logrus.Fields{
				"run":    id,
				"rows":   series.Len(),
				"output": output,
			}).Info("run exported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "CSV output path (- for stdout)")
	return cmd
}
