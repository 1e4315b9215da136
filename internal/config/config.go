// Package config loads run settings through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go.ngs.io/amm-index/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. AMM_OBS_SST_FILE.
const EnvPrefix = "AMM"

// Config holds every setting of the observational and ensemble runs.
type Config struct {
	Obs      ObsConfig
	Ens      EnsConfig
	Window   domain.Region
	CTI      domain.Region
	MCAModes int
	Workers  int

	SQLitePath string
	LogLevel   string
	LogFormat  string

	ServerPort  string
	CORSOrigins []string
}

// ObsConfig configures the observational (MCA) run.
type ObsConfig struct {
	SSTFile  string
	SSTVar   string
	UWndFile string
	UWndVar  string
	VWndFile string
	VWndVar  string

	Start  time.Time
	End    time.Time
	Season domain.Season
	Trim   int

	Output    string
	EOFOutput string
	Label     string
}

// EnsConfig configures the ensemble (projection) run.
type EnsConfig struct {
	File         string
	Var          string
	PatternFile  string
	PatternVar   string
	PatternMode  int
	Season       domain.Season
	Members      int
	KelvinOffset float64

	Output string
	Label  string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("obs.sst_file", "data/sst/noaa-ersstv5_sst_1854-2021-mon_2p5.nc")
	v.SetDefault("obs.sst_var", "sst")
	v.SetDefault("obs.uwnd_file", "data/wind/ncep-ncar_uwind_1948-2021-mon_10m.nc")
	v.SetDefault("obs.uwnd_var", "uwnd")
	v.SetDefault("obs.vwnd_file", "data/wind/ncep-ncar_vwind_1948-2021-mon_10m.nc")
	v.SetDefault("obs.vwnd_var", "vwnd")
	v.SetDefault("obs.start", "1980-12-01")
	v.SetDefault("obs.end", "2017-01-31")
	v.SetDefault("obs.period", 12)
	v.SetDefault("obs.offset", 1)
	v.SetDefault("obs.trim", 2)
	v.SetDefault("obs.output", "data/index/amm-obs_1981-2016-mon.csv")
	v.SetDefault("obs.eof_output", "data/index/amm-obs_mca.nc")
	v.SetDefault("obs.label", "obs")

	v.SetDefault("ens.file", "data/sst/mpi-om-ens_sst_1981-2016-mon.nc")
	v.SetDefault("ens.var", "sst")
	v.SetDefault("ens.pattern_file", "data/index/amm-obs_mca.nc")
	v.SetDefault("ens.pattern_var", "left_eofs")
	v.SetDefault("ens.pattern_mode", 0)
	v.SetDefault("ens.period", 5)
	v.SetDefault("ens.offset", 0)
	v.SetDefault("ens.members", 30)
	v.SetDefault("ens.kelvin_offset", 273.15)
	v.SetDefault("ens.output", "data/index/amm-mem_1981-2016-mon.csv")
	v.SetDefault("ens.label", "ens")

	v.SetDefault("region.window.lon_min", -75.0)
	v.SetDefault("region.window.lon_max", 15.0)
	v.SetDefault("region.window.lat_min", -21.0)
	v.SetDefault("region.window.lat_max", 32.0)
	v.SetDefault("region.cti.lon_min", -180.0)
	v.SetDefault("region.cti.lon_max", -90.0)
	v.SetDefault("region.cti.lat_min", -6.0)
	v.SetDefault("region.cti.lat_max", 6.0)

	v.SetDefault("mca.modes", 0)
	v.SetDefault("workers", 0)
	v.SetDefault("sqlite.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origins", []string{})
}

// New returns a viper instance with defaults and AMM_* environment
// overrides. A non-empty file is read on top of the defaults.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	start, err := parseDate(v, "obs.start")
	if err != nil {
		return nil, err
	}
	end, err := parseDate(v, "obs.end")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Obs: ObsConfig{
			SSTFile:   v.GetString("obs.sst_file"),
			SSTVar:    v.GetString("obs.sst_var"),
			UWndFile:  v.GetString("obs.uwnd_file"),
			UWndVar:   v.GetString("obs.uwnd_var"),
			VWndFile:  v.GetString("obs.vwnd_file"),
			VWndVar:   v.GetString("obs.vwnd_var"),
			Start:     start,
			End:       end,
			Season:    domain.Season{Period: v.GetInt("obs.period"), Offset: v.GetInt("obs.offset")},
			Trim:      v.GetInt("obs.trim"),
			Output:    v.GetString("obs.output"),
			EOFOutput: v.GetString("obs.eof_output"),
			Label:     v.GetString("obs.label"),
		},
		Ens: EnsConfig{
			File:         v.GetString("ens.file"),
			Var:          v.GetString("ens.var"),
			PatternFile:  v.GetString("ens.pattern_file"),
			PatternVar:   v.GetString("ens.pattern_var"),
			PatternMode:  v.GetInt("ens.pattern_mode"),
			Season:       domain.Season{Period: v.GetInt("ens.period"), Offset: v.GetInt("ens.offset")},
			Members:      v.GetInt("ens.members"),
			KelvinOffset: v.GetFloat64("ens.kelvin_offset"),
			Output:       v.GetString("ens.output"),
			Label:        v.GetString("ens.label"),
		},
		Window:      region(v, "region.window"),
		CTI:         region(v, "region.cti"),
		MCAModes:    v.GetInt("mca.modes"),
		Workers:     v.GetInt("workers"),
		SQLitePath:  v.GetString("sqlite.path"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		ServerPort:  v.GetString("server.port"),
		CORSOrigins: splitList(v.GetStringSlice("server.cors_origins")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Obs.Season.Validate(); err != nil {
		return fmt.Errorf("obs: %w", err)
	}
	if err := c.Ens.Season.Validate(); err != nil {
		return fmt.Errorf("ens: %w", err)
	}
	if err := c.Window.Validate(); err != nil {
		return fmt.Errorf("region.window: %w", err)
	}
	if err := c.CTI.Validate(); err != nil {
		return fmt.Errorf("region.cti: %w", err)
	}
	if !c.Obs.Start.Before(c.Obs.End) {
		return fmt.Errorf("obs.start (%s) must be before obs.end (%s)",
			c.Obs.Start.Format(time.DateOnly), c.Obs.End.Format(time.DateOnly))
	}
	if c.Obs.Trim < 0 {
		return errors.New("obs.trim must be >= 0")
	}
	if c.Ens.Members < 0 {
		return errors.New("ens.members must be >= 0")
	}
	if c.Ens.PatternMode < 0 {
		return errors.New("ens.pattern_mode must be >= 0")
	}
	if c.MCAModes < 0 {
		return errors.New("mca.modes must be >= 0")
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func region(v *viper.Viper, key string) domain.Region {
	return domain.Region{
		LonMin: v.GetFloat64(key + ".lon_min"),
		LonMax: v.GetFloat64(key + ".lon_max"),
		LatMin: v.GetFloat64(key + ".lat_min"),
		LatMax: v.GetFloat64(key + ".lat_max"),
	}
}

// splitList accepts both list values and comma-separated strings from the
// environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseDate(v *viper.Viper, key string) (time.Time, error) {
	s := v.GetString(key)
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (expected YYYY-MM-DD): %w", key, s, err)
	}
	return t, nil
}
