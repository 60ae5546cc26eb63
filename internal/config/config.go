// Package config loads and validates the master configuration. A missing
// file or section falls back to package defaults, so a bare binary runs
// with sane policy out of the box.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/alphaguard/internal/allocation"
	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/guard"
	"github.com/sawpanic/alphaguard/internal/journal"
	"github.com/sawpanic/alphaguard/internal/optimize"
	"github.com/sawpanic/alphaguard/internal/walkforward"
)

// Config is the full runtime configuration, one section per subsystem.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging"`
	Backtest    backtest.Config    `yaml:"backtest"`
	Search      SearchConfig       `yaml:"search"`
	WalkForward walkforward.Config `yaml:"walkforward"`
	Allocation  allocation.Config  `yaml:"allocation"`
	Guard       guard.Config       `yaml:"guard"`
	Journal     journal.Config     `yaml:"journal"`
	Cache       CacheConfig        `yaml:"cache"`
	News        NewsConfig         `yaml:"news"`
	Ops         OpsConfig          `yaml:"ops"`
}

// LoggingConfig controls the global zerolog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console, json, or auto (console on a TTY)
}

// SearchConfig groups the parameter search engines.
type SearchConfig struct {
	MonteCarlo optimize.MonteCarloConfig `yaml:"montecarlo"`
	Genetic    optimize.GeneticConfig    `yaml:"genetic"`
}

// CacheConfig selects the cache backend. An empty address keeps the
// in-process cache.
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
}

// NewsConfig points at the economic calendar feed.
type NewsConfig struct {
	CalendarPath   string        `yaml:"calendar_path"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// OpsConfig controls the status and metrics HTTP listener.
type OpsConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the stock configuration every Load starts from.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Backtest: backtest.DefaultConfig(),
		Search: SearchConfig{
			MonteCarlo: optimize.DefaultMonteCarloConfig(),
			Genetic:    optimize.DefaultGeneticConfig(),
		},
		WalkForward: walkforward.DefaultConfig(),
		Allocation:  allocation.DefaultConfig(),
		Guard:       guard.DefaultConfig(),
		Journal:     journal.DefaultConfig(),
		News: NewsConfig{
			CalendarPath:   "data/calendar.jsonl",
			ReloadInterval: time.Hour,
		},
		Ops: OpsConfig{
			ListenAddr:        "localhost:8090",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults. Keys absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats an empty path or a missing
// file as a request for the defaults.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks every section. Sections owning a Validate method are
// deferred to it; the rest are checked here.
func (c Config) Validate() error {
	if err := c.Logging.validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest: initial_capital must be positive, got %.2f", c.Backtest.InitialCapital)
	}
	if c.Backtest.PositionFraction <= 0 || c.Backtest.PositionFraction > 1 {
		return fmt.Errorf("backtest: position_fraction must be in (0, 1], got %.3f", c.Backtest.PositionFraction)
	}
	if c.Backtest.CommissionRate < 0 || c.Backtest.Slippage < 0 {
		return errors.New("backtest: commission_rate and slippage cannot be negative")
	}
	if c.Search.MonteCarlo.Iterations <= 0 {
		return fmt.Errorf("search: montecarlo iterations must be positive, got %d", c.Search.MonteCarlo.Iterations)
	}
	if c.Search.MonteCarlo.Workers <= 0 {
		return fmt.Errorf("search: montecarlo workers must be positive, got %d", c.Search.MonteCarlo.Workers)
	}
	if c.Search.Genetic.PopulationSize < 2 {
		return fmt.Errorf("search: genetic population_size must be at least 2, got %d", c.Search.Genetic.PopulationSize)
	}
	if c.Search.Genetic.Generations <= 0 {
		return fmt.Errorf("search: genetic generations must be positive, got %d", c.Search.Genetic.Generations)
	}
	if c.Search.Genetic.MutationRate < 0 || c.Search.Genetic.MutationRate > 1 {
		return fmt.Errorf("search: genetic mutation_rate must be in [0, 1], got %.3f", c.Search.Genetic.MutationRate)
	}
	if c.WalkForward.WindowBars <= 0 || c.WalkForward.StepBars <= 0 {
		return errors.New("walkforward: window_bars and step_bars must be positive")
	}
	if c.WalkForward.Method != walkforward.MethodMonteCarlo && c.WalkForward.Method != walkforward.MethodGenetic {
		return fmt.Errorf("walkforward: unknown method %q", c.WalkForward.Method)
	}
	if err := c.Allocation.Validate(); err != nil {
		return fmt.Errorf("allocation: %w", err)
	}
	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return errors.New("journal: enabled without a dsn")
	}
	if c.Journal.QueueSize <= 0 {
		return fmt.Errorf("journal: queue_size must be positive, got %d", c.Journal.QueueSize)
	}
	if c.News.ReloadInterval <= 0 {
		return fmt.Errorf("news: reload_interval must be positive, got %s", c.News.ReloadInterval)
	}
	if c.Ops.ListenAddr == "" {
		return errors.New("ops: listen_addr cannot be empty")
	}
	return nil
}

func (lc LoggingConfig) validate() error {
	if _, err := zerolog.ParseLevel(lc.Level); err != nil {
		return fmt.Errorf("unknown level %q", lc.Level)
	}
	switch lc.Format {
	case "console", "json", "auto":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want console, json, or auto)", lc.Format)
	}
}
