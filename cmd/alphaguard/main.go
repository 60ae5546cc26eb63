package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/alphaguard/internal/config"
)

const (
	appName = "alphaguard"
	version = "v0.4.0"
)

// cfg is loaded once by the root PersistentPreRunE and read by every
// subcommand handler.
var cfg config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Strategy backtesting, parameter search, and capital preservation",
		Version: version,
		Long: `alphaguard is the quantitative decision and risk layer: a bar-by-bar
backtest simulator, Monte Carlo and genetic parameter search, walk-forward
validation, performance-weighted capital allocation, and a live
capital-preservation loop with account circuit breakers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			loaded, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogging(cfg.Logging)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("config", "config/alphaguard.yaml", "Path to the master configuration file")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over a historical bar series",
		Long:  "Run the execution simulator over a CSV bar series with fixed parameters and report trades, metrics, and curves",
		RunE:  runBacktest,
	}
	addSeriesFlags(backtestCmd)
	backtestCmd.Flags().String("params", "", "YAML file of strategy parameters (scalars only)")
	backtestCmd.Flags().String("output", "", "Write the full result JSON to this file")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search strategy-parameter space",
		Long:  "Sample a parameter spec with Monte Carlo or evolve it with the genetic algorithm, scoring each trial by the shared fitness function",
		RunE:  runOptimize,
	}
	addSeriesFlags(optimizeCmd)
	optimizeCmd.Flags().String("spec", "", "YAML parameter spec: scalars pass through, [min, max] pairs are sampled (required)")
	optimizeCmd.Flags().String("method", "genetic", "Search method (montecarlo|genetic)")
	optimizeCmd.Flags().Int64("seed", 0, "Random seed, 0 picks one from the clock")
	optimizeCmd.Flags().String("output", "", "Write the full search result JSON to this file")

	walkforwardCmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Walk-forward robustness validation",
		Long:  "Chain in-sample optimization with out-of-sample backtests across rolling windows; only the stitched out-of-sample aggregate is reported as viability",
		RunE:  runWalkForward,
	}
	addSeriesFlags(walkforwardCmd)
	walkforwardCmd.Flags().String("spec", "", "YAML parameter spec to optimize per window (required)")
	walkforwardCmd.Flags().Int("window", 0, "In-sample window size in bars (0 keeps the configured value)")
	walkforwardCmd.Flags().Int("step", 0, "Out-of-sample step size in bars (0 keeps the configured value)")
	walkforwardCmd.Flags().String("method", "", "Per-window search method (montecarlo|genetic, empty keeps the configured value)")
	walkforwardCmd.Flags().String("output", "", "Write the full walk-forward result JSON to this file")

	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "Compute capital allocations from realized trades",
		Long:  "Rebuild per-alpha performance from the trade journal (or a JSON export) and print the allocation weights the engine would assign",
		RunE:  runAllocate,
	}
	allocateCmd.Flags().String("trades", "", "JSON file of trade records; empty reads the configured journal store")
	allocateCmd.Flags().Int("limit", 500, "Maximum journal trades to load")

	guardCmd := &cobra.Command{
		Use:   "guard",
		Short: "Run the capital-preservation session",
		Long: `Drive the protection loop on its poll interval: per-position break-even,
partial-close and trailing actions, account circuit breakers, currency
exposure control, and the time-gated allocation rebalance. Without a live
venue the session replays a CSV series through the paper broker.`,
		RunE: runGuard,
	}
	addSeriesFlags(guardCmd)
	guardCmd.Flags().String("listen", "", "Ops listener address (empty keeps the configured value)")
	guardCmd.Flags().String("risk-profile", "", "Session-aware risk profile YAML to overlay on the guard policy")
	guardCmd.Flags().Duration("tick", 0, "Override the poll interval (0 keeps the configured value)")
	guardCmd.Flags().Duration("bar-every", 5*time.Second, "Replay cadence: how often the paper feed advances one bar")

	rootCmd.AddCommand(backtestCmd, optimizeCmd, walkforwardCmd, allocateCmd, guardCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// addSeriesFlags attaches the flags shared by every command that loads a
// bar series.
func addSeriesFlags(cmd *cobra.Command) {
	cmd.Flags().String("bars", "", "CSV file of timestamp,open,high,low,close,volume rows (required)")
	cmd.Flags().String("symbol", "EURUSD", "Symbol the series belongs to")
	cmd.Flags().String("timeframe", "H1", "Series timeframe (M1|M5|M15|M30|H1|H4|D1)")
	cmd.Flags().String("strategy", "emacross", "Registered strategy name")
}

func setupLogging(lc config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := lc.Format == "console"
	if lc.Format == "auto" {
		console = term.IsTerminal(int(os.Stderr.Fd()))
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}

func writeArtifact(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	log.Info().Str("path", path).Msg("Artifact written")
	return nil
}
