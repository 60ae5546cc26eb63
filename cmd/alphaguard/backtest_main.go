package main

import (
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/strategy"
)

// loadSeries resolves the shared series flags into a loaded bar series and
// strategy function.
func loadSeries(cmd *cobra.Command) (*bars.Series, backtest.StrategyFunc, error) {
	path, _ := cmd.Flags().GetString("bars")
	symbol, _ := cmd.Flags().GetString("symbol")
	tfName, _ := cmd.Flags().GetString("timeframe")
	stratName, _ := cmd.Flags().GetString("strategy")

	if path == "" {
		return nil, nil, fmt.Errorf("--bars is required")
	}
	tf, err := bars.ParseTimeframe(tfName)
	if err != nil {
		return nil, nil, err
	}
	fn, err := strategy.ByName(stratName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (have: %v)", err, strategy.Names())
	}
	series, err := bars.LoadCSV(path, symbol, tf)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("symbol", symbol).
		Str("timeframe", tf.String()).
		Int("bars", series.Len()).
		Str("strategy", stratName).
		Msg("Series loaded")
	return series, fn, nil
}

// loadParams reads a YAML file of scalar strategy parameters. An empty path
// yields an empty set, leaving the strategy on its own defaults.
func loadParams(path string) (backtest.Params, error) {
	if path == "" {
		return backtest.Params{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params %s: %w", path, err)
	}
	params := backtest.Params{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse params %s: %w", path, err)
	}
	return params, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	series, fn, err := loadSeries(cmd)
	if err != nil {
		return err
	}
	paramsPath, _ := cmd.Flags().GetString("params")
	params, err := loadParams(paramsPath)
	if err != nil {
		return err
	}

	result, err := backtest.Run(series, fn, params, cfg.Backtest)
	if err != nil {
		return err
	}

	printMetrics(result.Metrics, cfg.Backtest.InitialCapital)
	if result.OpenAtEnd != nil {
		fmt.Printf("\n⚠ position still open at the final bar (%s %s @ %.5f) — excluded from the trade list\n",
			result.OpenAtEnd.Direction, result.OpenAtEnd.Symbol, result.OpenAtEnd.EntryPrice)
	}

	outPath, _ := cmd.Flags().GetString("output")
	return writeArtifact(outPath, result)
}

func printMetrics(m backtest.PerformanceMetrics, initialCapital float64) {
	fmt.Printf("Trades:          %d (%d wins / %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("Win rate:        %.1f%%\n", m.WinRate*100)
	fmt.Printf("Net profit:      %.2f (%.2f%% of %.2f)\n", m.NetProfit, m.NetProfit/initialCapital*100, initialCapital)
	fmt.Printf("Profit factor:   %s\n", formatProfitFactor(m.ProfitFactor))
	fmt.Printf("Max drawdown:    %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Sharpe:          %.3f   Sortino: %.3f   Calmar: %.3f\n", m.SharpeRatio, m.SortinoRatio, m.CalmarRatio)
	fmt.Printf("Expectancy:      %.2f per trade\n", m.Expectancy)
	fmt.Printf("Recovery factor: %.3f\n", m.RecoveryFactor)
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf (no losing trades)"
	}
	return fmt.Sprintf("%.3f", pf)
}
