// Package walkforward chains in-sample optimization with out-of-sample
// simulation across rolling windows to estimate strategy robustness without
// look-ahead bias.
package walkforward

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/optimize"
)

// Method selects the in-sample optimizer.
type Method string

const (
	MethodMonteCarlo Method = "montecarlo"
	MethodGenetic    Method = "genetic"
)

// Config controls the rolling windows and the per-window optimizer.
type Config struct {
	WindowBars int                         `yaml:"window_bars" json:"window_bars"` // in-sample size W
	StepBars   int                         `yaml:"step_bars" json:"step_bars"`     // out-of-sample size S, also the slide
	Method     Method                      `yaml:"method" json:"method"`
	MonteCarlo optimize.MonteCarloConfig   `yaml:"montecarlo" json:"montecarlo"`
	Genetic    optimize.GeneticConfig      `yaml:"genetic" json:"genetic"`
}

// DefaultConfig returns the stock walk-forward settings.
func DefaultConfig() Config {
	return Config{
		WindowBars: 200,
		StepBars:   50,
		Method:     MethodMonteCarlo,
		MonteCarlo: optimize.DefaultMonteCarloConfig(),
		Genetic:    optimize.DefaultGeneticConfig(),
	}
}

func (c Config) validate() error {
	if c.WindowBars <= 0 {
		return fmt.Errorf("walkforward: window_bars must be positive, got %d", c.WindowBars)
	}
	if c.StepBars <= 0 {
		return fmt.Errorf("walkforward: step_bars must be positive, got %d", c.StepBars)
	}
	if c.Method != MethodMonteCarlo && c.Method != MethodGenetic {
		return fmt.Errorf("walkforward: unknown method %q (want montecarlo or genetic)", c.Method)
	}
	return nil
}

// Window is one train/test pair. The in-sample result is diagnostic only;
// the out-of-sample result is the unbiased estimate.
type Window struct {
	Index          int             `json:"index"`
	InSampleStart  time.Time       `json:"in_sample_start"`
	InSampleEnd    time.Time       `json:"in_sample_end"`
	OutSampleStart time.Time       `json:"out_sample_start"`
	OutSampleEnd   time.Time       `json:"out_sample_end"`
	Params         backtest.Params `json:"params"`
	InSample       *backtest.Result `json:"in_sample"`
	OutSample      *backtest.Result `json:"out_sample"`
}

// Result aggregates all windows. OutOfSampleMetrics over the concatenated
// out-of-sample trades is the authoritative robustness estimate; in-sample
// numbers must never be reported as viability.
type Result struct {
	Windows            []Window                    `json:"windows"`
	OutOfSampleTrades  []backtest.Trade            `json:"out_of_sample_trades"`
	OutOfSampleEquity  []float64                   `json:"out_of_sample_equity"`
	OutOfSampleMetrics backtest.PerformanceMetrics `json:"out_of_sample_metrics"`
	SkippedWindows     int                         `json:"skipped_windows"`
}

// Run slides a W-bar in-sample window plus an S-bar out-of-sample step across
// the series. Each out-of-sample backtest starts from the previous window's
// ending capital so the stitched equity curve is continuous.
func Run(ctx context.Context, series *bars.Series, strategy backtest.StrategyFunc, spec optimize.Spec, simCfg backtest.Config, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if series == nil || series.Len() < cfg.WindowBars+cfg.StepBars {
		have := 0
		if series != nil {
			have = series.Len()
		}
		return nil, fmt.Errorf("walkforward: need at least %d bars for one window, have %d: %w",
			cfg.WindowBars+cfg.StepBars, have, bars.ErrInsufficientData)
	}

	total := (series.Len() - cfg.WindowBars) / cfg.StepBars
	log.Info().
		Str("symbol", series.Symbol).
		Int("window_bars", cfg.WindowBars).
		Int("step_bars", cfg.StepBars).
		Int("windows", total).
		Str("method", string(cfg.Method)).
		Msg("Starting walk-forward analysis")

	result := &Result{}
	carried := simCfg.InitialCapital

	for start := 0; start+cfg.WindowBars+cfg.StepBars <= series.Len(); start += cfg.StepBars {
		idx := len(result.Windows) + result.SkippedWindows

		inSample, err := series.Slice(start, start+cfg.WindowBars)
		if err != nil {
			return nil, err
		}
		outSample, err := series.Slice(start+cfg.WindowBars, start+cfg.WindowBars+cfg.StepBars)
		if err != nil {
			return nil, err
		}

		params, err := optimizeWindow(ctx, inSample, strategy, spec, simCfg, cfg)
		if err != nil {
			return nil, err
		}
		if params == nil {
			log.Warn().Int("window", idx).Msg("Every in-sample trial failed, skipping window")
			result.SkippedWindows++
			continue
		}

		inResult, err := backtest.Run(inSample, strategy, params, simCfg)
		if err != nil {
			log.Warn().Err(err).Int("window", idx).Msg("In-sample diagnostic backtest failed, skipping window")
			result.SkippedWindows++
			continue
		}

		oosCfg := simCfg
		oosCfg.InitialCapital = carried
		outResult, err := backtest.Run(outSample, strategy, params, oosCfg)
		if err != nil {
			log.Warn().Err(err).Int("window", idx).Msg("Out-of-sample backtest failed, skipping window")
			result.SkippedWindows++
			continue
		}
		carried = outResult.EquityCurve[len(outResult.EquityCurve)-1]

		result.Windows = append(result.Windows, Window{
			Index:          idx,
			InSampleStart:  inSample.Start(),
			InSampleEnd:    inSample.End(),
			OutSampleStart: outSample.Start(),
			OutSampleEnd:   outSample.End(),
			Params:         params,
			InSample:       inResult,
			OutSample:      outResult,
		})
		result.OutOfSampleTrades = append(result.OutOfSampleTrades, outResult.Trades...)
		if len(result.OutOfSampleEquity) == 0 {
			result.OutOfSampleEquity = append(result.OutOfSampleEquity, outResult.EquityCurve...)
		} else {
			// Drop the duplicated junction point when stitching.
			result.OutOfSampleEquity = append(result.OutOfSampleEquity, outResult.EquityCurve[1:]...)
		}

		log.Info().
			Int("window", idx).
			Float64("in_sample_profit", inResult.Metrics.NetProfit).
			Float64("out_sample_profit", outResult.Metrics.NetProfit).
			Int("out_sample_trades", len(outResult.Trades)).
			Msg("Walk-forward window complete")
	}

	result.OutOfSampleMetrics = backtest.CalculateMetrics(
		result.OutOfSampleTrades,
		result.OutOfSampleEquity,
		drawdownOf(result.OutOfSampleEquity),
		simCfg.InitialCapital,
	)

	log.Info().
		Int("windows", len(result.Windows)).
		Int("skipped", result.SkippedWindows).
		Int("oos_trades", len(result.OutOfSampleTrades)).
		Float64("oos_net_profit", result.OutOfSampleMetrics.NetProfit).
		Msg("Walk-forward analysis complete")

	return result, nil
}

func optimizeWindow(ctx context.Context, inSample *bars.Series, strategy backtest.StrategyFunc, spec optimize.Spec, simCfg backtest.Config, cfg Config) (backtest.Params, error) {
	switch cfg.Method {
	case MethodGenetic:
		res, err := optimize.Genetic(ctx, inSample, strategy, spec, simCfg, cfg.Genetic)
		if err != nil {
			return nil, err
		}
		if res.Best.Failed() {
			return nil, nil
		}
		return res.Best.Params, nil
	default:
		res, err := optimize.MonteCarlo(ctx, inSample, strategy, spec, simCfg, cfg.MonteCarlo)
		if err != nil {
			return nil, err
		}
		if res.Best == nil {
			return nil, nil
		}
		return res.Best.Params, nil
	}
}

// drawdownOf recomputes the drawdown curve over a stitched equity curve so
// the peak carries across window junctions.
func drawdownOf(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := 0.0
	for i, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			out[i] = (peak - eq) / peak
		}
	}
	return out
}
