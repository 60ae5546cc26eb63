package walkforward

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/optimize"
)

func risingSeries(t *testing.T, n int) *bars.Series {
	t.Helper()
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	bs := make([]bars.Bar, n)
	for i := 0; i < n; i++ {
		px := 100.0 + float64(i)
		bs[i] = bars.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   px,
			High:   px + 0.5,
			Low:    px - 0.5,
			Close:  px,
			Volume: 10,
		}
	}
	s, err := bars.NewSeries("EURUSD", bars.TimeframeH1, bs)
	require.NoError(t, err)
	return s
}

// stepStrategy opens one BUY per slice with a short take-profit so trades
// realize inside a 10-bar out-of-sample step.
func stepStrategy(s *bars.Series, p backtest.Params, i int) *backtest.Signal {
	if i != 0 {
		return nil
	}
	gap := p.FloatOr("gap", 2)
	entry := s.At(0).Close
	return &backtest.Signal{Direction: backtest.Buy, TakeProfit: entry + gap}
}

func testSimConfig() backtest.Config {
	return backtest.Config{InitialCapital: 10000, PositionFraction: 0.10, CommissionRate: 0, Slippage: 0}
}

func testConfig() Config {
	return Config{
		WindowBars: 20,
		StepBars:   10,
		Method:     MethodMonteCarlo,
		MonteCarlo: optimize.MonteCarloConfig{Iterations: 20, Workers: 2, Seed: 17},
	}
}

func TestRun_WindowsAndStitching(t *testing.T) {
	series := risingSeries(t, 60)
	spec := optimize.Spec{"gap": optimize.Range{Min: 1, Max: 3}}

	res, err := Run(context.Background(), series, stepStrategy, spec, testSimConfig(), testConfig())
	require.NoError(t, err)

	// Starts 0, 10, 20, 30: four full 20+10 windows fit into 60 bars.
	require.Len(t, res.Windows, 4)
	assert.Equal(t, 0, res.SkippedWindows)

	for i, w := range res.Windows {
		gap, ok := w.Params.Float("gap")
		require.True(t, ok, "window %d params", i)
		assert.GreaterOrEqual(t, gap, 1.0)
		assert.LessOrEqual(t, gap, 3.0)
		require.NotNil(t, w.InSample)
		require.NotNil(t, w.OutSample)
		assert.True(t, w.OutSampleStart.After(w.InSampleEnd))
	}

	// Adjacent out-of-sample windows share back-to-back slices.
	assert.Equal(t, res.Windows[0].OutSampleEnd.Add(time.Hour), res.Windows[1].OutSampleStart)

	// Stitched equity: 11 points for the first window, 10 for each later one.
	assert.Len(t, res.OutOfSampleEquity, 11+3*10)
	assert.Equal(t, 10000.0, res.OutOfSampleEquity[0])

	// Capital chains across windows without a discontinuity.
	first := res.Windows[0].OutSample.EquityCurve
	second := res.Windows[1].OutSample.EquityCurve
	assert.Equal(t, first[len(first)-1], second[0])

	totalTrades := 0
	for _, w := range res.Windows {
		totalTrades += len(w.OutSample.Trades)
	}
	assert.Len(t, res.OutOfSampleTrades, totalTrades)
	assert.Greater(t, totalTrades, 0, "short take-profits fill inside the step")
	assert.Equal(t, totalTrades, res.OutOfSampleMetrics.TotalTrades)
	assert.Greater(t, res.OutOfSampleMetrics.NetProfit, 0.0)
}

func TestRun_GeneticMethod(t *testing.T) {
	series := risingSeries(t, 60)
	spec := optimize.Spec{"gap": optimize.Range{Min: 1, Max: 3}}
	cfg := testConfig()
	cfg.Method = MethodGenetic
	cfg.Genetic = optimize.GeneticConfig{PopulationSize: 6, Generations: 2, MutationRate: 0.2, Workers: 2, Seed: 4}

	res, err := Run(context.Background(), series, stepStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)
	assert.Len(t, res.Windows, 4)
}

func TestRun_InsufficientBars(t *testing.T) {
	series := risingSeries(t, 25) // needs 30 for one window
	spec := optimize.Spec{"gap": optimize.Range{Min: 1, Max: 3}}

	_, err := Run(context.Background(), series, stepStrategy, spec, testSimConfig(), testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, bars.ErrInsufficientData)
}

func TestRun_InvalidConfig(t *testing.T) {
	series := risingSeries(t, 60)
	spec := optimize.Spec{"gap": optimize.Range{Min: 1, Max: 3}}

	bad := testConfig()
	bad.WindowBars = 0
	_, err := Run(context.Background(), series, stepStrategy, spec, testSimConfig(), bad)
	assert.Error(t, err)

	bad = testConfig()
	bad.StepBars = -1
	_, err = Run(context.Background(), series, stepStrategy, spec, testSimConfig(), bad)
	assert.Error(t, err)

	bad = testConfig()
	bad.Method = "grid"
	_, err = Run(context.Background(), series, stepStrategy, spec, testSimConfig(), bad)
	assert.Error(t, err)
}
