package backtest

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMetrics_ZeroTrades(t *testing.T) {
	m := CalculateMetrics(nil, []float64{10000, 10000}, []float64{0, 0}, 10000)
	assert.Equal(t, PerformanceMetrics{}, m)
}

func TestCalculateMetrics_ProfitFactor(t *testing.T) {
	equity := []float64{10000, 10100, 10050}
	dd := []float64{0, 0, 0.00495}

	mixed := CalculateMetrics([]Trade{{Profit: 100}, {Profit: -50}}, equity, dd, 10000)
	assert.InDelta(t, 2.0, mixed.ProfitFactor, 1e-9)
	assert.Equal(t, 0.5, mixed.WinRate)
	assert.InDelta(t, 50.0, mixed.NetProfit, 1e-9)
	assert.InDelta(t, 25.0, mixed.Expectancy, 1e-9)

	// No losing trades: the +Inf sentinel.
	onlyWins := CalculateMetrics([]Trade{{Profit: 100}}, []float64{10000, 10100}, []float64{0, 0}, 10000)
	assert.True(t, math.IsInf(onlyWins.ProfitFactor, 1))

	// All flat/losing with no gross profit.
	onlyFlat := CalculateMetrics([]Trade{{Profit: 0}}, []float64{10000, 10000}, []float64{0, 0}, 10000)
	assert.Equal(t, 0.0, onlyFlat.ProfitFactor)
}

func TestCalculateMetrics_DrawdownNonNegative(t *testing.T) {
	dd := []float64{0, 0.02, 0.15, 0.03}
	m := CalculateMetrics([]Trade{{Profit: 1}}, []float64{100, 98, 85, 97}, dd, 100)
	assert.Equal(t, 0.15, m.MaxDrawdown)
	assert.GreaterOrEqual(t, m.MaxDrawdown, 0.0)

	// Monotonically non-decreasing curve has zero drawdown everywhere.
	flat := CalculateMetrics([]Trade{{Profit: 1}}, []float64{100, 101, 105}, []float64{0, 0, 0}, 100)
	assert.Equal(t, 0.0, flat.MaxDrawdown)
	assert.Equal(t, 0.0, flat.RecoveryFactor)
	assert.Equal(t, 0.0, flat.CalmarRatio)
}

func TestCalculateMetrics_RatiosKnownSeries(t *testing.T) {
	// Returns 0.2, -0.1, 0.05, -0.05: mean 0.025, population stddev 0.114564.
	equity := []float64{100, 120, 108, 113.4, 107.73}
	dd := []float64{0, 0, 0.1, 0.055, 0.10225}
	trades := []Trade{{Profit: 7.73}}

	m := CalculateMetrics(trades, equity, dd, 100)

	assert.InDelta(t, 3.4641, m.SharpeRatio, 0.01)
	// Downside returns -0.1 and -0.05: stddev 0.025.
	assert.InDelta(t, 15.8745, m.SortinoRatio, 0.01)
	assert.InDelta(t, 0.10225, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 7.73/0.10225, m.RecoveryFactor, 1e-6)
	assert.InDelta(t, (7.73/100.0)/0.10225, m.CalmarRatio, 1e-6)
}

func TestCalculateMetrics_ConstantReturnsZeroSharpe(t *testing.T) {
	m := CalculateMetrics([]Trade{{Profit: 1}}, []float64{100, 101, 102.01}, []float64{0, 0, 0}, 100)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.SortinoRatio) // no negative returns
}

func TestCalculateMetrics_WinLossRollups(t *testing.T) {
	trades := []Trade{
		{Profit: 120}, {Profit: 80}, {Profit: -40}, {Profit: -60}, {Profit: -20},
	}
	m := CalculateMetrics(trades, []float64{100, 101}, []float64{0, 0}, 100)

	assert.Equal(t, 5, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 3, m.LosingTrades)
	assert.InDelta(t, 0.4, m.WinRate, 1e-9)
	assert.InDelta(t, 200.0, m.GrossProfit, 1e-9)
	assert.InDelta(t, 120.0, m.GrossLoss, 1e-9)
	assert.InDelta(t, 100.0, m.AvgWin, 1e-9)
	assert.InDelta(t, -40.0, m.AvgLoss, 1e-9)
	assert.Equal(t, 120.0, m.LargestWin)
	assert.Equal(t, -60.0, m.LargestLoss)
}

func TestPerformanceMetrics_MarshalInfSentinel(t *testing.T) {
	m := CalculateMetrics([]Trade{{Profit: 10}}, []float64{100, 110}, []float64{0, 0}, 100)
	require.True(t, math.IsInf(m.ProfitFactor, 1))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":"inf"`)

	var finite PerformanceMetrics
	finite.ProfitFactor = 1.5
	data, err = json.Marshal(finite)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":1.5`)
}
