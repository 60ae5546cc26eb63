package optimize

import (
	"math"

	"github.com/sawpanic/alphaguard/internal/backtest"
)

// FailedFitness marks a trial that errored during simulation. Failed trials
// never win best-selection but stay in the reported samples for diagnosis.
var FailedFitness = math.Inf(-1)

// Fitness is the shared objective for Monte Carlo and the genetic algorithm:
// net profit (scaled), inverse max drawdown, Sharpe ratio, and win rate.
func Fitness(m backtest.PerformanceMetrics) float64 {
	score := m.NetProfit / 1000
	if m.MaxDrawdown > 0 {
		score += 1 / m.MaxDrawdown
	}
	score += m.SharpeRatio
	score += m.WinRate * 10
	return score
}
