package backtest

import (
	"encoding/json"
	"math"
)

// tradingDaysPerYear annualizes per-bar return statistics.
const tradingDaysPerYear = 252

// PerformanceMetrics is a pure reduction of a trade list plus equity and
// drawdown curves. Zero trades yields the zero value.
type PerformanceMetrics struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	NetProfit      float64 `json:"net_profit"`
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	Expectancy     float64 `json:"expectancy"`
	RecoveryFactor float64 `json:"recovery_factor"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`
}

// MarshalJSON renders the +Inf profit-factor sentinel as "inf" so results
// stay encodable.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	type alias PerformanceMetrics
	if math.IsInf(m.ProfitFactor, 1) {
		return json.Marshal(struct {
			alias
			ProfitFactor string `json:"profit_factor"`
		}{alias(m), "inf"})
	}
	return json.Marshal(alias(m))
}

// CalculateMetrics reduces trades and curves to aggregate statistics. It has
// no hidden state: the same inputs always produce the same output.
func CalculateMetrics(trades []Trade, equityCurve, drawdownCurve []float64, initialCapital float64) PerformanceMetrics {
	var m PerformanceMetrics
	if len(trades) == 0 {
		return m
	}

	m.TotalTrades = len(trades)
	for _, t := range trades {
		m.NetProfit += t.Profit
		if t.Profit > 0 {
			m.WinningTrades++
			m.GrossProfit += t.Profit
			if t.Profit > m.LargestWin {
				m.LargestWin = t.Profit
			}
		} else {
			m.LosingTrades++
			m.GrossLoss += -t.Profit
			if t.Profit < m.LargestLoss {
				m.LargestLoss = t.Profit
			}
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -m.GrossLoss / float64(m.LosingTrades)
	}

	// Profit factor: +Inf sentinel when there are profits but no losses.
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	for _, dd := range drawdownCurve {
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	returns := barReturns(equityCurve)
	m.SharpeRatio = sharpe(returns)
	m.SortinoRatio = sortino(returns)

	if m.MaxDrawdown > 0 {
		if initialCapital > 0 {
			m.CalmarRatio = (m.NetProfit / initialCapital) / m.MaxDrawdown
		}
		m.RecoveryFactor = m.NetProfit / m.MaxDrawdown
	}
	m.Expectancy = m.NetProfit / float64(m.TotalTrades)

	return m
}

func barReturns(equityCurve []float64) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, (equityCurve[i]-prev)/prev)
	}
	return out
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mu := mean(returns)
	sd := stddev(returns, mu)
	if sd == 0 {
		return 0
	}
	return mu / sd * math.Sqrt(tradingDaysPerYear)
}

// sortino uses the deviation of the negative returns only.
func sortino(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	mu := mean(returns)
	dmu := mean(downside)
	dsd := stddev(downside, dmu)
	if dsd == 0 {
		return 0
	}
	return mu / dsd * math.Sqrt(tradingDaysPerYear)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
