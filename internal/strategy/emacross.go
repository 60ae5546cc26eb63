// Package strategy ships a small reference alpha for backtests, parameter
// searches, and walk-forward runs. Production alphas stay external and feed
// the core through the standardized signal shape.
package strategy

import (
	"fmt"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/optimize"
)

// EMACross signals when the fast EMA crosses the slow EMA: up is BUY, down
// is SELL. Stop and target distances come from percentage parameters; zero
// leaves them unset.
func EMACross(s *bars.Series, p backtest.Params, index int) *backtest.Signal {
	fast := p.IntOr("fast_period", 9)
	slow := p.IntOr("slow_period", 21)
	if fast < 1 || slow <= fast {
		return nil
	}
	if index < slow {
		return nil
	}

	closes := make([]float64, index+1)
	for i := 0; i <= index; i++ {
		closes[i] = s.At(i).Close
	}

	fastPrev := emaAt(closes, fast, index-1)
	fastCur := emaAt(closes, fast, index)
	slowPrev := emaAt(closes, slow, index-1)
	slowCur := emaAt(closes, slow, index)

	crossUp := fastPrev <= slowPrev && fastCur > slowCur
	crossDown := fastPrev >= slowPrev && fastCur < slowCur
	if !crossUp && !crossDown {
		return nil
	}

	price := s.At(index).Close
	slPct := p.FloatOr("stop_loss_pct", 0.01)
	tpPct := p.FloatOr("take_profit_pct", 0.02)

	sig := &backtest.Signal{
		Symbol:     s.Symbol,
		EntryPrice: price,
	}
	if crossUp {
		sig.Direction = backtest.Buy
		if slPct > 0 {
			sig.StopLoss = price * (1 - slPct)
		}
		if tpPct > 0 {
			sig.TakeProfit = price * (1 + tpPct)
		}
		sig.Reasoning = []string{fmt.Sprintf("EMA%d crossed above EMA%d", fast, slow)}
	} else {
		sig.Direction = backtest.Sell
		if slPct > 0 {
			sig.StopLoss = price * (1 + slPct)
		}
		if tpPct > 0 {
			sig.TakeProfit = price * (1 - tpPct)
		}
		sig.Reasoning = []string{fmt.Sprintf("EMA%d crossed below EMA%d", fast, slow)}
	}
	return sig
}

// emaAt computes the EMA at index i, seeded with the SMA of the first
// `period` closes. Callers guarantee i >= period-1.
func emaAt(closes []float64, period, i int) float64 {
	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	ema := seed / float64(period)
	k := 2.0 / float64(period+1)
	for j := period; j <= i; j++ {
		ema = closes[j]*k + ema*(1-k)
	}
	return ema
}

// DefaultSpec is the stock search space for the reference strategy.
func DefaultSpec() optimize.Spec {
	return optimize.Spec{
		"fast_period":     optimize.Range{Min: 5, Max: 20},
		"slow_period":     optimize.Range{Min: 21, Max: 60},
		"stop_loss_pct":   optimize.Range{Min: 0.005, Max: 0.03},
		"take_profit_pct": optimize.Range{Min: 0.01, Max: 0.06},
	}
}

var registry = map[string]backtest.StrategyFunc{
	"emacross": EMACross,
}

// ByName resolves a registered strategy.
func ByName(name string) (backtest.StrategyFunc, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return fn, nil
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
