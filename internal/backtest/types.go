// Package backtest replays strategies bar-by-bar against historical series
// and reduces the resulting trades to performance metrics.
package backtest

import (
	"time"

	"github.com/sawpanic/alphaguard/internal/bars"
)

// Direction is the side of a signal or trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Signal is the standardized output of an alpha source. StopLoss, TakeProfit
// and Volume are optional; zero means unset.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Volume     float64   `json:"volume,omitempty"`
	Reasoning  []string  `json:"reasoning,omitempty"`
}

// StrategyFunc inspects the series up to and including index and returns a
// signal or nil. It must be pure: no state outside params, no mutation of the
// series.
type StrategyFunc func(series *bars.Series, params Params, index int) *Signal

// Params is a materialized parameter set: scalars only, no ranges.
type Params map[string]interface{}

// Clone returns a shallow copy of the parameter set.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Float reads a numeric parameter, accepting int or float64 values.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// FloatOr reads a numeric parameter with a fallback default.
func (p Params) FloatOr(key string, def float64) float64 {
	if v, ok := p.Float(key); ok {
		return v
	}
	return def
}

// IntOr reads a numeric parameter truncated to int with a fallback default.
func (p Params) IntOr(key string, def int) int {
	if v, ok := p.Float(key); ok {
		return int(v)
	}
	return def
}

// BoolOr reads a boolean parameter with a fallback default.
func (p Params) BoolOr(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// StringOr reads a string parameter with a fallback default.
func (p Params) StringOr(key string, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// ExitReason says why the simulator closed a trade.
type ExitReason int

const (
	ExitStopLoss ExitReason = iota
	ExitTakeProfit
	ExitReversal
)

func (r ExitReason) String() string {
	switch r {
	case ExitStopLoss:
		return "stop_loss"
	case ExitTakeProfit:
		return "take_profit"
	case ExitReversal:
		return "signal_reversal"
	default:
		return "unknown"
	}
}

// Trade is a completed round trip created and closed within one simulation run.
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Quantity   float64   `json:"quantity"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	ExitReason string    `json:"exit_reason"`
}

// OpenPosition describes a position the simulator still held after the final
// bar. It is reported on the result but never realized into the trade list.
type OpenPosition struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
}

// Config holds simulator policy. Sizing and cost rates are policy defaults,
// overridable from configuration; they are never hardcoded at call sites.
type Config struct {
	InitialCapital   float64 `yaml:"initial_capital" json:"initial_capital"`
	PositionFraction float64 `yaml:"position_fraction" json:"position_fraction"` // fraction of capital per position
	CommissionRate   float64 `yaml:"commission_rate" json:"commission_rate"`     // round-trip, fraction of entry notional
	Slippage         float64 `yaml:"slippage" json:"slippage"`                   // fraction of price, applied against the trader
}

// DefaultConfig returns the stock simulator policy.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   10000,
		PositionFraction: 0.10,
		CommissionRate:   0.001,
		Slippage:         0.0005,
	}
}

// Result is the full outcome of one simulation run.
type Result struct {
	Trades        []Trade            `json:"trades"`
	Metrics       PerformanceMetrics `json:"metrics"`
	EquityCurve   []float64          `json:"equity_curve"`
	DrawdownCurve []float64          `json:"drawdown_curve"`
	Parameters    Params             `json:"parameters"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       time.Time          `json:"end_date"`
	OpenAtEnd     *OpenPosition      `json:"open_at_end,omitempty"`
}
