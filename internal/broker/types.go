// Package broker defines the execution-venue boundary. The protection loop
// talks to live venues only through these interfaces, so tests and paper
// trading swap in without touching risk logic.
package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sawpanic/alphaguard/internal/bars"
)

var ErrPositionNotFound = errors.New("position not found")

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position is an open position as reported by the venue.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Profit     float64   `json:"profit"`
	Swap       float64   `json:"swap"`
	Commission float64   `json:"commission"`
	AlphaID    string    `json:"alpha_id,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// NetProfit is the floating P&L including swap and commission, both signed
// as the venue reports them (charges are negative).
func (p Position) NetProfit() float64 { return p.Profit + p.Swap + p.Commission }

type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// AccountStatus is the venue-side account snapshot the risk loop polls.
type AccountStatus struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Currency    string  `json:"currency"`
	AutoTrading bool    `json:"auto_trading"`
}

// Modification carries new protective levels for an open position. A zero
// field leaves the current level unchanged.
type Modification struct {
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// ClosedTrade is the venue's record of a full or partial close.
type ClosedTrade struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Profit     float64   `json:"profit"`
	AlphaID    string    `json:"alpha_id,omitempty"`
	Reason     string    `json:"reason"`
	ClosedAt   time.Time `json:"closed_at"`
}

type Broker interface {
	Positions(ctx context.Context) ([]Position, error)
	Quote(ctx context.Context, symbol string) (Quote, error)
	Account(ctx context.Context) (AccountStatus, error)
	Modify(ctx context.Context, positionID string, mod Modification) error
	ClosePartial(ctx context.Context, positionID string, volume float64, reason string) error
	Close(ctx context.Context, positionID string, reason string) error
	SetAutoTrading(ctx context.Context, enabled bool) error
}

// StructureSignals are the analyzer's verdicts on an instrument's current
// market structure. Any set flag means structure has turned.
type StructureSignals struct {
	TrendBreak         bool `json:"trend_break_detected"`
	EMAFlip            bool `json:"ema_flip_detected"`
	MomentumDivergence bool `json:"momentum_divergence_detected"`
}

func (s StructureSignals) Shifted() bool {
	return s.TrendBreak || s.EMAFlip || s.MomentumDivergence
}

func (s StructureSignals) String() string {
	var parts []string
	if s.TrendBreak {
		parts = append(parts, "trend_break")
	}
	if s.EMAFlip {
		parts = append(parts, "ema_flip")
	}
	if s.MomentumDivergence {
		parts = append(parts, "momentum_divergence")
	}
	if len(parts) == 0 {
		return "intact"
	}
	return strings.Join(parts, ",")
}

// StructureAnalyzer reports when market structure has shifted, such as a
// broken swing level or an EMA flip against the prevailing trend.
type StructureAnalyzer interface {
	AnalyzeMarketStructure(ctx context.Context, symbol string) (StructureSignals, error)
}

// NewsEvent is a scheduled release that can gap the market.
type NewsEvent struct {
	Currency      string    `json:"currency"`
	Title         string    `json:"title"`
	Impact        string    `json:"impact"`
	AffectedPairs []string  `json:"affected_pairs,omitempty"`
	Time          time.Time `json:"time"`
}

// NewsSource lists upcoming high-impact events inside the given window.
type NewsSource interface {
	Upcoming(ctx context.Context, within time.Duration) ([]NewsEvent, error)
}

// VolatilitySource supplies the ATR readings the volatility trigger
// compares. HistoricalATR averages the reading over the lookback window
// and serves as the spike baseline.
type VolatilitySource interface {
	ATR(ctx context.Context, symbol string, tf bars.Timeframe, period int) (float64, error)
	HistoricalATR(ctx context.Context, symbol string, tf bars.Timeframe, period, lookbackDays int) (float64, error)
}
