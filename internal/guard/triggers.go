package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/sawpanic/alphaguard/data/cache"
	"github.com/sawpanic/alphaguard/internal/broker"
)

// firedTriggers collects which protection triggers fired for one position
// in one cycle. Structure and volatility triggers force a full close.
type firedTriggers struct {
	profitable      bool
	tpProgress      bool
	progress        float64
	structure       bool
	structureDetail string
	volSpike        bool
	atr             float64
	atrBaseline     float64
}

func (t firedTriggers) any() bool {
	return t.profitable || t.tpProgress || t.structure || t.volSpike
}

func (t firedTriggers) forceClose() bool {
	return t.structure || t.volSpike
}

func (t firedTriggers) names() string {
	var out []string
	if t.profitable {
		out = append(out, "profitable")
	}
	if t.tpProgress {
		out = append(out, "tp_progress")
	}
	if t.structure {
		out = append(out, "structure_shift")
	}
	if t.volSpike {
		out = append(out, "volatility_spike")
	}
	return strings.Join(out, ",")
}

// evaluateTriggers inspects one position. Any failure from an external
// source aborts the evaluation; the caller skips the position and retries
// on the next cycle.
func (m *Manager) evaluateTriggers(ctx context.Context, p *ManagedPosition, q broker.Quote) (firedTriggers, error) {
	var t firedTriggers

	t.profitable = p.NetProfit() > 0

	if p.TakeProfit > 0 {
		t.progress = tpProgress(p, q)
		t.tpProgress = t.progress >= m.cfg.TPProgressThreshold
	}

	if m.structure != nil {
		cctx, cancel := m.callCtx(ctx)
		sig, err := m.structure.AnalyzeMarketStructure(cctx, p.Symbol)
		cancel()
		if err != nil {
			return firedTriggers{}, fmt.Errorf("structure analysis for %s: %w", p.Symbol, err)
		}
		t.structure = sig.Shifted()
		t.structureDetail = sig.String()
	}

	if m.vol != nil {
		cctx, cancel := m.callCtx(ctx)
		atr, err := m.vol.ATR(cctx, p.Symbol, m.cfg.ATRTimeframe, m.cfg.ATRPeriod)
		cancel()
		if err != nil {
			return firedTriggers{}, fmt.Errorf("atr for %s: %w", p.Symbol, err)
		}
		baseline, err := m.atrBaseline(ctx, p.Symbol)
		if err != nil {
			return firedTriggers{}, fmt.Errorf("atr baseline for %s: %w", p.Symbol, err)
		}
		t.atr = atr
		t.atrBaseline = baseline
		t.volSpike = baseline > 0 && atr > m.cfg.VolSpikeMult*baseline
	}

	return t, nil
}

// tpProgress measures how far price has travelled from entry toward the
// take-profit, on the closing side of the book. Zero when the position is
// underwater, capped at nothing above: values past 1 mean price overshot.
func tpProgress(p *ManagedPosition, q broker.Quote) float64 {
	var current, span float64
	switch p.Side {
	case broker.Buy:
		current = q.Bid - p.EntryPrice
		span = p.TakeProfit - p.EntryPrice
	case broker.Sell:
		current = p.EntryPrice - q.Ask
		span = p.EntryPrice - p.TakeProfit
	}
	if span <= 0 {
		return 0
	}
	if current < 0 {
		return 0
	}
	return current / span
}

// atrBaseline reads the lookback-average ATR through the cache so the
// expensive historical query runs at most once per TTL per symbol.
func (m *Manager) atrBaseline(ctx context.Context, symbol string) (float64, error) {
	key := "guard:atr_baseline:" + symbol
	return cache.FetchFloat(m.cache, key, m.cfg.ATRBaselineTTL, func() (float64, error) {
		cctx, cancel := m.callCtx(ctx)
		defer cancel()
		return m.vol.HistoricalATR(cctx, symbol, m.cfg.ATRTimeframe, m.cfg.ATRBaselinePeriod, m.cfg.ATRLookbackDays)
	})
}
