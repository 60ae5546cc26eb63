package guard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/internal/broker"
)

func gateFixtures() (Config, EntryRequest, broker.AccountStatus, broker.Quote, time.Time) {
	cfg := DefaultConfig()
	req := EntryRequest{
		Symbol:     "EURUSD",
		Side:       broker.Buy,
		EntryPrice: 1.1002,
		StopLoss:   1.0902,
		TakeProfit: 1.1302,
		Volume:     0.05,
		AlphaID:    "trend",
	}
	acct := broker.AccountStatus{Balance: 10000, Equity: 10000, AutoTrading: true}
	q := broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return cfg, req, acct, q, now
}

func TestGate_AllowsWellFormedEntry(t *testing.T) {
	cfg, req, acct, q, now := gateFixtures()

	d := evaluateGate(cfg, req, acct, q, nil, 0, now)

	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
	for _, c := range d.Checks {
		assert.True(t, c.Passed, "check %s should pass", c.Name)
	}
}

func TestGate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EntryRequest, *broker.AccountStatus, *broker.Quote)
		check  string
	}{
		{
			name:   "missing stop loss",
			mutate: func(r *EntryRequest, _ *broker.AccountStatus, _ *broker.Quote) { r.StopLoss = 0 },
			check:  "stop_loss_present",
		},
		{
			name:   "missing take profit",
			mutate: func(r *EntryRequest, _ *broker.AccountStatus, _ *broker.Quote) { r.TakeProfit = 0 },
			check:  "take_profit_present",
		},
		{
			name:   "stop on the wrong side",
			mutate: func(r *EntryRequest, _ *broker.AccountStatus, _ *broker.Quote) { r.StopLoss = 1.1200 },
			check:  "levels_coherent",
		},
		{
			name:   "thin reward",
			mutate: func(r *EntryRequest, _ *broker.AccountStatus, _ *broker.Quote) { r.TakeProfit = 1.1052 },
			check:  "reward_risk",
		},
		{
			name:   "volume above risk budget",
			mutate: func(r *EntryRequest, _ *broker.AccountStatus, _ *broker.Quote) { r.Volume = 0.5 },
			check:  "volume_risk",
		},
		{
			name:   "spread too wide",
			mutate: func(_ *EntryRequest, _ *broker.AccountStatus, q *broker.Quote) { q.Ask = 1.1006 },
			check:  "spread",
		},
		{
			name:   "auto trading disabled",
			mutate: func(_ *EntryRequest, a *broker.AccountStatus, _ *broker.Quote) { a.AutoTrading = false },
			check:  "auto_trading",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, req, acct, q, now := gateFixtures()
			tt.mutate(&req, &acct, &q)

			d := evaluateGate(cfg, req, acct, q, nil, 0, now)

			require.False(t, d.Allowed)
			assert.True(t, strings.HasPrefix(d.Reason, tt.check+":"),
				"reason %q should name check %s", d.Reason, tt.check)
		})
	}
}

func TestGate_MaxOpenPositions(t *testing.T) {
	cfg, req, acct, q, now := gateFixtures()
	cfg.MaxOpenPositions = 3

	d := evaluateGate(cfg, req, acct, q, nil, 2, now)
	assert.True(t, d.Allowed)

	d = evaluateGate(cfg, req, acct, q, nil, 3, now)
	require.False(t, d.Allowed)
	assert.True(t, strings.HasPrefix(d.Reason, "max_positions:"))
	assert.Contains(t, d.Reason, "cap is 3")
}

func TestGate_NewsWindow(t *testing.T) {
	cfg, req, acct, q, now := gateFixtures()

	highUSD := func(at time.Time) broker.NewsEvent {
		return broker.NewsEvent{Currency: "USD", Title: "Non-Farm Payrolls", Impact: "HIGH", Time: at}
	}

	t.Run("high impact on a currency leg rejects", func(t *testing.T) {
		d := evaluateGate(cfg, req, acct, q, []broker.NewsEvent{highUSD(now.Add(10 * time.Minute))}, 0, now)
		require.False(t, d.Allowed)
		assert.True(t, strings.HasPrefix(d.Reason, "news:"))
		assert.Contains(t, d.Reason, "Non-Farm Payrolls")
	})

	t.Run("low impact passes", func(t *testing.T) {
		ev := broker.NewsEvent{Currency: "USD", Title: "Minor print", Impact: "LOW", Time: now.Add(10 * time.Minute)}
		d := evaluateGate(cfg, req, acct, q, []broker.NewsEvent{ev}, 0, now)
		assert.True(t, d.Allowed)
	})

	t.Run("outside the window passes", func(t *testing.T) {
		d := evaluateGate(cfg, req, acct, q, []broker.NewsEvent{highUSD(now.Add(45 * time.Minute))}, 0, now)
		assert.True(t, d.Allowed)
	})

	t.Run("already released passes", func(t *testing.T) {
		d := evaluateGate(cfg, req, acct, q, []broker.NewsEvent{highUSD(now.Add(-10 * time.Minute))}, 0, now)
		assert.True(t, d.Allowed)
	})

	t.Run("affected pair match rejects without a leg match", func(t *testing.T) {
		ev := broker.NewsEvent{
			Currency: "JPY", Title: "BoJ rate decision", Impact: "HIGH",
			AffectedPairs: []string{"EURUSD"}, Time: now.Add(10 * time.Minute),
		}
		d := evaluateGate(cfg, req, acct, q, []broker.NewsEvent{ev}, 0, now)
		require.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "BoJ rate decision")
	})
}

func TestCheckEntry_CountsAndAuditsRejections(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetQuote(broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	h.cycle(t) // pin the risk day before counting rejections

	_, req, _, _, _ := gateFixtures()
	req.StopLoss = 0

	d, err := h.mgr.CheckEntry(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, h.mgr.Risk().InvalidatedTrades)
	assert.Contains(t, h.auditActions(), "entry_rejected")
}

func TestCheckEntry_CalendarFailureRejects(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetQuote(broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	h.cycle(t)
	h.news.err = errors.New("calendar: http 500")

	_, req, _, _, _ := gateFixtures()

	d, err := h.mgr.CheckEntry(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "an unreadable calendar must fail safe")
	assert.Contains(t, d.Reason, "calendar unavailable")
	assert.Equal(t, 1, h.mgr.Risk().InvalidatedTrades)
}

func TestCheckEntry_VenueBreakerRejects(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetQuote(broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	h.cycle(t)
	h.down = true

	_, req, _, _, _ := gateFixtures()

	d, err := h.mgr.CheckEntry(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "circuit breaker open")
}

func TestCheckEntry_RejectsAtPositionCap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxOpenPositions = 1 })
	openBuy(h, "p1", "GBPUSD", 0.1, 1.2500, 1.2450, 1.2600, 2)
	h.paper.SetQuote(broker.Quote{Symbol: "GBPUSD", Bid: 1.2500, Ask: 1.2502})
	h.paper.SetQuote(broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	h.cycle(t) // p1 is now managed

	_, req, _, _, _ := gateFixtures()

	d, err := h.mgr.CheckEntry(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, strings.HasPrefix(d.Reason, "max_positions:"))
	assert.Equal(t, 1, h.mgr.Risk().InvalidatedTrades)
}

func TestCheckEntry_AllowsCleanRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetQuote(broker.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	h.cycle(t)

	_, req, _, _, _ := gateFixtures()

	d, err := h.mgr.CheckEntry(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, h.mgr.Risk().InvalidatedTrades)
}
