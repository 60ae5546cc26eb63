package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/infra/breakers"
	"github.com/sawpanic/alphaguard/internal/bars"
)

func TestPaper_OpenModifyClose(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)

	id := p.Open(Position{
		Symbol:     "EURUSD",
		Side:       Buy,
		Volume:     1.0,
		EntryPrice: 1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
	})
	require.NotEmpty(t, id)

	require.NoError(t, p.Modify(ctx, id, Modification{StopLoss: 1.1000}))
	pos, ok := p.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, 1.1000, pos.StopLoss)
	assert.Equal(t, 1.1100, pos.TakeProfit, "zero take-profit in the modification leaves the level alone")

	p.SetProfit(id, 50)
	require.NoError(t, p.Close(ctx, id, "manual"))

	_, ok = p.Lookup(id)
	assert.False(t, ok)

	closed := p.ClosedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, 50.0, closed[0].Profit)
	assert.Equal(t, "manual", closed[0].Reason)

	acct, err := p.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10050.0, acct.Balance)
}

func TestPaper_PartialCloseRealizesProportionalProfit(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)
	id := p.Open(Position{Symbol: "EURUSD", Side: Buy, Volume: 1.0, EntryPrice: 1.10})
	p.SetProfit(id, 100)

	require.NoError(t, p.ClosePartial(ctx, id, 0.7, "partial_protect"))

	pos, ok := p.Lookup(id)
	require.True(t, ok)
	assert.InDelta(t, 0.3, pos.Volume, 1e-9)
	assert.InDelta(t, 30, pos.Profit, 1e-9)

	closed := p.ClosedTrades()
	require.Len(t, closed, 1)
	assert.InDelta(t, 0.7, closed[0].Volume, 1e-9)
	assert.InDelta(t, 70, closed[0].Profit, 1e-9)
}

func TestPaper_PartialCloseRejectsBadVolume(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)
	id := p.Open(Position{Symbol: "EURUSD", Side: Buy, Volume: 1.0})

	assert.Error(t, p.ClosePartial(ctx, id, 0, "x"))
	assert.Error(t, p.ClosePartial(ctx, id, 1.0, "x"), "full volume must go through Close")
	assert.Error(t, p.ClosePartial(ctx, id, -0.5, "x"))
}

func TestPaper_UnknownPosition(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)

	assert.ErrorIs(t, p.Modify(ctx, "nope", Modification{StopLoss: 1}), ErrPositionNotFound)
	assert.ErrorIs(t, p.Close(ctx, "nope", "x"), ErrPositionNotFound)
	assert.ErrorIs(t, p.ClosePartial(ctx, "nope", 0.5, "x"), ErrPositionNotFound)
}

func TestPaper_PositionsSortedByOpenTime(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	p.Open(Position{ID: "b", Symbol: "GBPUSD", Side: Sell, Volume: 1, OpenedAt: base.Add(time.Minute)})
	p.Open(Position{ID: "a", Symbol: "EURUSD", Side: Buy, Volume: 1, OpenedAt: base})

	got, err := p.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestPaper_AutoTradingToggle(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)

	require.NoError(t, p.SetAutoTrading(ctx, false))
	acct, err := p.Account(ctx)
	require.NoError(t, err)
	assert.False(t, acct.AutoTrading)
}

func TestQuote_Spread(t *testing.T) {
	q := Quote{Bid: 1.1000, Ask: 1.1002}
	assert.InDelta(t, 0.0002, q.Spread(), 1e-9)
}

func TestPosition_NetProfitIncludesSwapAndCommission(t *testing.T) {
	pos := Position{Profit: 50, Swap: -3, Commission: -7}
	assert.InDelta(t, 40, pos.NetProfit(), 1e-9)

	ctx := context.Background()
	p := NewPaper(10000)
	id := p.Open(pos)
	require.NoError(t, p.Close(ctx, id, "manual"))

	closed := p.ClosedTrades()
	require.Len(t, closed, 1)
	assert.InDelta(t, 40, closed[0].Profit, 1e-9)
	acct, err := p.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10040, acct.Balance, 1e-9)
}

func TestStructureSignals(t *testing.T) {
	assert.False(t, StructureSignals{}.Shifted())
	assert.Equal(t, "intact", StructureSignals{}.String())

	sig := StructureSignals{TrendBreak: true, MomentumDivergence: true}
	assert.True(t, sig.Shifted())
	assert.Equal(t, "trend_break,momentum_divergence", sig.String())
	assert.True(t, StructureSignals{EMAFlip: true}.Shifted())
}

func TestPaper_HistoricalATRFallsBackToLiveReading(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)

	_, err := p.HistoricalATR(ctx, "EURUSD", bars.TimeframeH1, 30, 30)
	require.Error(t, err)

	p.SetATR("EURUSD", 0.0012)
	v, err := p.HistoricalATR(ctx, "EURUSD", bars.TimeframeH1, 30, 30)
	require.NoError(t, err)
	assert.InDelta(t, 0.0012, v, 1e-9)

	p.SetHistoricalATR("EURUSD", 0.0009)
	v, err = p.HistoricalATR(ctx, "EURUSD", bars.TimeframeH1, 30, 30)
	require.NoError(t, err)
	assert.InDelta(t, 0.0009, v, 1e-9)
}

func TestProtected_PassesCallsThrough(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)
	id := p.Open(Position{Symbol: "EURUSD", Side: Buy, Volume: 1})
	p.SetQuote(Quote{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001})

	prot := Protect(p, breakers.NewRegistry(), "paper", 100, 10)

	got, err := prot.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)

	q, err := prot.Quote(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.1001, q.Ask)

	require.NoError(t, prot.SetAutoTrading(ctx, false))
	acct, err := prot.Account(ctx)
	require.NoError(t, err)
	assert.False(t, acct.AutoTrading)
}

func TestProtected_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000)
	prot := Protect(p, breakers.NewRegistry(), "paper", 1000, 100)

	venueDown := errors.New("venue down")
	for i := 0; i < 3; i++ {
		p.FailNext("account", venueDown)
		_, err := prot.Account(ctx)
		assert.ErrorIs(t, err, venueDown)
	}

	assert.True(t, prot.Breaker().Open())

	// The venue is healthy again but the open circuit still rejects.
	_, err := prot.Account(ctx)
	assert.Error(t, err)
}

func TestProtected_RateLimitHonorsContext(t *testing.T) {
	p := NewPaper(10000)
	// One token per hour: the first call drains the bucket.
	prot := Protect(p, breakers.NewRegistry(), "paper", 1.0/3600, 1)

	_, err := prot.Account(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = prot.Account(ctx)
	assert.Error(t, err, "second call must fail once the context deadline passes")
}
