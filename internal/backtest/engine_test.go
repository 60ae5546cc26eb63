package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/internal/bars"
)

func flatSeries(t *testing.T, n int, price float64) *bars.Series {
	t.Helper()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bs := make([]bars.Bar, n)
	for i := 0; i < n; i++ {
		bs[i] = bars.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 100,
		}
	}
	s, err := bars.NewSeries("EURUSD", bars.TimeframeH1, bs)
	require.NoError(t, err)
	return s
}

func neverSignal(*bars.Series, Params, int) *Signal { return nil }

func TestRun_NeverSignals(t *testing.T) {
	series := flatSeries(t, 10, 100)
	cfg := DefaultConfig()
	cfg.InitialCapital = 10000

	res, err := Run(series, neverSignal, Params{}, cfg)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Nil(t, res.OpenAtEnd)
	require.Len(t, res.EquityCurve, 11)
	for i, eq := range res.EquityCurve {
		assert.Equal(t, 10000.0, eq, "equity at %d", i)
	}
	for _, dd := range res.DrawdownCurve {
		assert.Equal(t, 0.0, dd)
	}
	assert.Equal(t, PerformanceMetrics{}, res.Metrics)
}

func TestRun_AlternatingSignalsCloseOnReversal(t *testing.T) {
	series := flatSeries(t, 10, 100)
	alternating := func(s *bars.Series, p Params, i int) *Signal {
		dir := Buy
		if i%2 == 1 {
			dir = Sell
		}
		return &Signal{Symbol: s.Symbol, Direction: dir}
	}
	cfg := DefaultConfig()
	cfg.Slippage = 0
	cfg.CommissionRate = 0

	res, err := Run(series, alternating, Params{}, cfg)
	require.NoError(t, err)

	assert.Len(t, res.Trades, 5) // floor(10/2)
	for _, tr := range res.Trades {
		assert.Equal(t, ExitReversal.String(), tr.ExitReason)
	}
	assert.Nil(t, res.OpenAtEnd)
}

func TestRun_FinalBarPositionFlaggedNotRealized(t *testing.T) {
	series := flatSeries(t, 11, 100)
	alternating := func(s *bars.Series, p Params, i int) *Signal {
		dir := Buy
		if i%2 == 1 {
			dir = Sell
		}
		return &Signal{Symbol: s.Symbol, Direction: dir}
	}

	res, err := Run(series, alternating, Params{}, DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, res.Trades, 5)
	require.NotNil(t, res.OpenAtEnd)
	assert.Equal(t, Buy, res.OpenAtEnd.Direction)
	assert.Equal(t, series.At(10).Time, res.OpenAtEnd.EntryTime)
}

func TestRun_TakeProfitFill(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bs := []bars.Bar{
		{Time: start, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{Time: start.Add(time.Hour), Open: 100, High: 111, Low: 99, Close: 108, Volume: 1},
	}
	series, err := bars.NewSeries("EURUSD", bars.TimeframeH1, bs)
	require.NoError(t, err)

	once := func(s *bars.Series, p Params, i int) *Signal {
		if i == 0 {
			return &Signal{Direction: Buy, TakeProfit: 110}
		}
		return nil
	}
	cfg := Config{InitialCapital: 10000, PositionFraction: 0.10, CommissionRate: 0.001, Slippage: 0}

	res, err := Run(series, once, Params{}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitTakeProfit.String(), tr.ExitReason)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 110.0, tr.ExitPrice)
	assert.InDelta(t, 10.0, tr.Quantity, 1e-9) // 10% of 10000 at price 100
	assert.InDelta(t, 1.0, tr.Commission, 1e-9)
	assert.InDelta(t, 99.0, tr.Profit, 1e-9) // (110-100)*10 - 1
	assert.InDelta(t, 10099.0, res.EquityCurve[len(res.EquityCurve)-1], 1e-9)
}

func TestRun_StopLossBeatsTakeProfitSameBar(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bs := []bars.Bar{
		{Time: start, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: start.Add(time.Hour), Open: 100, High: 106, Low: 94, Close: 100, Volume: 1},
	}
	series, err := bars.NewSeries("EURUSD", bars.TimeframeH1, bs)
	require.NoError(t, err)

	once := func(s *bars.Series, p Params, i int) *Signal {
		if i == 0 {
			return &Signal{Direction: Buy, StopLoss: 95, TakeProfit: 105}
		}
		return nil
	}
	cfg := Config{InitialCapital: 10000, PositionFraction: 0.10, CommissionRate: 0, Slippage: 0}

	res, err := Run(series, once, Params{}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitStopLoss.String(), res.Trades[0].ExitReason)
	assert.Equal(t, 95.0, res.Trades[0].ExitPrice)
	assert.Less(t, res.Trades[0].Profit, 0.0)
}

func TestRun_SellSideStops(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bs := []bars.Bar{
		{Time: start, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: start.Add(time.Hour), Open: 100, High: 103, Low: 97, Close: 100, Volume: 1},
	}
	series, err := bars.NewSeries("GBPUSD", bars.TimeframeH1, bs)
	require.NoError(t, err)

	once := func(s *bars.Series, p Params, i int) *Signal {
		if i == 0 {
			return &Signal{Direction: Sell, StopLoss: 102, TakeProfit: 90}
		}
		return nil
	}
	cfg := Config{InitialCapital: 10000, PositionFraction: 0.10, CommissionRate: 0, Slippage: 0}

	res, err := Run(series, once, Params{}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	// Bar high breached the SELL stop before the target could fill.
	assert.Equal(t, ExitStopLoss.String(), res.Trades[0].ExitReason)
	assert.Equal(t, 102.0, res.Trades[0].ExitPrice)
}

func TestRun_SlippageAgainstTrader(t *testing.T) {
	series := flatSeries(t, 3, 100)
	buyOnce := func(s *bars.Series, p Params, i int) *Signal {
		if i == 0 {
			return &Signal{Direction: Buy}
		}
		return nil
	}
	cfg := Config{InitialCapital: 10000, PositionFraction: 0.10, CommissionRate: 0, Slippage: 0.001}

	res, err := Run(series, buyOnce, Params{}, cfg)
	require.NoError(t, err)

	require.NotNil(t, res.OpenAtEnd)
	assert.InDelta(t, 100.1, res.OpenAtEnd.EntryPrice, 1e-9)

	sellOnce := func(s *bars.Series, p Params, i int) *Signal {
		if i == 0 {
			return &Signal{Direction: Sell}
		}
		return nil
	}
	res, err = Run(series, sellOnce, Params{}, cfg)
	require.NoError(t, err)
	require.NotNil(t, res.OpenAtEnd)
	assert.InDelta(t, 99.9, res.OpenAtEnd.EntryPrice, 1e-9)
}

func TestRun_InvalidInputs(t *testing.T) {
	series := flatSeries(t, 5, 100)

	_, err := Run(nil, neverSignal, Params{}, DefaultConfig())
	assert.ErrorIs(t, err, bars.ErrInsufficientData)

	_, err = Run(series, nil, Params{}, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.InitialCapital = 0
	_, err = Run(series, neverSignal, Params{}, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PositionFraction = 1.5
	_, err = Run(series, neverSignal, Params{}, cfg)
	assert.Error(t, err)
}

func TestParamsHelpers(t *testing.T) {
	p := Params{"fast": 12.0, "slow": 26, "wide": true, "mode": "cross"}

	assert.Equal(t, 12.0, p.FloatOr("fast", 0))
	assert.Equal(t, 26.0, p.FloatOr("slow", 0)) // int accepted
	assert.Equal(t, 7.0, p.FloatOr("missing", 7))
	assert.Equal(t, 26, p.IntOr("slow", 0))
	assert.True(t, p.BoolOr("wide", false))
	assert.Equal(t, "cross", p.StringOr("mode", ""))

	c := p.Clone()
	c["fast"] = 5.0
	assert.Equal(t, 12.0, p.FloatOr("fast", 0))
}
