package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/internal/broker"
)

func TestCurrencyLegs(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
		ok     bool
	}{
		{"EURUSD", "EUR", "USD", true},
		{"eurusd", "EUR", "USD", true},
		{"EURUSD.m", "EUR", "USD", true},
		{"XAUUSD", "XAU", "USD", true},
		{"GBPJPY", "GBP", "JPY", true},
		{"US30", "", "", false},
		{"EURUSDX", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote, ok := currencyLegs(tt.symbol)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

func TestNetExposure(t *testing.T) {
	positions := []*ManagedPosition{
		{Position: broker.Position{Symbol: "EURUSD", Side: broker.Buy, Volume: 0.5}},
		{Position: broker.Position{Symbol: "EURUSD", Side: broker.Sell, Volume: 0.2}},
		{Position: broker.Position{Symbol: "GBPJPY", Side: broker.Sell, Volume: 0.4}},
		{Position: broker.Position{Symbol: "US30", Side: broker.Buy, Volume: 1.0}}, // no legs, skipped
	}

	net := netExposure(positions)

	assert.InDelta(t, 0.3, net["EUR"], 1e-9)
	assert.InDelta(t, -0.3, net["USD"], 1e-9)
	assert.InDelta(t, -0.4, net["GBP"], 1e-9)
	assert.InDelta(t, 0.4, net["JPY"], 1e-9)
	assert.NotContains(t, net, "US3")
}

func TestExposureBreaches(t *testing.T) {
	cfg := DefaultConfig() // 5x balance cap, 100k contract

	net := map[string]float64{"EUR": 0.9, "USD": -0.9, "JPY": 0.1}
	breaches := cfg.exposureBreaches(net, 10000)

	require.Len(t, breaches, 2, "JPY stays under the 50k limit")
	assert.Equal(t, BreachCurrencyExposure, breaches[0].Kind)
	assert.Equal(t, "EUR", breaches[0].Detail, "ties break alphabetically")
	assert.Equal(t, "USD", breaches[1].Detail)
	assert.InDelta(t, 90000, breaches[0].Value, 1e-6)
	assert.InDelta(t, 50000, breaches[0].Limit, 1e-6)
}
