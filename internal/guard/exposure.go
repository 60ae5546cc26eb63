package guard

import (
	"sort"
	"strings"

	"github.com/sawpanic/alphaguard/internal/broker"
)

// currencyLegs splits a symbol into its base and quote currencies. Venue
// suffixes after a dot ("EURUSD.m") are stripped first. Symbols that do not
// decompose into two three-letter legs are skipped by exposure control.
func currencyLegs(symbol string) (base, quote string, ok bool) {
	s := symbol
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if len(s) != 6 {
		return "", "", false
	}
	s = strings.ToUpper(s)
	return s[:3], s[3:], true
}

// netExposure sums signed volume per currency across positions. A long
// position is long the base and short the quote; a short position is the
// reverse. The result is in lots, signed.
func netExposure(positions []*ManagedPosition) map[string]float64 {
	net := make(map[string]float64)
	for _, p := range positions {
		base, quote, ok := currencyLegs(p.Symbol)
		if !ok {
			continue
		}
		sign := 1.0
		if p.Side == broker.Sell {
			sign = -1.0
		}
		net[base] += sign * p.Volume
		net[quote] -= sign * p.Volume
	}
	return net
}

// exposureBreaches lists currencies whose net exposure notional exceeds the
// configured multiple of balance, worst first.
func (c Config) exposureBreaches(net map[string]float64, balance float64) []Breach {
	limit := balance * c.ExposureCapMult
	var out []Breach
	for ccy, lots := range net {
		notional := abs(lots) * c.ContractSize
		if notional > limit {
			out = append(out, Breach{
				Kind:   BreachCurrencyExposure,
				Value:  notional,
				Limit:  limit,
				Detail: ccy,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Detail < out[j].Detail
	})
	return out
}

// touchesCurrency reports whether the position has the currency as a leg.
func touchesCurrency(p *ManagedPosition, ccy string) bool {
	base, quote, ok := currencyLegs(p.Symbol)
	if !ok {
		return false
	}
	return base == ccy || quote == ccy
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
