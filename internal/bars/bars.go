// Package bars holds immutable OHLCV series used by the simulator and the
// parameter-search layers.
package bars

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData signals that a series is too short for a required
// lookback. Callers treat it as a recoverable data error, not a fault.
var ErrInsufficientData = errors.New("insufficient historical bars")

// Bar is a single OHLCV bar. Immutable once loaded.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is an ordered bar sequence for one symbol/timeframe.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bars      []Bar     `json:"bars"`
}

// NewSeries validates ordering and returns an immutable series. Bars must be
// strictly ascending in time.
func NewSeries(symbol string, tf Timeframe, bars []Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("series %s: %w", symbol, ErrInsufficientData)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, fmt.Errorf("series %s: bar %d timestamp %s not after previous %s",
				symbol, i, bars[i].Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}
	return &Series{Symbol: symbol, Timeframe: tf, Bars: bars}, nil
}

// Len returns the number of bars.
func (s *Series) Len() int {
	return len(s.Bars)
}

// At returns the bar at index i.
func (s *Series) At(i int) Bar {
	return s.Bars[i]
}

// Slice returns a sub-series over the half-open index range [from, to).
// The underlying bars are shared; bars are never mutated after load.
func (s *Series) Slice(from, to int) (*Series, error) {
	if from < 0 || to > len(s.Bars) || from >= to {
		return nil, fmt.Errorf("series %s: slice [%d,%d) out of range 0..%d: %w",
			s.Symbol, from, to, len(s.Bars), ErrInsufficientData)
	}
	return &Series{Symbol: s.Symbol, Timeframe: s.Timeframe, Bars: s.Bars[from:to]}, nil
}

// Start returns the first bar's timestamp.
func (s *Series) Start() time.Time {
	return s.Bars[0].Time
}

// End returns the last bar's timestamp.
func (s *Series) End() time.Time {
	return s.Bars[len(s.Bars)-1].Time
}
