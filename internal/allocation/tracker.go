// Package allocation scores competing alphas on rolling performance and
// turns those scores into capital weights. Unsafe alphas are excluded
// outright rather than down-weighted.
package allocation

import (
	"math"
	"sync"
	"time"
)

// meaningfulTrades is the sample size below which an alpha's statistics
// are treated as noise.
const meaningfulTrades = 5

// recentWindow is how many of the latest trade results feed the
// loss-streak exclusion.
const recentWindow = 5

// TradeOutcome is one realized trade attributed to an alpha. Return is the
// profit as a fraction of account equity at close time.
type TradeOutcome struct {
	AlphaID  string
	Name     string
	Profit   float64
	Return   float64
	ClosedAt time.Time
}

// AlphaPerformance is the rolling record for one alpha.
type AlphaPerformance struct {
	AlphaID      string    `json:"alpha_id"`
	Name         string    `json:"name"`
	WinRate      float64   `json:"win_rate"`
	AvgReturn    float64   `json:"avg_return"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	TotalTrades  int       `json:"total_trades"`
	RecentTrades []float64 `json:"recent_trades"`
	LastTradeAt  time.Time `json:"last_trade_at"`
}

// Meaningful reports whether enough trades have accumulated for the
// statistics to carry weight.
func (p AlphaPerformance) Meaningful() bool { return p.TotalTrades >= meaningfulTrades }

func (p AlphaPerformance) clone() AlphaPerformance {
	cp := p
	cp.RecentTrades = append([]float64(nil), p.RecentTrades...)
	return cp
}

type alphaState struct {
	perf    AlphaPerformance
	wins    int
	sumRet  float64
	returns []float64
	equity  float64
	peak    float64
}

// Tracker aggregates closed trades per alpha. It is the only writer of the
// performance map; readers get copies.
type Tracker struct {
	mu     sync.Mutex
	alphas map[string]*alphaState
}

func NewTracker() *Tracker {
	return &Tracker{alphas: make(map[string]*alphaState)}
}

// Record folds one closed trade into the alpha's rolling statistics.
func (t *Tracker) Record(out TradeOutcome) {
	if out.AlphaID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.alphas[out.AlphaID]
	if !ok {
		st = &alphaState{
			perf:   AlphaPerformance{AlphaID: out.AlphaID, Name: out.Name},
			equity: 1.0,
			peak:   1.0,
		}
		t.alphas[out.AlphaID] = st
	}
	if out.Name != "" {
		st.perf.Name = out.Name
	}

	st.perf.TotalTrades++
	st.perf.LastTradeAt = out.ClosedAt
	if out.Profit > 0 {
		st.wins++
	}
	st.sumRet += out.Return
	st.returns = append(st.returns, out.Return)

	st.perf.RecentTrades = append(st.perf.RecentTrades, out.Profit)
	if len(st.perf.RecentTrades) > recentWindow {
		st.perf.RecentTrades = st.perf.RecentTrades[len(st.perf.RecentTrades)-recentWindow:]
	}

	st.equity *= 1 + out.Return
	if st.equity > st.peak {
		st.peak = st.equity
	}
	if st.peak > 0 {
		if dd := (st.peak - st.equity) / st.peak; dd > st.perf.MaxDrawdown {
			st.perf.MaxDrawdown = dd
		}
	}

	n := float64(st.perf.TotalTrades)
	st.perf.WinRate = float64(st.wins) / n
	st.perf.AvgReturn = st.sumRet / n
	st.perf.SharpeRatio = tradeSharpe(st.returns)
}

// tradeSharpe is mean over population stddev of per-trade returns, with no
// annualization. Values land roughly in [-2, 2] for realistic alphas.
func tradeSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

// Snapshot returns a deep copy of every alpha's performance.
func (t *Tracker) Snapshot() map[string]AlphaPerformance {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]AlphaPerformance, len(t.alphas))
	for id, st := range t.alphas {
		out[id] = st.perf.clone()
	}
	return out
}

// Get returns a copy of one alpha's performance.
func (t *Tracker) Get(alphaID string) (AlphaPerformance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.alphas[alphaID]
	if !ok {
		return AlphaPerformance{}, false
	}
	return st.perf.clone(), true
}
