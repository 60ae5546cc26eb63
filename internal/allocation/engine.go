package allocation

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/clock"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Config holds the allocation policy.
type Config struct {
	MaxDrawdown       float64       `yaml:"max_drawdown" json:"max_drawdown"`
	MinTrades         int           `yaml:"min_trades" json:"min_trades"`
	MaxPerAlpha       float64       `yaml:"max_per_alpha" json:"max_per_alpha"`
	WeightWinRate     float64       `yaml:"weight_win_rate" json:"weight_win_rate"`
	WeightSharpe      float64       `yaml:"weight_sharpe" json:"weight_sharpe"`
	WeightReturn      float64       `yaml:"weight_return" json:"weight_return"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval" json:"rebalance_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxDrawdown:       0.20,
		MinTrades:         5,
		MaxPerAlpha:       0.50,
		WeightWinRate:     0.4,
		WeightSharpe:      0.3,
		WeightReturn:      0.3,
		RebalanceInterval: 4 * time.Hour,
	}
}

func (c Config) Validate() error {
	if c.MaxDrawdown <= 0 || c.MaxDrawdown >= 1 {
		return fmt.Errorf("max_drawdown must be in (0, 1), got %.2f", c.MaxDrawdown)
	}
	if c.MinTrades < 1 {
		return fmt.Errorf("min_trades must be at least 1, got %d", c.MinTrades)
	}
	if c.MaxPerAlpha <= 0 || c.MaxPerAlpha > 1 {
		return fmt.Errorf("max_per_alpha must be in (0, 1], got %.2f", c.MaxPerAlpha)
	}
	sum := c.WeightWinRate + c.WeightSharpe + c.WeightReturn
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("score weights must sum to 1, got %.3f", sum)
	}
	if c.RebalanceInterval <= 0 {
		return fmt.Errorf("rebalance_interval must be positive, got %s", c.RebalanceInterval)
	}
	return nil
}

// AllocationResult is one alpha's weight from a single computation pass.
// It is recomputed fresh on every call and never persisted as truth.
type AllocationResult struct {
	AlphaID     string           `json:"alpha_id"`
	Allocation  float64          `json:"allocation"`
	Reason      string           `json:"reason,omitempty"`
	RiskLevel   RiskLevel        `json:"risk_level"`
	Performance AlphaPerformance `json:"performance"`
}

// PerformanceSource supplies the per-alpha statistics to allocate against.
type PerformanceSource interface {
	Snapshot() map[string]AlphaPerformance
}

// Engine computes capital weights across alphas. It never schedules
// itself; the caller asks ShouldRebalance and invokes Rebalance.
type Engine struct {
	cfg    Config
	source PerformanceSource
	clk    clock.Clock

	mu            sync.Mutex
	lastRebalance time.Time
}

func NewEngine(cfg Config, source PerformanceSource, clk clock.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("allocation config: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{cfg: cfg, source: source, clk: clk}, nil
}

// ShouldRebalance reports whether the configured interval has elapsed
// since the last rebalance.
func (e *Engine) ShouldRebalance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clk.Now().Sub(e.lastRebalance) >= e.cfg.RebalanceInterval
}

// Rebalance computes fresh allocations and stamps the rebalance time.
func (e *Engine) Rebalance() []AllocationResult {
	results := e.Allocations()

	e.mu.Lock()
	e.lastRebalance = e.clk.Now()
	e.mu.Unlock()

	active, excluded, total := 0, 0, 0.0
	for _, r := range results {
		if r.Reason == "" {
			active++
			total += r.Allocation
		} else {
			excluded++
		}
	}
	log.Info().
		Int("active", active).
		Int("excluded", excluded).
		Float64("total_weight", total).
		Msg("allocation rebalance")
	return results
}

// Allocations computes weights without stamping the rebalance time, for
// read-only inspection.
func (e *Engine) Allocations() []AllocationResult {
	perfs := e.source.Snapshot()

	ids := make([]string, 0, len(perfs))
	for id := range perfs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]AllocationResult, 0, len(ids))
	scores := make(map[string]float64)
	scoreSum := 0.0

	for _, id := range ids {
		perf := perfs[id]
		res := AllocationResult{
			AlphaID:     id,
			RiskLevel:   riskLevelFor(perf),
			Performance: perf,
		}
		if reason := e.exclusionReason(perf); reason != "" {
			res.Reason = reason
			results = append(results, res)
			continue
		}
		score := e.score(perf)
		scores[id] = score
		scoreSum += score
		results = append(results, res)
	}

	if scoreSum <= 0 {
		return results
	}

	// Proportional split, clipped to the per-alpha cap, then renormalized
	// across survivors and clipped once more so the cap invariant holds.
	clippedSum := 0.0
	for i := range results {
		if results[i].Reason != "" {
			continue
		}
		raw := scores[results[i].AlphaID] / scoreSum
		results[i].Allocation = math.Min(raw, e.cfg.MaxPerAlpha)
		clippedSum += results[i].Allocation
	}
	if clippedSum > 0 {
		for i := range results {
			if results[i].Reason != "" {
				continue
			}
			results[i].Allocation = math.Min(results[i].Allocation/clippedSum, e.cfg.MaxPerAlpha)
		}
	}
	return results
}

func (e *Engine) exclusionReason(perf AlphaPerformance) string {
	if perf.MaxDrawdown > e.cfg.MaxDrawdown {
		return fmt.Sprintf("drawdown %.1f%% exceeds %.1f%% cap",
			perf.MaxDrawdown*100, e.cfg.MaxDrawdown*100)
	}
	if perf.TotalTrades < e.cfg.MinTrades {
		return fmt.Sprintf("only %d trades, minimum %d", perf.TotalTrades, e.cfg.MinTrades)
	}
	losses := 0
	for _, profit := range perf.RecentTrades {
		if profit < 0 {
			losses++
		}
	}
	if losses >= 3 {
		return fmt.Sprintf("%d of last %d trades are losses", losses, len(perf.RecentTrades))
	}
	return ""
}

func (e *Engine) score(perf AlphaPerformance) float64 {
	return e.cfg.WeightWinRate*clamp01(perf.WinRate) +
		e.cfg.WeightSharpe*clamp01((perf.SharpeRatio+2)/4) +
		e.cfg.WeightReturn*clamp01((perf.AvgReturn+0.1)/0.2)
}

func riskLevelFor(perf AlphaPerformance) RiskLevel {
	switch {
	case perf.WinRate >= 0.6 && perf.SharpeRatio >= 1.0 && perf.MaxDrawdown <= 0.05:
		return RiskLow
	case perf.WinRate >= 0.5 && perf.SharpeRatio >= 0.5 && perf.MaxDrawdown <= 0.10:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
