package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
)

// MonteCarloConfig controls random search.
type MonteCarloConfig struct {
	Iterations int   `yaml:"iterations" json:"iterations"`
	Workers    int   `yaml:"workers" json:"workers"`
	Seed       int64 `yaml:"seed" json:"seed"` // 0 means time-based
}

// DefaultMonteCarloConfig returns the stock search settings.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Iterations: 200,
		Workers:    4,
	}
}

// MonteCarloResult holds every sampled trial plus the running best.
type MonteCarloResult struct {
	Best        *Sample       `json:"best,omitempty"` // nil when every trial failed
	Samples     []Sample      `json:"samples"`
	Evaluations int           `json:"evaluations"`
	Elapsed     time.Duration `json:"elapsed"`
}

// MonteCarlo samples the spec uniformly for N iterations, simulates each
// materialized set, and tracks the best by shared fitness. All samples are
// retained, including failed trials. Sampling happens up front from a single
// seeded source, so the drawn parameter sets are reproducible regardless of
// worker count.
func MonteCarlo(ctx context.Context, series *bars.Series, strategy backtest.StrategyFunc, spec Spec, simCfg backtest.Config, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("monte carlo: %w", err)
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("monte carlo: iterations must be positive, got %d", cfg.Iterations)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducible sampling, not crypto

	start := time.Now()
	log.Info().
		Int("iterations", cfg.Iterations).
		Int("workers", cfg.Workers).
		Int("ranged_params", len(spec.Ranges())).
		Msg("Starting Monte Carlo parameter search")

	sets := make([]backtest.Params, cfg.Iterations)
	for i := range sets {
		sets[i] = spec.Materialize(rng)
	}

	samples := evalAll(ctx, series, strategy, sets, simCfg, cfg.Workers)

	result := &MonteCarloResult{
		Samples:     samples,
		Evaluations: len(samples),
		Elapsed:     time.Since(start),
	}
	if best := bestOf(samples); best >= 0 {
		s := samples[best]
		result.Best = &s
	}

	failed := 0
	for _, s := range samples {
		if s.Failed() {
			failed++
		}
	}
	evt := log.Info().
		Int("evaluations", result.Evaluations).
		Int("failed_trials", failed).
		Dur("elapsed", result.Elapsed)
	if result.Best != nil {
		evt = evt.Float64("best_score", result.Best.Score)
	}
	evt.Msg("Monte Carlo search complete")

	return result, nil
}
