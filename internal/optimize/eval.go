package optimize

import (
	"context"
	"sync"

	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
)

// Sample is one evaluated trial: the materialized parameters, the fitness
// score, and either the metrics or the failure string.
type Sample struct {
	Params  backtest.Params             `json:"params"`
	Score   float64                     `json:"score"`
	Metrics backtest.PerformanceMetrics `json:"metrics"`
	Err     string                      `json:"error,omitempty"`
}

// Failed reports whether the trial errored during simulation.
func (s Sample) Failed() bool {
	return s.Err != ""
}

// evaluate runs one simulation trial. Errors become failing fitness, never
// a returned error: non-convergence is an outcome, not a fault.
func evaluate(series *bars.Series, strategy backtest.StrategyFunc, params backtest.Params, simCfg backtest.Config) Sample {
	res, err := backtest.Run(series, strategy, params, simCfg)
	if err != nil {
		return Sample{Params: params, Score: FailedFitness, Err: err.Error()}
	}
	return Sample{Params: params, Score: Fitness(res.Metrics), Metrics: res.Metrics}
}

// evalAll evaluates every parameter set over a bounded worker pool. Trials
// are pure functions over the immutable series, so fan-out is safe; results
// keep their input order. A cancelled context stops dispatching further
// trials and marks the rest as failed.
func evalAll(ctx context.Context, series *bars.Series, strategy backtest.StrategyFunc, sets []backtest.Params, simCfg backtest.Config, workers int) []Sample {
	if workers < 1 {
		workers = 1
	}
	results := make([]Sample, len(sets))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, params := range sets {
		if ctx.Err() != nil {
			results[i] = Sample{Params: params, Score: FailedFitness, Err: ctx.Err().Error()}
			continue
		}
		wg.Add(1)
		go func(idx int, ps backtest.Params) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = evaluate(series, strategy, ps, simCfg)
		}(i, params)
	}
	wg.Wait()
	return results
}

// bestOf returns the index of the highest non-failed score, or -1 when every
// trial failed.
func bestOf(samples []Sample) int {
	best := -1
	for i, s := range samples {
		if s.Failed() {
			continue
		}
		if best == -1 || s.Score > samples[best].Score {
			best = i
		}
	}
	return best
}
