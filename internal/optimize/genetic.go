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

// GeneticConfig controls the evolutionary search.
type GeneticConfig struct {
	PopulationSize int     `yaml:"population_size" json:"population_size"`
	Generations    int     `yaml:"generations" json:"generations"`
	MutationRate   float64 `yaml:"mutation_rate" json:"mutation_rate"`
	Workers        int     `yaml:"workers" json:"workers"`
	Seed           int64   `yaml:"seed" json:"seed"` // 0 means time-based
}

// DefaultGeneticConfig returns the stock GA settings.
func DefaultGeneticConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize: 40,
		Generations:    15,
		MutationRate:   0.10,
		Workers:        4,
	}
}

// GenerationStats records per-generation progress for diagnostics.
type GenerationStats struct {
	Generation int     `json:"generation"`
	BestScore  float64 `json:"best_score"`
	AvgScore   float64 `json:"avg_score"`
}

// GeneticResult is the outcome of one GA run. Best comes from the final
// re-evaluation pass; History tracks each generation.
type GeneticResult struct {
	Best        Sample            `json:"best"`
	History     []GenerationStats `json:"history"`
	Evaluations int               `json:"evaluations"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// mutationSpan is the fraction of a gene's range a single mutation may move
// it, before clamping.
const mutationSpan = 0.10

// tournamentSize is the number of uniform draws per parent selection.
const tournamentSize = 3

// Genetic evolves a population over the spec: tournament selection of half
// the population as parents, per-key uniform crossover, and clamped numeric
// mutation. After the final generation the population is re-evaluated once
// and the best individual of that pass is returned.
func Genetic(ctx context.Context, series *bars.Series, strategy backtest.StrategyFunc, spec Spec, simCfg backtest.Config, cfg GeneticConfig) (*GeneticResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("genetic: %w", err)
	}
	if cfg.PopulationSize < 2 {
		return nil, fmt.Errorf("genetic: population size must be at least 2, got %d", cfg.PopulationSize)
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("genetic: generations must be positive, got %d", cfg.Generations)
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("genetic: mutation rate must be in [0,1], got %.4f", cfg.MutationRate)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducible evolution, not crypto

	start := time.Now()
	log.Info().
		Int("population", cfg.PopulationSize).
		Int("generations", cfg.Generations).
		Float64("mutation_rate", cfg.MutationRate).
		Msg("Starting genetic parameter search")

	population := make([]backtest.Params, cfg.PopulationSize)
	for i := range population {
		population[i] = spec.Materialize(rng)
	}

	result := &GeneticResult{History: make([]GenerationStats, 0, cfg.Generations)}

	for gen := 0; gen < cfg.Generations; gen++ {
		evaluated := evalAll(ctx, series, strategy, population, simCfg, cfg.Workers)
		result.Evaluations += len(evaluated)
		result.History = append(result.History, generationStats(gen, evaluated))

		log.Debug().
			Int("generation", gen+1).
			Float64("best_score", result.History[gen].BestScore).
			Float64("avg_score", result.History[gen].AvgScore).
			Msg("Generation evaluated")

		parents := selectParents(rng, evaluated, cfg.PopulationSize/2)
		next := make([]backtest.Params, cfg.PopulationSize)
		for i := range next {
			a := parents[rng.Intn(len(parents))]
			b := parents[rng.Intn(len(parents))]
			child := crossover(rng, spec, a, b)
			mutate(rng, spec, child, cfg.MutationRate)
			next[i] = child
		}
		population = next
	}

	// Final pass: re-evaluate the last population and pick its best.
	final := evalAll(ctx, series, strategy, population, simCfg, cfg.Workers)
	result.Evaluations += len(final)
	if best := bestOf(final); best >= 0 {
		result.Best = final[best]
	} else {
		// Every trial failed; return the first sample so the caller can see why.
		result.Best = final[0]
	}
	result.Elapsed = time.Since(start)

	log.Info().
		Int("evaluations", result.Evaluations).
		Float64("best_score", result.Best.Score).
		Dur("elapsed", result.Elapsed).
		Msg("Genetic search complete")

	return result, nil
}

func generationStats(gen int, evaluated []Sample) GenerationStats {
	stats := GenerationStats{Generation: gen + 1, BestScore: FailedFitness}
	sum := 0.0
	for _, s := range evaluated {
		if !s.Failed() && s.Score > stats.BestScore {
			stats.BestScore = s.Score
		}
		sum += s.Score
	}
	if len(evaluated) > 0 {
		stats.AvgScore = sum / float64(len(evaluated))
	}
	return stats
}

// selectParents runs repeated 3-way tournaments: best fitness of three
// uniform draws wins each slot.
func selectParents(rng *rand.Rand, evaluated []Sample, count int) []backtest.Params {
	if count < 1 {
		count = 1
	}
	parents := make([]backtest.Params, count)
	for i := 0; i < count; i++ {
		best := evaluated[rng.Intn(len(evaluated))]
		for d := 1; d < tournamentSize; d++ {
			contender := evaluated[rng.Intn(len(evaluated))]
			if contender.Score > best.Score {
				best = contender
			}
		}
		parents[i] = best.Params
	}
	return parents
}

// crossover picks each key from either parent with equal probability.
func crossover(rng *rand.Rand, spec Spec, a, b backtest.Params) backtest.Params {
	child := make(backtest.Params, len(spec))
	for _, key := range spec.Keys() {
		if rng.Float64() < 0.5 {
			child[key] = a[key]
		} else {
			child[key] = b[key]
		}
	}
	return child
}

// mutate perturbs each ranged gene with probability rate by a uniform step
// within ±10% of its range, clamped to the range bounds. Constant genes
// never mutate.
func mutate(rng *rand.Rand, spec Spec, individual backtest.Params, rate float64) {
	for _, key := range spec.Ranges() {
		if rng.Float64() >= rate {
			continue
		}
		r := spec[key].(Range)
		current, ok := individual.Float(key)
		if !ok {
			continue
		}
		step := (rng.Float64()*2 - 1) * mutationSpan * (r.Max - r.Min)
		mutated := current + step
		if mutated < r.Min {
			mutated = r.Min
		}
		if mutated > r.Max {
			mutated = r.Max
		}
		individual[key] = mutated
	}
}
