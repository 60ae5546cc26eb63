package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenetic_EvolvesWithinBounds(t *testing.T) {
	series := risingSeries(t, 40)
	spec := Spec{"gap": Range{Min: 5, Max: 10}, "mode": "cross"}
	cfg := GeneticConfig{PopulationSize: 10, Generations: 4, MutationRate: 0.5, Workers: 4, Seed: 42}

	res, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)

	assert.Len(t, res.History, 4)
	// P evaluations per generation plus the final re-evaluation pass.
	assert.Equal(t, 10*4+10, res.Evaluations)

	require.False(t, res.Best.Failed())
	gap, ok := res.Best.Params.Float("gap")
	require.True(t, ok)
	assert.GreaterOrEqual(t, gap, 5.0)
	assert.LessOrEqual(t, gap, 10.0)
	assert.Equal(t, "cross", res.Best.Params["mode"], "constant genes pass through")

	for _, h := range res.History {
		assert.GreaterOrEqual(t, h.Generation, 1)
		assert.LessOrEqual(t, h.Generation, 4)
	}
}

func TestGenetic_Deterministic(t *testing.T) {
	series := risingSeries(t, 40)
	spec := Spec{"gap": Range{Min: 5, Max: 10}}
	cfg := GeneticConfig{PopulationSize: 8, Generations: 3, MutationRate: 0.3, Workers: 4, Seed: 1234}

	first, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)
	second, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Best.Params, second.Best.Params)
	assert.Equal(t, first.Best.Score, second.Best.Score)
	assert.Equal(t, first.History, second.History)
}

func TestGenetic_SurvivesFailingTrials(t *testing.T) {
	series := risingSeries(t, 40)
	// The low end of the range fails (gap < 5); evolution must still return
	// a survivor.
	spec := Spec{"gap": Range{Min: 4, Max: 10}}
	cfg := GeneticConfig{PopulationSize: 12, Generations: 3, MutationRate: 0.2, Workers: 4, Seed: 9}

	res, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)

	assert.False(t, res.Best.Failed())
	gap, _ := res.Best.Params.Float("gap")
	assert.GreaterOrEqual(t, gap, 5.0)
}

func TestGenetic_AllTrialsFail(t *testing.T) {
	series := risingSeries(t, 40)
	spec := Spec{"gap": Range{Min: 1, Max: 4}}
	cfg := GeneticConfig{PopulationSize: 6, Generations: 2, MutationRate: 0.1, Workers: 2, Seed: 5}

	// Non-convergence is not an error: the failed best is returned for the
	// caller to judge.
	res, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(), cfg)
	require.NoError(t, err)
	assert.True(t, res.Best.Failed())
	assert.NotEmpty(t, res.Best.Err)
}

func TestGenetic_InvalidConfig(t *testing.T) {
	series := risingSeries(t, 10)
	spec := Spec{"gap": Range{Min: 5, Max: 10}}

	_, err := Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(),
		GeneticConfig{PopulationSize: 1, Generations: 2})
	assert.Error(t, err)

	_, err = Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(),
		GeneticConfig{PopulationSize: 4, Generations: 0})
	assert.Error(t, err)

	_, err = Genetic(context.Background(), series, gapStrategy, spec, testSimConfig(),
		GeneticConfig{PopulationSize: 4, Generations: 2, MutationRate: 1.5})
	assert.Error(t, err)
}
