package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/alphaguard/internal/optimize"
)

func loadSpec(cmd *cobra.Command) (optimize.Spec, error) {
	path, _ := cmd.Flags().GetString("spec")
	if path == "" {
		return nil, fmt.Errorf("--spec is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}
	return optimize.ParseSpec(data)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	series, fn, err := loadSeries(cmd)
	if err != nil {
		return err
	}
	spec, err := loadSpec(cmd)
	if err != nil {
		return err
	}
	method, _ := cmd.Flags().GetString("method")
	seed, _ := cmd.Flags().GetInt64("seed")
	outPath, _ := cmd.Flags().GetString("output")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch method {
	case "montecarlo", "mc":
		mcCfg := cfg.Search.MonteCarlo
		if seed != 0 {
			mcCfg.Seed = seed
		}
		result, err := optimize.MonteCarlo(ctx, series, fn, spec, cfg.Backtest, mcCfg)
		if err != nil {
			return err
		}
		failed := 0
		for _, s := range result.Samples {
			if s.Failed() {
				failed++
			}
		}
		fmt.Printf("Monte Carlo: %d trials (%d failed) in %s\n\n", result.Evaluations, failed, result.Elapsed.Round(time.Millisecond))
		if result.Best == nil {
			fmt.Println("Every trial failed; inspect the sample list in the artifact.")
			return writeArtifact(outPath, result)
		}
		printSample(*result.Best, cfg.Backtest.InitialCapital)
		return writeArtifact(outPath, result)

	case "genetic", "ga":
		gaCfg := cfg.Search.Genetic
		if seed != 0 {
			gaCfg.Seed = seed
		}
		result, err := optimize.Genetic(ctx, series, fn, spec, cfg.Backtest, gaCfg)
		if err != nil {
			return err
		}
		fmt.Printf("Genetic: %d evaluations over %d generations in %s\n",
			result.Evaluations, len(result.History), result.Elapsed.Round(time.Millisecond))
		for _, gen := range result.History {
			fmt.Printf("  gen %2d  best %8.3f  avg %8.3f\n", gen.Generation, gen.BestScore, gen.AvgScore)
		}
		fmt.Println()
		printSample(result.Best, cfg.Backtest.InitialCapital)
		return writeArtifact(outPath, result)

	default:
		return fmt.Errorf("unknown method %q (montecarlo|genetic)", method)
	}
}

func printSample(s optimize.Sample, initialCapital float64) {
	fmt.Printf("Best fitness: %.3f\n", s.Score)
	fmt.Println("Parameters:")
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %v\n", k, s.Params[k])
	}
	fmt.Println()
	printMetrics(s.Metrics, initialCapital)
}
