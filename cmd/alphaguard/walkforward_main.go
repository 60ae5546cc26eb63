package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/alphaguard/internal/walkforward"
)

func runWalkForward(cmd *cobra.Command, args []string) error {
	series, fn, err := loadSeries(cmd)
	if err != nil {
		return err
	}
	spec, err := loadSpec(cmd)
	if err != nil {
		return err
	}

	wfCfg := cfg.WalkForward
	if window, _ := cmd.Flags().GetInt("window"); window > 0 {
		wfCfg.WindowBars = window
	}
	if step, _ := cmd.Flags().GetInt("step"); step > 0 {
		wfCfg.StepBars = step
	}
	if method, _ := cmd.Flags().GetString("method"); method != "" {
		wfCfg.Method = walkforward.Method(method)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := walkforward.Run(ctx, series, fn, spec, cfg.Backtest, wfCfg)
	if err != nil {
		return err
	}

	fmt.Printf("Walk-forward: %d windows (%d skipped), W=%d S=%d, method=%s\n\n",
		len(result.Windows), result.SkippedWindows, wfCfg.WindowBars, wfCfg.StepBars, wfCfg.Method)
	for _, w := range result.Windows {
		fmt.Printf("  window %2d  IS %s..%s net %9.2f | OOS %s..%s net %9.2f (%d trades)\n",
			w.Index,
			w.InSampleStart.Format("2006-01-02"), w.InSampleEnd.Format("2006-01-02"),
			w.InSample.Metrics.NetProfit,
			w.OutSampleStart.Format("2006-01-02"), w.OutSampleEnd.Format("2006-01-02"),
			w.OutSample.Metrics.NetProfit, w.OutSample.Metrics.TotalTrades)
	}

	fmt.Println("\nOut-of-sample aggregate (the robustness estimate):")
	printMetrics(result.OutOfSampleMetrics, cfg.Backtest.InitialCapital)

	outPath, _ := cmd.Flags().GetString("output")
	return writeArtifact(outPath, result)
}
