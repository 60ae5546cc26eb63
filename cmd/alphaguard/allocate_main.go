package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/alphaguard/internal/allocation"
	"github.com/sawpanic/alphaguard/internal/clock"
	"github.com/sawpanic/alphaguard/internal/journal"
)

func runAllocate(cmd *cobra.Command, args []string) error {
	tradesPath, _ := cmd.Flags().GetString("trades")
	limit, _ := cmd.Flags().GetInt("limit")

	var records []journal.TradeRecord
	var err error
	if tradesPath != "" {
		records, err = loadTradeExport(tradesPath)
	} else {
		records, err = loadJournalTrades(limit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no trade records to allocate from")
	}

	tracker := allocation.NewTracker()
	balance := cfg.Backtest.InitialCapital
	for i := len(records) - 1; i >= 0; i-- { // journal lists newest first
		rec := records[i]
		tracker.Record(allocation.TradeOutcome{
			AlphaID:  rec.AlphaID,
			Name:     rec.AlphaID,
			Profit:   rec.Profit,
			Return:   rec.Profit / balance,
			ClosedAt: rec.ClosedAt,
		})
		balance += rec.Profit
	}

	engine, err := allocation.NewEngine(cfg.Allocation, tracker, clock.Real())
	if err != nil {
		return err
	}
	results := engine.Allocations()

	fmt.Printf("Allocations over %d trades, %d alphas:\n\n", len(records), len(results))
	fmt.Printf("%-16s %10s %-8s %7s %7s %7s %6s  %s\n",
		"ALPHA", "ALLOCATION", "RISK", "WINRATE", "SHARPE", "MAXDD", "TRADES", "REASON")
	for _, r := range results {
		fmt.Printf("%-16s %9.1f%% %-8s %6.1f%% %7.2f %6.1f%% %6d  %s\n",
			r.AlphaID, r.Allocation*100, r.RiskLevel,
			r.Performance.WinRate*100, r.Performance.SharpeRatio,
			r.Performance.MaxDrawdown*100, r.Performance.TotalTrades, r.Reason)
	}
	return nil
}

// loadTradeExport reads a JSON array of trade records, the same shape the
// journal stores.
func loadTradeExport(path string) ([]journal.TradeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trades %s: %w", path, err)
	}
	var records []journal.TradeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse trades %s: %w", path, err)
	}
	return records, nil
}

func loadJournalTrades(limit int) ([]journal.TradeRecord, error) {
	if !cfg.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled; pass --trades or enable it in the config")
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Journal close failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return store.ListTrades(ctx, limit)
}
