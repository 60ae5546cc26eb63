package main

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/alphaguard/data/cache"
	"github.com/sawpanic/alphaguard/infra/breakers"
	"github.com/sawpanic/alphaguard/internal/allocation"
	"github.com/sawpanic/alphaguard/internal/backtest"
	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/broker"
	"github.com/sawpanic/alphaguard/internal/clock"
	"github.com/sawpanic/alphaguard/internal/config"
	"github.com/sawpanic/alphaguard/internal/guard"
	httpapi "github.com/sawpanic/alphaguard/internal/interfaces/http"
	"github.com/sawpanic/alphaguard/internal/journal"
	"github.com/sawpanic/alphaguard/internal/news"
	"github.com/sawpanic/alphaguard/internal/scheduler"
)

func runGuard(cmd *cobra.Command, args []string) error {
	series, strategyFn, err := loadSeries(cmd)
	if err != nil {
		return err
	}
	symbol, _ := cmd.Flags().GetString("symbol")
	barEvery, _ := cmd.Flags().GetDuration("bar-every")
	cfg.Guard.ATRTimeframe = series.Timeframe
	if tick, _ := cmd.Flags().GetDuration("tick"); tick > 0 {
		cfg.Guard.PollInterval = tick
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Ops.ListenAddr = listen
	}
	if riskPath, _ := cmd.Flags().GetString("risk-profile"); riskPath != "" {
		if err := applyRiskProfile(riskPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Venue: the paper broker fed from the replayed series, behind the
	// same breaker-and-rate-limit wrapper a live gateway would get.
	paper := broker.NewPaper(cfg.Backtest.InitialCapital)
	registry := breakers.NewRegistry()
	venue := broker.Protect(paper, registry, "paper", 20, 40)

	var store journal.Store = journal.Nop{}
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal)
		if err != nil {
			return err
		}
	}
	writer := journal.NewWriter(store, cfg.Journal.QueueSize)
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Journal writer close failed")
		}
	}()

	var newsSource broker.NewsSource
	calendar, err := news.Load(cfg.News.CalendarPath, clock.Real())
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.News.CalendarPath).Msg("No news calendar; the news gate stays open")
	} else {
		newsSource = calendar
		log.Info().Int("events", calendar.Len()).Msg("News calendar loaded")
	}

	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		c = cache.NewRedis(cfg.Cache.RedisAddr)
	} else {
		c = cache.NewAuto()
	}

	tracker := allocation.NewTracker()
	engine, err := allocation.NewEngine(cfg.Allocation, tracker, clock.Real())
	if err != nil {
		return err
	}

	mgr, err := guard.NewManager(cfg.Guard, guard.Deps{
		Broker:     venue,
		News:       newsSource,
		Volatility: paper,
		Cache:      c,
		Journal:    writer,
		Tracker:    tracker,
		VenueDown:  venue.Breaker().Open,
		Clock:      clock.Real(),
	})
	if err != nil {
		return err
	}

	feed := &replayFeed{
		series:   series,
		symbol:   symbol,
		strategy: strategyFn,
		paper:    paper,
		mgr:      mgr,
		gcfg:     cfg.Guard,
		done:     stop,
	}

	jobs := []scheduler.Job{
		{Name: "feed", Interval: barEvery, Run: feed.step},
		{Name: "guard", Interval: mgr.Interval(), Run: mgr.Cycle},
		{Name: "rebalance", Interval: time.Minute, Run: func(ctx context.Context) error {
			if !engine.ShouldRebalance() {
				return nil
			}
			results := engine.Rebalance()
			writer.RecordAllocations(allocationRecords(results))
			for _, r := range results {
				log.Info().
					Str("alpha", r.AlphaID).
					Float64("allocation", r.Allocation).
					Str("risk", string(r.RiskLevel)).
					Str("reason", r.Reason).
					Msg("Allocation")
			}
			return nil
		}},
	}
	if calendar != nil && cfg.News.ReloadInterval > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "calendar",
			Interval: cfg.News.ReloadInterval,
			Run:      func(ctx context.Context) error { return calendar.Reload() },
		})
	}

	runner, err := scheduler.NewRunner(jobs...)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(httpapi.Config{
		ListenAddr:        cfg.Ops.ListenAddr,
		ReadHeaderTimeout: cfg.Ops.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Ops.ShutdownTimeout,
	}, httpapi.Deps{
		Guard:     mgr,
		Runner:    runner,
		Tracker:   tracker,
		Engine:    engine,
		Journal:   writer,
		VenueDown: venue.Breaker().Open,
		Version:   version,
	})
	if err != nil {
		return err
	}
	go func() {
		if serr := server.Start(); serr != nil {
			log.Error().Err(serr).Msg("Ops server stopped")
			stop()
		}
	}()

	log.Info().
		Str("listen", server.Address()).
		Dur("poll", mgr.Interval()).
		Dur("bar_every", barEvery).
		Int("bars", series.Len()).
		Msg("Guard session started")

	err = runner.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("Ops server shutdown failed")
	}
	return err
}

// applyRiskProfile overlays the active profile's limits for the current
// trading session onto the guard policy. Profile violations are fatal at
// activation, per the configuration-error contract.
func applyRiskProfile(path string) error {
	rc, err := config.LoadRiskConfig(path)
	if err != nil {
		return err
	}
	profile, err := rc.GetActiveProfile()
	if err != nil {
		return err
	}
	if violations := profile.ValidateProfile(); len(violations) > 0 {
		for _, v := range violations {
			log.Error().Str("profile", profile.Name).Msg(v)
		}
		return fmt.Errorf("risk profile %q failed validation with %d violations", profile.Name, len(violations))
	}
	session := "london"
	if rc.SessionAware {
		session = config.SessionFor(time.Now())
	}
	limits, err := profile.GetSessionLimits(session)
	if err != nil {
		return err
	}
	cfg.Guard = limits.Apply(cfg.Guard)
	log.Info().
		Str("profile", profile.Name).
		Str("session", session).
		Float64("daily_drawdown_cap", cfg.Guard.DailyDrawdownCap).
		Float64("session_loss_cap", cfg.Guard.SessionLossCap).
		Int("max_consecutive_losses", cfg.Guard.MaxConsecutiveLosses).
		Msg("Risk profile applied")
	return nil
}

func allocationRecords(results []allocation.AllocationResult) []journal.AllocationRecord {
	recs := make([]journal.AllocationRecord, 0, len(results))
	now := time.Now()
	for _, r := range results {
		recs = append(recs, journal.AllocationRecord{
			AlphaID:   r.AlphaID,
			Weight:    r.Allocation,
			Score:     r.Performance.SharpeRatio,
			Excluded:  r.Allocation == 0,
			Reason:    r.Reason,
			DecidedAt: now,
		})
	}
	return recs
}

// replayFeed drives the paper venue from the historical series: one bar per
// step, with quotes, floating P&L, ATR, and strategy-signalled entries that
// pass through the entry gate.
type replayFeed struct {
	series   *bars.Series
	symbol   string
	strategy backtest.StrategyFunc
	paper    *broker.Paper
	mgr      *guard.Manager
	gcfg     guard.Config
	done     func()

	idx    int
	params backtest.Params
}

func (f *replayFeed) step(ctx context.Context) error {
	if f.idx >= f.series.Len() {
		log.Info().Msg("Replay series exhausted; stopping session")
		f.done()
		return nil
	}
	bar := f.series.At(f.idx)
	f.idx++

	spread := f.gcfg.MaxSpread * 0.5
	quote := broker.Quote{
		Symbol: f.symbol,
		Bid:    bar.Close - spread/2,
		Ask:    bar.Close + spread/2,
		Time:   bar.Time,
	}
	f.paper.SetQuote(quote)

	if atr := f.atrAt(f.idx-1, f.gcfg.ATRPeriod); atr > 0 {
		f.paper.SetATR(f.symbol, atr)
	}
	if base := f.atrAt(f.idx-1, f.gcfg.ATRBaselinePeriod); base > 0 {
		f.paper.SetHistoricalATR(f.symbol, base)
	}

	f.markPositions(quote)
	f.tryEntry(ctx, quote)
	return nil
}

// markPositions refreshes floating P&L and equity from the latest quote.
func (f *replayFeed) markPositions(q broker.Quote) {
	positions, err := f.paper.Positions(context.Background())
	if err != nil {
		return
	}
	floating := 0.0
	for _, pos := range positions {
		var profit float64
		if pos.Side == broker.Buy {
			profit = (q.Bid - pos.EntryPrice) * pos.Volume * f.gcfg.ContractSize
		} else {
			profit = (pos.EntryPrice - q.Ask) * pos.Volume * f.gcfg.ContractSize
		}
		f.paper.SetProfit(pos.ID, profit)
		floating += profit
	}
	acct, err := f.paper.Account(context.Background())
	if err != nil {
		return
	}
	f.paper.SetEquity(acct.Balance + floating)
}

// tryEntry asks the strategy for a signal on the current bar and, when the
// gate allows it, opens the position on the paper venue.
func (f *replayFeed) tryEntry(ctx context.Context, q broker.Quote) {
	open, err := f.paper.Positions(context.Background())
	if err != nil || len(open) > 0 {
		return
	}
	sig := f.strategy(f.series, f.params, f.idx-1)
	if sig == nil {
		return
	}

	acct, err := f.paper.Account(context.Background())
	if err != nil {
		return
	}
	entry := q.Ask
	if sig.Direction == backtest.Sell {
		entry = q.Bid
	}
	stopDist := math.Abs(entry - sig.StopLoss)
	if stopDist <= 0 {
		return
	}
	volume := acct.Balance * f.gcfg.RiskPerTradePct / (stopDist * f.gcfg.ContractSize)
	volume = math.Floor(volume/f.gcfg.LotStep) * f.gcfg.LotStep
	if volume < f.gcfg.LotStep {
		return
	}

	req := guard.EntryRequest{
		Symbol:     f.symbol,
		Side:       broker.Side(sig.Direction),
		EntryPrice: entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Volume:     volume,
		AlphaID:    "emacross",
	}
	decision, err := f.mgr.CheckEntry(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Entry gate errored")
		return
	}
	if !decision.Allowed {
		log.Debug().Str("reason", decision.Reason).Msg("Entry rejected")
		return
	}

	id := f.paper.Open(broker.Position{
		Symbol:     f.symbol,
		Side:       req.Side,
		Volume:     volume,
		EntryPrice: entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		AlphaID:    req.AlphaID,
		OpenedAt:   q.Time,
	})
	log.Info().
		Str("position", id).
		Str("side", string(req.Side)).
		Float64("entry", entry).
		Float64("volume", volume).
		Msg("Position opened")
}

// atrAt is a plain Wilder-free average true range over the trailing window
// ending at index i.
func (f *replayFeed) atrAt(i, period int) float64 {
	if i < 1 || period < 1 {
		return 0
	}
	start := i - period + 1
	if start < 1 {
		start = 1
	}
	sum := 0.0
	n := 0
	for j := start; j <= i; j++ {
		cur, prev := f.series.At(j), f.series.At(j-1)
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
