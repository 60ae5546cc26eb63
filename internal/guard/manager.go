package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/data/cache"
	"github.com/sawpanic/alphaguard/internal/allocation"
	"github.com/sawpanic/alphaguard/internal/broker"
	"github.com/sawpanic/alphaguard/internal/clock"
	"github.com/sawpanic/alphaguard/internal/journal"
)

// Deps are the manager's collaborators. Broker is required; everything
// else degrades gracefully when absent (the matching trigger or feed is
// simply skipped).
type Deps struct {
	Broker     broker.Broker
	Structure  broker.StructureAnalyzer
	News       broker.NewsSource
	Volatility broker.VolatilitySource
	Cache      cache.Cache
	Journal    *journal.Writer
	Tracker    *allocation.Tracker
	VenueDown  func() bool
	Clock      clock.Clock
}

// Manager runs the protection loop: one Cycle per poll interval, strictly
// serial. All mutable state lives behind its mutex; accessors hand out
// copies.
type Manager struct {
	cfg       Config
	b         broker.Broker
	structure broker.StructureAnalyzer
	news      broker.NewsSource
	vol       broker.VolatilitySource
	cache     cache.Cache
	journal   *journal.Writer
	tracker   *allocation.Tracker
	venueDown func() bool
	clk       clock.Clock
	audit     *AuditLog

	mu          sync.Mutex
	positions   map[string]*ManagedPosition
	risk        RiskState
	lastAccount broker.AccountStatus
	cycles      int64
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("guard config: %w", err)
	}
	if deps.Broker == nil {
		return nil, errors.New("guard: broker is required")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	c := deps.Cache
	if c == nil {
		c = cache.New()
	}
	return &Manager{
		cfg:       cfg,
		b:         deps.Broker,
		structure: deps.Structure,
		news:      deps.News,
		vol:       deps.Volatility,
		cache:     c,
		journal:   deps.Journal,
		tracker:   deps.Tracker,
		venueDown: deps.VenueDown,
		clk:       clk,
		audit:     NewAuditLog(cfg.AuditSize, clk),
		positions: make(map[string]*ManagedPosition),
	}, nil
}

// Audit exposes the protection event log for streaming and inspection.
func (m *Manager) Audit() *AuditLog { return m.audit }

// callCtx bounds one collaborator call so a hung venue or analyzer costs
// at most CallTimeout, never the whole session.
func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}

// Interval is the poll period Cycle should be driven at.
func (m *Manager) Interval() time.Duration { return m.cfg.PollInterval }

// Cycle runs one full protection pass: refresh account and positions,
// check account breakers, protect each position, then enforce currency
// exposure. Callers must not overlap invocations; the internal lock makes
// an accidental overlap run serially anyway.
func (m *Manager) Cycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cctx, cancel := m.callCtx(ctx)
	acct, err := m.b.Account(cctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("guard: account fetch failed, cycle skipped")
		return fmt.Errorf("account: %w", err)
	}
	m.lastAccount = acct
	m.rollDay(acct)
	if acct.Balance > 0 {
		if dd := (acct.Balance - acct.Equity) / acct.Balance; dd > m.risk.DailyDrawdown {
			m.risk.DailyDrawdown = dd
		}
	}

	cctx, cancel = m.callCtx(ctx)
	live, err := m.b.Positions(cctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("guard: position fetch failed, cycle skipped")
		return fmt.Errorf("positions: %w", err)
	}
	m.reconcile(live)

	if br := m.accountBreach(acct); br != nil {
		if !m.risk.EmergencyActive {
			m.emergencyCloseAll(ctx, *br)
		}
		m.cycles++
		return nil
	}

	for _, id := range m.sortedIDs() {
		p, ok := m.positions[id]
		if !ok {
			continue
		}
		if err := m.protect(ctx, p); err != nil {
			m.audit.Append(p.ID, "skipped", err.Error(), nil)
			log.Warn().Err(err).Str("position", p.ID).Str("symbol", p.Symbol).
				Msg("guard: position skipped this cycle")
		}
	}

	m.enforceExposure(ctx, acct)
	m.cycles++
	return nil
}

// rollDay resets the intra-day risk counters at the UTC day boundary.
func (m *Manager) rollDay(acct broker.AccountStatus) {
	day := m.clk.Now().UTC().Truncate(24 * time.Hour)
	if m.risk.Day.Equal(day) {
		return
	}
	m.risk = RiskState{Day: day, DayStartBalance: acct.Balance}
	log.Info().Time("day", day).Float64("balance", acct.Balance).Msg("guard: daily counters reset")
}

// reconcile folds the venue's position list into the managed set. New
// positions start UNPROTECTED; positions that vanished were closed at the
// venue, and their last observed floating profit is the realized estimate.
func (m *Manager) reconcile(live []broker.Position) {
	seen := make(map[string]bool, len(live))
	for _, lp := range live {
		seen[lp.ID] = true
		if mp, ok := m.positions[lp.ID]; ok {
			mp.Position = lp
			continue
		}
		m.positions[lp.ID] = &ManagedPosition{Position: lp, State: StateUnprotected, FirstSeen: m.clk.Now()}
		m.audit.Append(lp.ID, "tracked", "position now managed", map[string]interface{}{
			"symbol": lp.Symbol, "side": string(lp.Side), "volume": lp.Volume,
		})
		log.Info().Str("position", lp.ID).Str("symbol", lp.Symbol).Float64("volume", lp.Volume).
			Msg("guard: tracking position")
	}

	var gone []string
	for id := range m.positions {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		p := m.positions[id]
		m.finalizeClose(p, p.NetProfit(), "venue_close")
	}
}

// accountBreach checks the account-level limits in severity order.
func (m *Manager) accountBreach(acct broker.AccountStatus) *Breach {
	if acct.Balance > 0 {
		floating := acct.Balance - acct.Equity
		dd := floating / acct.Balance
		if dd > m.cfg.DailyDrawdownCap {
			return &Breach{
				Kind:   BreachDailyDrawdown,
				Value:  dd,
				Limit:  m.cfg.DailyDrawdownCap,
				Detail: fmt.Sprintf("drawdown %.1f%% of balance exceeds %.1f%% cap", dd*100, m.cfg.DailyDrawdownCap*100),
			}
		}
		if limit := acct.Balance * m.cfg.SessionLossCap; floating > limit {
			return &Breach{
				Kind:   BreachSessionLoss,
				Value:  floating,
				Limit:  limit,
				Detail: fmt.Sprintf("floating loss %.2f exceeds %.2f", floating, limit),
			}
		}
	}
	if m.risk.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return &Breach{
			Kind:   BreachLossStreak,
			Value:  float64(m.risk.ConsecutiveLosses),
			Limit:  float64(m.cfg.MaxConsecutiveLosses),
			Detail: fmt.Sprintf("%d consecutive losing trades", m.risk.ConsecutiveLosses),
		}
	}
	return nil
}

// emergencyCloseAll closes every managed position and disables auto
// trading. EmergencyActive is latched only when the whole pass succeeded;
// a failed close leaves it unset so the remaining positions are retried
// next cycle. Positions closed here leave the managed set and are never
// re-processed.
func (m *Manager) emergencyCloseAll(ctx context.Context, br Breach) {
	log.Error().Str("kind", string(br.Kind)).Float64("value", br.Value).Float64("limit", br.Limit).
		Msg("guard: emergency close-all")
	m.audit.Append("", "emergency", br.String(), map[string]interface{}{
		"kind": string(br.Kind), "value": br.Value, "limit": br.Limit,
	})

	clean := true
	for _, id := range m.sortedIDs() {
		p := m.positions[id]
		reason := "emergency:" + string(br.Kind)
		cctx, cancel := m.callCtx(ctx)
		err := m.b.Close(cctx, p.ID, reason)
		cancel()
		if err != nil {
			clean = false
			m.audit.Append(p.ID, "close_failed", err.Error(), nil)
			log.Error().Err(err).Str("position", p.ID).Msg("guard: emergency close failed")
			continue
		}
		m.finalizeClose(p, p.NetProfit(), reason)
	}
	cctx, cancel := m.callCtx(ctx)
	err := m.b.SetAutoTrading(cctx, false)
	cancel()
	if err != nil {
		clean = false
		log.Error().Err(err).Msg("guard: disabling auto-trading failed")
	}
	m.risk.EmergencyActive = clean
}

// protect evaluates one position's triggers and applies at most one
// protective action, then a forced close when structure or volatility
// demands it. Any external failure aborts the position for this cycle.
func (m *Manager) protect(ctx context.Context, p *ManagedPosition) error {
	cctx, cancel := m.callCtx(ctx)
	q, err := m.b.Quote(cctx, p.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("quote %s: %w", p.Symbol, err)
	}
	t, err := m.evaluateTriggers(ctx, p, q)
	if err != nil {
		return err
	}
	if !t.any() {
		return nil
	}
	m.audit.Append(p.ID, "trigger", t.names(), map[string]interface{}{
		"profit": p.NetProfit(), "tp_progress": t.progress, "atr": t.atr, "atr_baseline": t.atrBaseline,
	})

	if t.forceClose() {
		reason := "volatility_spike"
		detail := fmt.Sprintf("atr %.5f above %.1fx baseline %.5f", t.atr, m.cfg.VolSpikeMult, t.atrBaseline)
		if t.structure {
			reason = "structure_shift"
			detail = t.structureDetail
		}
		cctx, cancel := m.callCtx(ctx)
		err := m.b.Close(cctx, p.ID, reason)
		cancel()
		if err != nil {
			return fmt.Errorf("close %s: %w", p.ID, err)
		}
		log.Warn().Str("position", p.ID).Str("reason", reason).Str("detail", detail).
			Msg("guard: protective full close")
		m.finalizeClose(p, p.NetProfit(), reason)
		return nil
	}

	switch {
	case p.NetProfit() >= m.cfg.MinProfitForBreakEven:
		return m.applyBreakEven(ctx, p, q)
	case !p.partialed && p.Volume >= m.cfg.MinVolumeForPartial:
		return m.applyPartialClose(ctx, p)
	default:
		return m.applyTrailing(ctx, p, q, t.atr)
	}
}

// applyBreakEven ratchets the stop to entry plus spread plus buffer. The
// stop never loosens: a stop already at or beyond break-even stays put.
func (m *Manager) applyBreakEven(ctx context.Context, p *ManagedPosition, q broker.Quote) error {
	var target float64
	switch p.Side {
	case broker.Buy:
		target = p.EntryPrice + q.Spread() + m.cfg.BreakEvenBuffer
		if p.StopLoss > 0 && target <= p.StopLoss {
			m.markProtected(p, ModeBreakEven)
			return nil
		}
	case broker.Sell:
		target = p.EntryPrice - q.Spread() - m.cfg.BreakEvenBuffer
		if p.StopLoss > 0 && target >= p.StopLoss {
			m.markProtected(p, ModeBreakEven)
			return nil
		}
	default:
		return nil
	}

	cctx, cancel := m.callCtx(ctx)
	err := m.b.Modify(cctx, p.ID, broker.Modification{StopLoss: target})
	cancel()
	if err != nil {
		return fmt.Errorf("modify %s: %w", p.ID, err)
	}
	p.StopLoss = target
	m.markProtected(p, ModeBreakEven)
	m.audit.Append(p.ID, "break_even", fmt.Sprintf("stop moved to %.5f", target), nil)
	log.Info().Str("position", p.ID).Float64("stop", target).Msg("guard: break-even applied")
	return nil
}

// applyPartialClose banks the configured fraction of the position, once
// per position lifetime. Skipped when the split cannot produce two
// venue-legal volumes.
func (m *Manager) applyPartialClose(ctx context.Context, p *ManagedPosition) error {
	vol := roundToStep(p.Volume*m.cfg.PartialCloseFraction, m.cfg.LotStep)
	if vol <= 0 || p.Volume-vol < m.cfg.LotStep-1e-9 {
		return nil
	}
	realized := p.Profit * (vol / p.Volume)

	cctx, cancel := m.callCtx(ctx)
	err := m.b.ClosePartial(cctx, p.ID, vol, "partial_protect")
	cancel()
	if err != nil {
		return fmt.Errorf("partial close %s: %w", p.ID, err)
	}
	m.recordRealized(p, vol, realized, "partial_protect")
	p.Realized += realized
	p.Profit -= realized
	p.Volume -= vol
	p.partialed = true
	m.markProtected(p, ModePartial)
	m.audit.Append(p.ID, "partial_close", fmt.Sprintf("closed %.2f lots, %.2f kept", vol, p.Volume),
		map[string]interface{}{"realized": realized})
	log.Info().Str("position", p.ID).Float64("closed", vol).Float64("realized", realized).
		Msg("guard: partial close applied")
	return nil
}

// applyTrailing recomputes the ATR-scaled stop and applies it only when it
// tightens the position.
func (m *Manager) applyTrailing(ctx context.Context, p *ManagedPosition, q broker.Quote, atr float64) error {
	if atr <= 0 {
		return nil
	}
	dist := atr * m.cfg.TrailingATRMult
	var target float64
	tightens := false
	switch p.Side {
	case broker.Buy:
		target = q.Bid - dist
		tightens = p.StopLoss == 0 || target > p.StopLoss
	case broker.Sell:
		target = q.Ask + dist
		tightens = p.StopLoss == 0 || target < p.StopLoss
	}
	if !tightens {
		return nil
	}

	cctx, cancel := m.callCtx(ctx)
	err := m.b.Modify(cctx, p.ID, broker.Modification{StopLoss: target})
	cancel()
	if err != nil {
		return fmt.Errorf("modify %s: %w", p.ID, err)
	}
	p.StopLoss = target
	m.markProtected(p, ModeTrailing)
	m.audit.Append(p.ID, "trail", fmt.Sprintf("stop moved to %.5f", target), nil)
	log.Info().Str("position", p.ID).Float64("stop", target).Msg("guard: trailing stop applied")
	return nil
}

func (m *Manager) markProtected(p *ManagedPosition, mode ProtectionMode) {
	p.State = StateProtected
	p.Mode = mode
	if p.ProtectedAt.IsZero() {
		p.ProtectedAt = m.clk.Now()
	}
}

// enforceExposure closes the least-profitable position touching the worst
// over-cap currency, re-measuring after each close, until every currency
// is back under cap.
func (m *Manager) enforceExposure(ctx context.Context, acct broker.AccountStatus) {
	for {
		open := m.openPositions()
		breaches := m.cfg.exposureBreaches(netExposure(open), acct.Balance)
		if len(breaches) == 0 {
			return
		}
		br := breaches[0]
		ccy := br.Detail

		var worst *ManagedPosition
		for _, p := range open {
			if !touchesCurrency(p, ccy) {
				continue
			}
			if worst == nil || p.NetProfit() < worst.NetProfit() ||
				(p.NetProfit() == worst.NetProfit() && p.ID < worst.ID) {
				worst = p
			}
		}
		if worst == nil {
			return
		}

		reason := "exposure:" + ccy
		m.audit.Append(worst.ID, "exposure_close",
			fmt.Sprintf("%s exposure %.0f exceeds %.0f", ccy, br.Value, br.Limit), nil)
		log.Warn().Str("position", worst.ID).Str("currency", ccy).
			Float64("exposure", br.Value).Float64("limit", br.Limit).
			Msg("guard: closing for exposure")
		cctx, cancel := m.callCtx(ctx)
		err := m.b.Close(cctx, worst.ID, reason)
		cancel()
		if err != nil {
			m.audit.Append(worst.ID, "close_failed", err.Error(), nil)
			log.Error().Err(err).Str("position", worst.ID).Msg("guard: exposure close failed")
			return
		}
		m.finalizeClose(worst, worst.NetProfit(), reason)
	}
}

// finalizeClose settles a fully closed position: journal the final chunk,
// feed the alpha tracker the whole-position outcome, update the loss
// streak, and drop it from the managed set.
func (m *Manager) finalizeClose(p *ManagedPosition, chunk float64, reason string) {
	now := m.clk.Now()
	total := p.Realized + chunk

	m.recordRealized(p, p.Volume, chunk, reason)
	if m.tracker != nil && p.AlphaID != "" {
		ret := 0.0
		if m.lastAccount.Equity > 0 {
			ret = total / m.lastAccount.Equity
		}
		m.tracker.Record(allocation.TradeOutcome{
			AlphaID:  p.AlphaID,
			Name:     p.AlphaID,
			Profit:   total,
			Return:   ret,
			ClosedAt: now,
		})
	}

	if total < 0 {
		m.risk.ConsecutiveLosses++
	} else if total > 0 {
		m.risk.ConsecutiveLosses = 0
	}

	p.State = StateClosed
	m.audit.Append(p.ID, "closed", reason, map[string]interface{}{"profit": total, "volume": p.Volume})
	log.Info().Str("position", p.ID).Str("symbol", p.Symbol).Float64("profit", total).Str("reason", reason).
		Msg("guard: position closed")
	delete(m.positions, p.ID)
}

// recordRealized journals one realized chunk, full or partial.
func (m *Manager) recordRealized(p *ManagedPosition, volume, profit float64, reason string) {
	if m.journal == nil {
		return
	}
	m.journal.RecordTrade(journal.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: p.ID,
		AlphaID:    p.AlphaID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Volume:     volume,
		Profit:     profit,
		Reason:     reason,
		ClosedAt:   m.clk.Now(),
	})
}

// CheckEntry runs the pre-trade gate against live account, quote, and
// calendar snapshots. Rejections are counted and audited. A calendar
// failure rejects: unknown news is treated as imminent news.
func (m *Manager) CheckEntry(ctx context.Context, req EntryRequest) (GateDecision, error) {
	if m.venueDown != nil && m.venueDown() {
		d := GateDecision{
			Allowed: false,
			Reason:  "venue: circuit breaker open",
			Checks:  []GateCheck{{Name: "venue", Passed: false, Detail: "circuit breaker open"}},
		}
		m.rejectEntry(req, d)
		return d, nil
	}

	cctx, cancel := m.callCtx(ctx)
	acct, err := m.b.Account(cctx)
	cancel()
	if err != nil {
		return GateDecision{}, fmt.Errorf("account: %w", err)
	}
	cctx, cancel = m.callCtx(ctx)
	q, err := m.b.Quote(cctx, req.Symbol)
	cancel()
	if err != nil {
		return GateDecision{}, fmt.Errorf("quote %s: %w", req.Symbol, err)
	}

	var events []broker.NewsEvent
	if m.news != nil {
		cctx, cancel = m.callCtx(ctx)
		events, err = m.news.Upcoming(cctx, m.cfg.NewsWindow)
		cancel()
		if err != nil {
			d := GateDecision{
				Allowed: false,
				Reason:  "news: calendar unavailable",
				Checks:  []GateCheck{{Name: "news", Passed: false, Detail: err.Error()}},
			}
			m.rejectEntry(req, d)
			return d, nil
		}
	}

	m.mu.Lock()
	openCount := len(m.positions)
	m.mu.Unlock()

	d := evaluateGate(m.cfg, req, acct, q, events, openCount, m.clk.Now())
	if !d.Allowed {
		m.rejectEntry(req, d)
	} else {
		log.Debug().Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("guard: entry allowed")
	}
	return d, nil
}

func (m *Manager) rejectEntry(req EntryRequest, d GateDecision) {
	m.mu.Lock()
	m.risk.InvalidatedTrades++
	m.mu.Unlock()
	m.audit.Append("", "entry_rejected", d.Reason, map[string]interface{}{
		"symbol": req.Symbol, "side": string(req.Side), "volume": req.Volume,
	})
	log.Warn().Str("symbol", req.Symbol).Str("reason", d.Reason).Msg("guard: entry rejected")
}

// Positions returns copies of the managed positions, sorted by ID.
func (m *Manager) Positions() []ManagedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManagedPosition, 0, len(m.positions))
	for _, id := range m.sortedIDs() {
		out = append(out, *m.positions[id])
	}
	return out
}

// Risk returns a copy of the intra-day risk counters.
func (m *Manager) Risk() RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.risk
}

// Cycles reports how many protection passes have completed.
func (m *Manager) Cycles() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) openPositions() []*ManagedPosition {
	out := make([]*ManagedPosition, 0, len(m.positions))
	for _, id := range m.sortedIDs() {
		out = append(out, m.positions[id])
	}
	return out
}

// roundToStep rounds volume down to the venue's lot step.
func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}
