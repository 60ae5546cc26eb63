package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/alphaguard/internal/broker"
)

// EntryRequest is a proposed trade presented to the gate before any order
// reaches the venue.
type EntryRequest struct {
	Symbol     string      `json:"symbol"`
	Side       broker.Side `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	StopLoss   float64     `json:"stop_loss"`
	TakeProfit float64     `json:"take_profit"`
	Volume     float64     `json:"volume"`
	AlphaID    string      `json:"alpha_id,omitempty"`
}

// GateCheck is one named validation with its outcome.
type GateCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// GateDecision is the gate's verdict. Reason carries the first failed
// check's detail; Checks carries all of them for the audit trail.
type GateDecision struct {
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason,omitempty"`
	Checks  []GateCheck `json:"checks"`
}

// evaluateGate runs every check against the request so a rejection reports
// the full picture, not just the first failure. Inputs are snapshots taken
// by the caller; the gate itself performs no I/O.
func evaluateGate(cfg Config, req EntryRequest, acct broker.AccountStatus, q broker.Quote, news []broker.NewsEvent, openPositions int, now time.Time) GateDecision {
	var checks []GateCheck
	add := func(name string, passed bool, detail string) {
		checks = append(checks, GateCheck{Name: name, Passed: passed, Detail: detail})
	}

	add("auto_trading", acct.AutoTrading, "auto-trading is disabled")

	add("max_positions", openPositions < cfg.MaxOpenPositions,
		fmt.Sprintf("%d positions open, cap is %d", openPositions, cfg.MaxOpenPositions))

	hasSL := req.StopLoss > 0
	add("stop_loss_present", hasSL, "stop-loss is required")
	hasTP := req.TakeProfit > 0
	add("take_profit_present", hasTP, "take-profit is required")

	if hasSL && hasTP {
		coherent := false
		switch req.Side {
		case broker.Buy:
			coherent = req.StopLoss < req.EntryPrice && req.EntryPrice < req.TakeProfit
		case broker.Sell:
			coherent = req.TakeProfit < req.EntryPrice && req.EntryPrice < req.StopLoss
		}
		add("levels_coherent", coherent,
			fmt.Sprintf("levels are on the wrong side for %s entry at %.5f", req.Side, req.EntryPrice))

		if coherent {
			risk := abs(req.EntryPrice - req.StopLoss)
			reward := abs(req.TakeProfit - req.EntryPrice)
			rr := reward / risk
			add("reward_risk", rr >= cfg.MinRewardRisk,
				fmt.Sprintf("reward:risk %.2f below minimum %.2f", rr, cfg.MinRewardRisk))

			maxVolume := acct.Balance * cfg.RiskPerTradePct / (risk * cfg.ContractSize)
			add("volume_risk", req.Volume <= maxVolume,
				fmt.Sprintf("volume %.2f exceeds %.2f allowed by %.1f%% risk", req.Volume, maxVolume, cfg.RiskPerTradePct*100))
		}
	}

	spread := q.Spread()
	add("spread", spread <= cfg.MaxSpread,
		fmt.Sprintf("spread %.5f exceeds cap %.5f", spread, cfg.MaxSpread))

	if ev, hit := imminentNews(req.Symbol, news, now, cfg.NewsWindow); hit {
		add("news", false, fmt.Sprintf("%s %q at %s", ev.Currency, ev.Title, ev.Time.UTC().Format("15:04")))
	} else {
		add("news", true, "")
	}

	decision := GateDecision{Allowed: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			decision.Allowed = false
			decision.Reason = fmt.Sprintf("%s: %s", c.Name, c.Detail)
			break
		}
	}
	return decision
}

// imminentNews reports the first high-impact event inside the window that
// touches the symbol, either through its currency legs or through the
// event's affected-pairs list.
func imminentNews(symbol string, events []broker.NewsEvent, now time.Time, window time.Duration) (broker.NewsEvent, bool) {
	base, quote, legsOK := currencyLegs(symbol)
	for _, ev := range events {
		if !strings.EqualFold(ev.Impact, "HIGH") {
			continue
		}
		until := ev.Time.Sub(now)
		if until < 0 || until > window {
			continue
		}
		if legsOK && (ev.Currency == base || ev.Currency == quote) {
			return ev, true
		}
		for _, pair := range ev.AffectedPairs {
			if strings.EqualFold(pair, symbol) {
				return ev, true
			}
		}
	}
	return broker.NewsEvent{}, false
}
