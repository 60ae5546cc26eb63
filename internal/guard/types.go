// Package guard protects open positions and the account around them: a
// per-position protective state machine, account-level circuit breakers,
// currency exposure control, and a pre-trade entry gate. It owns all of
// its state; external readers get copies.
package guard

import (
	"fmt"
	"time"

	"github.com/sawpanic/alphaguard/internal/bars"
	"github.com/sawpanic/alphaguard/internal/broker"
)

// PositionState tracks where a managed position sits in its lifecycle.
type PositionState int

const (
	StateUnprotected PositionState = iota
	StateProtected
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StateUnprotected:
		return "UNPROTECTED"
	case StateProtected:
		return "PROTECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ProtectionMode is the flavor of protection applied to a PROTECTED position.
type ProtectionMode int

const (
	ModeNone ProtectionMode = iota
	ModeBreakEven
	ModeTrailing
	ModePartial
)

func (m ProtectionMode) String() string {
	switch m {
	case ModeBreakEven:
		return "BREAK_EVEN"
	case ModeTrailing:
		return "TRAILING"
	case ModePartial:
		return "PARTIAL"
	default:
		return "NONE"
	}
}

// ManagedPosition is the guard's view of one venue position plus its
// protection state. Realized accumulates profit taken by partial closes so
// the final outcome covers the whole position.
type ManagedPosition struct {
	broker.Position
	State       PositionState  `json:"state"`
	Mode        ProtectionMode `json:"mode"`
	ProtectedAt time.Time      `json:"protected_at,omitempty"`
	FirstSeen   time.Time      `json:"first_seen"`
	Realized    float64        `json:"realized,omitempty"`

	partialed bool
}

// BreachKind names an account-level risk limit.
type BreachKind string

const (
	BreachDailyDrawdown    BreachKind = "daily_drawdown"
	BreachSessionLoss      BreachKind = "session_floating_loss"
	BreachLossStreak       BreachKind = "loss_streak"
	BreachCurrencyExposure BreachKind = "currency_exposure"
)

// Breach is a risk limit crossing. It is an outcome, not an error: the
// manager acts on it and records it.
type Breach struct {
	Kind   BreachKind `json:"kind"`
	Value  float64    `json:"value"`
	Limit  float64    `json:"limit"`
	Detail string     `json:"detail"`
}

func (b Breach) String() string {
	return fmt.Sprintf("%s: %s", b.Kind, b.Detail)
}

// RiskState carries the manager's intra-day counters. Counters only grow
// within a day and reset at the UTC daily boundary.
type RiskState struct {
	Day               time.Time `json:"day"`
	DayStartBalance   float64   `json:"day_start_balance"`
	DailyDrawdown     float64   `json:"daily_drawdown"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	InvalidatedTrades int       `json:"invalidated_trades"`
	EmergencyActive   bool      `json:"emergency_active"`
}

// Config holds the protection policy. Values here are product policy, so
// they live in configuration rather than code.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	CallTimeout  time.Duration `yaml:"call_timeout" json:"call_timeout"`

	MinProfitForBreakEven float64 `yaml:"min_profit_break_even" json:"min_profit_break_even"`
	BreakEvenBuffer       float64 `yaml:"break_even_buffer" json:"break_even_buffer"`
	PartialCloseFraction  float64 `yaml:"partial_close_fraction" json:"partial_close_fraction"`
	MinVolumeForPartial   float64 `yaml:"min_volume_partial" json:"min_volume_partial"`
	LotStep               float64 `yaml:"lot_step" json:"lot_step"`
	TrailingATRMult       float64 `yaml:"trailing_atr_mult" json:"trailing_atr_mult"`
	TPProgressThreshold   float64 `yaml:"tp_progress_threshold" json:"tp_progress_threshold"`

	ATRTimeframe      bars.Timeframe `yaml:"atr_timeframe" json:"atr_timeframe"`
	ATRPeriod         int            `yaml:"atr_period" json:"atr_period"`
	ATRBaselinePeriod int            `yaml:"atr_baseline_period" json:"atr_baseline_period"`
	ATRLookbackDays   int            `yaml:"atr_lookback_days" json:"atr_lookback_days"`
	ATRBaselineTTL    time.Duration  `yaml:"atr_baseline_ttl" json:"atr_baseline_ttl"`
	VolSpikeMult      float64        `yaml:"vol_spike_mult" json:"vol_spike_mult"`

	DailyDrawdownCap     float64 `yaml:"daily_drawdown_cap" json:"daily_drawdown_cap"`
	SessionLossCap       float64 `yaml:"session_loss_cap" json:"session_loss_cap"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`

	// ExposureCapMult limits per-currency net notional to this multiple of
	// balance, not a percent.
	ExposureCapMult float64 `yaml:"exposure_cap_mult" json:"exposure_cap_mult"`
	ContractSize    float64 `yaml:"contract_size" json:"contract_size"`

	MaxOpenPositions int `yaml:"max_open_positions" json:"max_open_positions"`

	MinRewardRisk   float64       `yaml:"min_reward_risk" json:"min_reward_risk"`
	MaxSpread       float64       `yaml:"max_spread" json:"max_spread"`
	RiskPerTradePct float64       `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	NewsWindow      time.Duration `yaml:"news_window" json:"news_window"`

	AuditSize int `yaml:"audit_size" json:"audit_size"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:          30 * time.Second,
		CallTimeout:           5 * time.Second,
		MinProfitForBreakEven: 10.0,
		BreakEvenBuffer:       0.0001,
		PartialCloseFraction:  0.70,
		MinVolumeForPartial:   0.02,
		LotStep:               0.01,
		TrailingATRMult:       2.0,
		TPProgressThreshold:   0.50,
		ATRTimeframe:          bars.TimeframeH1,
		ATRPeriod:             14,
		ATRBaselinePeriod:     30,
		ATRLookbackDays:       30,
		ATRBaselineTTL:        time.Hour,
		VolSpikeMult:          2.0,
		DailyDrawdownCap:      0.05,
		SessionLossCap:        0.01,
		MaxConsecutiveLosses:  3,
		ExposureCapMult:       5.0,
		ContractSize:          100000,
		MaxOpenPositions:      10,
		MinRewardRisk:         2.0,
		MaxSpread:             0.0003,
		RiskPerTradePct:       0.01,
		NewsWindow:            30 * time.Minute,
		AuditSize:             1000,
	}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.PartialCloseFraction <= 0 || c.PartialCloseFraction >= 1 {
		return fmt.Errorf("partial_close_fraction must be in (0, 1), got %.2f", c.PartialCloseFraction)
	}
	if c.LotStep <= 0 {
		return fmt.Errorf("lot_step must be positive, got %.4f", c.LotStep)
	}
	if c.TrailingATRMult <= 0 {
		return fmt.Errorf("trailing_atr_mult must be positive, got %.2f", c.TrailingATRMult)
	}
	if c.TPProgressThreshold <= 0 || c.TPProgressThreshold > 1 {
		return fmt.Errorf("tp_progress_threshold must be in (0, 1], got %.2f", c.TPProgressThreshold)
	}
	if c.ATRTimeframe.Minutes() == 0 {
		return fmt.Errorf("atr_timeframe %q is not a known timeframe", c.ATRTimeframe)
	}
	if c.ATRPeriod < 1 || c.ATRBaselinePeriod < 1 {
		return fmt.Errorf("atr periods must be at least 1")
	}
	if c.ATRLookbackDays < 1 {
		return fmt.Errorf("atr_lookback_days must be at least 1, got %d", c.ATRLookbackDays)
	}
	if c.VolSpikeMult <= 1 {
		return fmt.Errorf("vol_spike_mult must exceed 1, got %.2f", c.VolSpikeMult)
	}
	if c.DailyDrawdownCap <= 0 || c.DailyDrawdownCap >= 1 {
		return fmt.Errorf("daily_drawdown_cap must be in (0, 1), got %.3f", c.DailyDrawdownCap)
	}
	if c.SessionLossCap <= 0 || c.SessionLossCap >= 1 {
		return fmt.Errorf("session_loss_cap must be in (0, 1), got %.3f", c.SessionLossCap)
	}
	if c.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("max_consecutive_losses must be at least 1, got %d", c.MaxConsecutiveLosses)
	}
	if c.ExposureCapMult <= 0 {
		return fmt.Errorf("exposure_cap_mult must be positive, got %.2f", c.ExposureCapMult)
	}
	if c.ContractSize <= 0 {
		return fmt.Errorf("contract_size must be positive, got %.0f", c.ContractSize)
	}
	if c.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1, got %d", c.MaxOpenPositions)
	}
	if c.MinRewardRisk <= 0 {
		return fmt.Errorf("min_reward_risk must be positive, got %.2f", c.MinRewardRisk)
	}
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct >= 1 {
		return fmt.Errorf("risk_per_trade_pct must be in (0, 1), got %.3f", c.RiskPerTradePct)
	}
	if c.AuditSize < 1 {
		return fmt.Errorf("audit_size must be at least 1, got %d", c.AuditSize)
	}
	return nil
}
