package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sawpanic/alphaguard/internal/guard"
)

// RiskConfig holds named risk profiles. A profile carries per-session
// limits so the protection layer can tighten outside liquid hours.
type RiskConfig struct {
	SessionAware bool                   `yaml:"session_aware"`
	Profiles     map[string]RiskProfile `yaml:"profiles"`
	Active       string                 `yaml:"active_profile"`
}

// RiskProfile is one set of limits, keyed by trading session.
type RiskProfile struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Sessions    map[string]SessionRisk `yaml:"sessions"`
}

// SessionRisk bundles the limits that vary by session.
type SessionRisk struct {
	Drawdown DrawdownRiskConfig `yaml:"drawdown"`
	Exposure ExposureRiskConfig `yaml:"exposure"`
	Entry    EntryRiskConfig    `yaml:"entry"`
}

// DrawdownRiskConfig caps account losses.
type DrawdownRiskConfig struct {
	DailyCapPct   float64 `yaml:"daily_cap_pct"`   // % of day-start balance
	SessionCapPct float64 `yaml:"session_cap_pct"` // % floating loss
	MaxLossStreak int     `yaml:"max_loss_streak"`
}

// ExposureRiskConfig caps open positioning.
type ExposureRiskConfig struct {
	PerCurrencyMult float64 `yaml:"per_currency_mult"` // multiples of balance per currency
	MaxPositions    int     `yaml:"max_positions"`
}

// EntryRiskConfig sets the admission thresholds.
type EntryRiskConfig struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	MaxSpread       float64 `yaml:"max_spread"`
	MinRewardRisk   float64 `yaml:"min_reward_risk"`
}

// Sessions every profile must cover.
var requiredSessions = []string{"asia", "london", "newyork"}

// SessionFor buckets a time into a trading session by UTC hour. Overlap
// hours resolve to the session taking over.
func SessionFor(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h >= 7 && h < 12:
		return "london"
	case h >= 12 && h < 21:
		return "newyork"
	default:
		return "asia"
	}
}

// LoadRiskConfig loads risk profiles from file.
func LoadRiskConfig(path string) (*RiskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk config: %w", err)
	}
	var cfg RiskConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse risk YAML: %w", err)
	}
	return &cfg, nil
}

// SaveRiskConfig writes risk profiles to file.
func SaveRiskConfig(cfg *RiskConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal risk config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write risk config: %w", err)
	}
	return nil
}

// GetActiveProfile returns the currently active risk profile.
func (rc *RiskConfig) GetActiveProfile() (*RiskProfile, error) {
	if rc.Active == "" {
		return nil, fmt.Errorf("no active profile set")
	}
	profile, exists := rc.Profiles[rc.Active]
	if !exists {
		return nil, fmt.Errorf("active profile '%s' not found", rc.Active)
	}
	return &profile, nil
}

// GetSessionLimits returns the limits for a specific session.
func (rp *RiskProfile) GetSessionLimits(session string) (*SessionRisk, error) {
	limits, exists := rp.Sessions[session]
	if !exists {
		return nil, fmt.Errorf("session '%s' not found in profile '%s'", session, rp.Name)
	}
	return &limits, nil
}

// ValidateProfile checks a profile for safety and consistency. It returns
// one message per violation rather than stopping at the first.
func (rp *RiskProfile) ValidateProfile() []string {
	var errors []string

	for _, session := range requiredSessions {
		limits, exists := rp.Sessions[session]
		if !exists {
			errors = append(errors, fmt.Sprintf("Missing session configuration: %s", session))
			continue
		}

		if limits.Drawdown.DailyCapPct < 1.0 || limits.Drawdown.DailyCapPct > 10.0 {
			errors = append(errors, fmt.Sprintf("Session %s: daily cap %.1f%% outside [1%%, 10%%] range", session, limits.Drawdown.DailyCapPct))
		}
		if limits.Drawdown.SessionCapPct < 0.5 || limits.Drawdown.SessionCapPct > 5.0 {
			errors = append(errors, fmt.Sprintf("Session %s: session cap %.1f%% outside [0.5%%, 5%%] range", session, limits.Drawdown.SessionCapPct))
		}
		if limits.Drawdown.MaxLossStreak < 2 || limits.Drawdown.MaxLossStreak > 6 {
			errors = append(errors, fmt.Sprintf("Session %s: loss streak %d outside [2, 6] range", session, limits.Drawdown.MaxLossStreak))
		}

		if limits.Exposure.PerCurrencyMult < 1.0 || limits.Exposure.PerCurrencyMult > 10.0 {
			errors = append(errors, fmt.Sprintf("Session %s: per-currency exposure %.1fx outside [1x, 10x] range", session, limits.Exposure.PerCurrencyMult))
		}
		if limits.Exposure.MaxPositions < 1 || limits.Exposure.MaxPositions > 20 {
			errors = append(errors, fmt.Sprintf("Session %s: max positions %d outside [1, 20] range", session, limits.Exposure.MaxPositions))
		}

		if limits.Entry.RiskPerTradePct < 0.25 || limits.Entry.RiskPerTradePct > 2.0 {
			errors = append(errors, fmt.Sprintf("Session %s: risk per trade %.2f%% outside [0.25%%, 2%%] range", session, limits.Entry.RiskPerTradePct))
		}
		if limits.Entry.MaxSpread <= 0 || limits.Entry.MaxSpread > 0.001 {
			errors = append(errors, fmt.Sprintf("Session %s: max spread %.5f outside (0, 0.001] range", session, limits.Entry.MaxSpread))
		}
		if limits.Entry.MinRewardRisk < 1.0 || limits.Entry.MinRewardRisk > 5.0 {
			errors = append(errors, fmt.Sprintf("Session %s: reward:risk floor %.1f outside [1, 5] range", session, limits.Entry.MinRewardRisk))
		}

		// Off-hours sessions need the tighter floating-loss leash.
		if session == "asia" && limits.Drawdown.SessionCapPct > 2.0 {
			errors = append(errors, fmt.Sprintf("Asia session: session cap %.1f%% exceeds 2%% thin-liquidity limit", limits.Drawdown.SessionCapPct))
		}
	}

	return errors
}

// Apply overlays the session limits onto a protection config. Zero-valued
// limits leave the corresponding setting untouched.
func (sr SessionRisk) Apply(cfg guard.Config) guard.Config {
	if sr.Drawdown.DailyCapPct > 0 {
		cfg.DailyDrawdownCap = sr.Drawdown.DailyCapPct / 100
	}
	if sr.Drawdown.SessionCapPct > 0 {
		cfg.SessionLossCap = sr.Drawdown.SessionCapPct / 100
	}
	if sr.Drawdown.MaxLossStreak > 0 {
		cfg.MaxConsecutiveLosses = sr.Drawdown.MaxLossStreak
	}
	if sr.Exposure.PerCurrencyMult > 0 {
		cfg.ExposureCapMult = sr.Exposure.PerCurrencyMult
	}
	if sr.Exposure.MaxPositions > 0 {
		cfg.MaxOpenPositions = sr.Exposure.MaxPositions
	}
	if sr.Entry.RiskPerTradePct > 0 {
		cfg.RiskPerTradePct = sr.Entry.RiskPerTradePct / 100
	}
	if sr.Entry.MaxSpread > 0 {
		cfg.MaxSpread = sr.Entry.MaxSpread
	}
	if sr.Entry.MinRewardRisk > 0 {
		cfg.MinRewardRisk = sr.Entry.MinRewardRisk
	}
	return cfg
}

// DefaultRiskConfig returns a safe default risk configuration.
func DefaultRiskConfig() *RiskConfig {
	conservative := map[string]SessionRisk{
		"asia": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 3.0, SessionCapPct: 0.5, MaxLossStreak: 2},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 3.0, MaxPositions: 5},
			Entry:    EntryRiskConfig{RiskPerTradePct: 0.5, MaxSpread: 0.0002, MinRewardRisk: 2.5},
		},
		"london": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 5.0, SessionCapPct: 1.0, MaxLossStreak: 3},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 5.0, MaxPositions: 10},
			Entry:    EntryRiskConfig{RiskPerTradePct: 1.0, MaxSpread: 0.0003, MinRewardRisk: 2.0},
		},
		"newyork": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 5.0, SessionCapPct: 1.0, MaxLossStreak: 3},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 5.0, MaxPositions: 10},
			Entry:    EntryRiskConfig{RiskPerTradePct: 1.0, MaxSpread: 0.0003, MinRewardRisk: 2.0},
		},
	}
	aggressive := map[string]SessionRisk{
		"asia": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 5.0, SessionCapPct: 1.0, MaxLossStreak: 3},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 5.0, MaxPositions: 8},
			Entry:    EntryRiskConfig{RiskPerTradePct: 1.0, MaxSpread: 0.0003, MinRewardRisk: 2.0},
		},
		"london": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 8.0, SessionCapPct: 2.0, MaxLossStreak: 4},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 8.0, MaxPositions: 15},
			Entry:    EntryRiskConfig{RiskPerTradePct: 1.5, MaxSpread: 0.0005, MinRewardRisk: 1.5},
		},
		"newyork": {
			Drawdown: DrawdownRiskConfig{DailyCapPct: 8.0, SessionCapPct: 2.0, MaxLossStreak: 4},
			Exposure: ExposureRiskConfig{PerCurrencyMult: 8.0, MaxPositions: 15},
			Entry:    EntryRiskConfig{RiskPerTradePct: 1.5, MaxSpread: 0.0005, MinRewardRisk: 1.5},
		},
	}

	return &RiskConfig{
		SessionAware: true,
		Active:       "conservative",
		Profiles: map[string]RiskProfile{
			"conservative": {
				Name:        "Conservative",
				Description: "Tight baseline limits for all sessions",
				Sessions:    conservative,
			},
			"aggressive": {
				Name:        "Aggressive",
				Description: "Relaxed limits for liquid sessions, still capped off-hours",
				Sessions:    aggressive,
			},
		},
	}
}

// GetRiskConfigPath returns the default path for risk configuration.
func GetRiskConfigPath() string {
	return filepath.Join("config", "risk.yaml")
}
