package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDailyBudget      int64   = 7000000
	DefaultPerStockLimit    int64   = 1000000
	DefaultBuyPremiumPct    float64 = 3
	DefaultMaxPriceCapPct   float64 = 20
	DefaultThrottleLimit            = 3
	DefaultCondSellStart            = "15:10"
	DefaultCondSellInterval         = 3
)

// RuntimeConfig is the operator-controlled auto-trade configuration.
// The engine reads it as an immutable snapshot; updates replace it wholesale.
type RuntimeConfig struct {
	ID uint `gorm:"primaryKey" json:"-"`

	DailyBudget    int64   `json:"dailyBudget" gorm:"column:daily_budget"`
	PerStockLimit  int64   `json:"perStockLimit" gorm:"column:per_stock_limit"`
	BuyPremiumPct  float64 `json:"buyPremiumPct" gorm:"column:buy_premium_pct"`
	MaxPriceCapPct float64 `json:"maxPriceCapPct" gorm:"column:max_price_cap_pct"`
	ThrottleLimit  int     `json:"throttleLimit" gorm:"column:throttle_limit"`

	// ScheduleTime is "HH:MM" in exchange local time; empty disables the daily run.
	ScheduleTime string `json:"scheduleTime" gorm:"column:schedule_time"`

	CondSellStart    string `json:"condSellStart" gorm:"column:cond_sell_start"`
	CondSellInterval int    `json:"condSellInterval" gorm:"column:cond_sell_interval"`

	AutoModify   bool   `json:"autoModify" gorm:"column:auto_modify"`
	AccountNo    string `json:"accountNo" gorm:"column:account_no"`
	ConditionSeq string `json:"conditionSeq" gorm:"column:condition_seq"`

	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName specifies the table name for RuntimeConfig model
func (RuntimeConfig) TableName() string {
	return "auto_trade_settings"
}

// DefaultRuntimeConfig returns the configuration used before the operator saves one.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DailyBudget:      DefaultDailyBudget,
		PerStockLimit:    DefaultPerStockLimit,
		BuyPremiumPct:    DefaultBuyPremiumPct,
		MaxPriceCapPct:   DefaultMaxPriceCapPct,
		ThrottleLimit:    DefaultThrottleLimit,
		CondSellStart:    DefaultCondSellStart,
		CondSellInterval: DefaultCondSellInterval,
	}
}

// WithDefaults fills unset numeric fields. Premium and cap percentages are
// left alone since zero is a meaningful value for both.
func (c RuntimeConfig) WithDefaults() RuntimeConfig {
	if c.DailyBudget <= 0 {
		c.DailyBudget = DefaultDailyBudget
	}
	if c.PerStockLimit <= 0 {
		c.PerStockLimit = DefaultPerStockLimit
	}
	if c.ThrottleLimit <= 0 {
		c.ThrottleLimit = DefaultThrottleLimit
	}
	if strings.TrimSpace(c.CondSellStart) == "" {
		c.CondSellStart = DefaultCondSellStart
	}
	if c.CondSellInterval <= 0 {
		c.CondSellInterval = DefaultCondSellInterval
	}
	return c
}

// Validate rejects values the engine cannot act on.
func (c RuntimeConfig) Validate() error {
	if c.DailyBudget < 0 || c.PerStockLimit < 0 {
		return fmt.Errorf("budgets must not be negative")
	}
	if c.BuyPremiumPct < 0 || c.MaxPriceCapPct < 0 {
		return fmt.Errorf("premium and cap percentages must not be negative")
	}
	if c.ThrottleLimit < 0 {
		return fmt.Errorf("throttle limit must not be negative")
	}
	if strings.TrimSpace(c.ScheduleTime) != "" {
		if _, err := ParseClock(c.ScheduleTime); err != nil {
			return fmt.Errorf("schedule time: %w", err)
		}
	}
	if strings.TrimSpace(c.CondSellStart) != "" {
		if _, err := ParseClock(c.CondSellStart); err != nil {
			return fmt.Errorf("conditional sell start: %w", err)
		}
	}
	return nil
}

// Schedule returns the configured daily run time.
func (c RuntimeConfig) Schedule() (Clock, bool) {
	if strings.TrimSpace(c.ScheduleTime) == "" {
		return Clock{}, false
	}
	clk, err := ParseClock(c.ScheduleTime)
	if err != nil {
		return Clock{}, false
	}
	return clk, true
}

// CondSellStartClock returns the time conditional-limit orders start draining.
func (c RuntimeConfig) CondSellStartClock() Clock {
	clk, err := ParseClock(c.CondSellStart)
	if err != nil {
		clk, _ = ParseClock(DefaultCondSellStart)
	}
	return clk
}

// Clock is a wall-clock time of day at minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" or "HHMM".
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	var hh, mm string
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hh, mm = s[:i], s[i+1:]
	} else if len(s) == 4 {
		hh, mm = s[:2], s[2:]
	} else {
		return Clock{}, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
