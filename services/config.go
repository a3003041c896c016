// services/config.go
package services

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"quest-reward-system/models"

	"github.com/shopspring/decimal"
)

// RewardConfig holds every tunable the reward engines read at operation
// time. It is loaded once, validated, and then passed around by value.
type RewardConfig struct {
	Version int `json:"version"`

	CheckInAsset     models.Asset      `json:"checkin_asset"`
	CheckInTable     []decimal.Decimal `json:"checkin_table"`
	MakeupReward     decimal.Decimal   `json:"makeup_reward"`
	MakeupWindowDays int               `json:"makeup_window_days"`

	InviteBonusAsset models.Asset    `json:"invite_bonus_asset"`
	InviterBonus     decimal.Decimal `json:"inviter_bonus"`
	InviteeBonus     decimal.Decimal `json:"invitee_bonus"`
	MaxInvites       int64           `json:"max_invites"`
	NewAccountHours  int             `json:"new_account_hours"`

	BurstInviteLimit    int `json:"burst_invite_limit"`
	BurstWindowMinutes  int `json:"burst_window_minutes"`
	HourlyInviteLimit   int `json:"hourly_invite_limit"`
	HourlyWindowMinutes int `json:"hourly_window_minutes"`
	DailyInviteLimit    int `json:"daily_invite_limit"`

	// MinWithdraw lists the withdrawable assets and their minimum amounts.
	MinWithdraw map[models.Asset]decimal.Decimal `json:"min_withdraw"`

	VerifierMinConfidence   float64 `json:"verifier_min_confidence"`
	VerifierTimeoutSeconds  int     `json:"verifier_timeout_seconds"`
	SettlementExpiryMinutes int     `json:"settlement_expiry_minutes"`
}

func decimals(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

// DefaultRewardConfig returns the documented defaults.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Version:          0,
		CheckInAsset:     models.AssetPoints,
		CheckInTable:     decimals(10, 20, 30, 40, 50, 60, 100),
		MakeupReward:     decimal.NewFromInt(5),
		MakeupWindowDays: 7,

		InviteBonusAsset: models.AssetPoints,
		InviterBonus:     decimal.NewFromInt(100),
		InviteeBonus:     decimal.NewFromInt(50),
		MaxInvites:       100,
		NewAccountHours:  24,

		BurstInviteLimit:    5,
		BurstWindowMinutes:  5,
		HourlyInviteLimit:   10,
		HourlyWindowMinutes: 60,
		DailyInviteLimit:    20,

		MinWithdraw: map[models.Asset]decimal.Decimal{
			models.AssetUSDT:  decimal.NewFromInt(5),
			models.AssetStars: decimal.NewFromInt(5),
		},

		VerifierMinConfidence:   0.8,
		VerifierTimeoutSeconds:  15,
		SettlementExpiryMinutes: 30,
	}
}

// Clone copies the slice and map so the result can be mutated freely.
func (c RewardConfig) Clone() RewardConfig {
	out := c
	out.CheckInTable = append([]decimal.Decimal(nil), c.CheckInTable...)
	out.MinWithdraw = make(map[models.Asset]decimal.Decimal, len(c.MinWithdraw))
	for k, v := range c.MinWithdraw {
		out.MinWithdraw[k] = v
	}
	return out
}

func (c RewardConfig) Validate() error {
	var problems []string
	if len(c.CheckInTable) == 0 {
		problems = append(problems, "checkin_table is empty")
	}
	for i, v := range c.CheckInTable {
		if v.IsNegative() {
			problems = append(problems, fmt.Sprintf("checkin_table[%d] is negative", i))
		}
	}
	if c.CheckInAsset == "" || c.InviteBonusAsset == "" {
		problems = append(problems, "reward assets must be set")
	}
	if c.MakeupReward.IsNegative() {
		problems = append(problems, "makeup_reward is negative")
	}
	if c.MakeupWindowDays < 1 {
		problems = append(problems, "makeup_window_days must be >= 1")
	}
	if c.InviterBonus.IsNegative() || c.InviteeBonus.IsNegative() {
		problems = append(problems, "invite bonuses must not be negative")
	}
	if c.MaxInvites < 1 {
		problems = append(problems, "max_invites must be >= 1")
	}
	if c.NewAccountHours < 0 {
		problems = append(problems, "new_account_hours is negative")
	}
	if c.BurstInviteLimit < 1 || c.HourlyInviteLimit < 1 || c.DailyInviteLimit < 1 {
		problems = append(problems, "invite limits must be >= 1")
	}
	if c.BurstWindowMinutes < 1 || c.HourlyWindowMinutes < 1 {
		problems = append(problems, "invite windows must be >= 1 minute")
	}
	for asset, minimum := range c.MinWithdraw {
		if !minimum.IsPositive() {
			problems = append(problems, fmt.Sprintf("min_withdraw[%s] must be positive", asset))
		}
	}
	if c.VerifierMinConfidence < 0 || c.VerifierMinConfidence > 1 {
		problems = append(problems, "verifier_min_confidence must be within [0,1]")
	}
	if c.VerifierTimeoutSeconds < 1 {
		problems = append(problems, "verifier_timeout_seconds must be >= 1")
	}
	if c.SettlementExpiryMinutes < 1 {
		problems = append(problems, "settlement_expiry_minutes must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid reward config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckInReward is the reward for the nth consecutive day (1-based).
func (c RewardConfig) CheckInReward(streakDay int) decimal.Decimal {
	if streakDay < 1 {
		streakDay = 1
	}
	return c.CheckInTable[(streakDay-1)%len(c.CheckInTable)]
}

func (c RewardConfig) NewAccountDelay() time.Duration {
	return time.Duration(c.NewAccountHours) * time.Hour
}

func (c RewardConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowMinutes) * time.Minute
}

func (c RewardConfig) HourlyWindow() time.Duration {
	return time.Duration(c.HourlyWindowMinutes) * time.Minute
}

func (c RewardConfig) VerifierTimeout() time.Duration {
	return time.Duration(c.VerifierTimeoutSeconds) * time.Second
}

func (c RewardConfig) SettlementExpiry() time.Duration {
	return time.Duration(c.SettlementExpiryMinutes) * time.Minute
}

// ApplyEnv overlays REWARD_* variables. A malformed value is logged and
// ignored so a typo cannot take the service down.
func (c RewardConfig) ApplyEnv(getenv func(string) string) RewardConfig {
	out := c.Clone()

	if v := getenv("REWARD_CHECKIN_TABLE"); v != "" {
		var table []decimal.Decimal
		ok := true
		for _, part := range strings.Split(v, ",") {
			d, err := decimal.NewFromString(strings.TrimSpace(part))
			if err != nil {
				ok = false
				break
			}
			table = append(table, d)
		}
		if ok && len(table) > 0 {
			out.CheckInTable = table
		} else {
			log.Printf("⚠️ [CONFIG] Ignoring malformed REWARD_CHECKIN_TABLE=%q", v)
		}
	}

	envDecimal := func(key string, dst *decimal.Decimal) {
		if v := getenv(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				log.Printf("⚠️ [CONFIG] Ignoring malformed %s=%q", key, v)
				return
			}
			*dst = d
		}
	}
	envInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Printf("⚠️ [CONFIG] Ignoring malformed %s=%q", key, v)
				return
			}
			*dst = n
		}
	}

	envDecimal("REWARD_MAKEUP_AMOUNT", &out.MakeupReward)
	envDecimal("REWARD_INVITER_BONUS", &out.InviterBonus)
	envDecimal("REWARD_INVITEE_BONUS", &out.InviteeBonus)
	envInt("REWARD_MAKEUP_WINDOW_DAYS", &out.MakeupWindowDays)
	envInt("REWARD_NEW_ACCOUNT_HOURS", &out.NewAccountHours)
	envInt("REWARD_DAILY_INVITE_LIMIT", &out.DailyInviteLimit)
	envInt("REWARD_VERIFIER_TIMEOUT_SECONDS", &out.VerifierTimeoutSeconds)
	envInt("REWARD_SETTLEMENT_EXPIRY_MINUTES", &out.SettlementExpiryMinutes)

	maxInvites := int(out.MaxInvites)
	envInt("REWARD_MAX_INVITES", &maxInvites)
	out.MaxInvites = int64(maxInvites)

	if v := getenv("REWARD_VERIFIER_MIN_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Printf("⚠️ [CONFIG] Ignoring malformed REWARD_VERIFIER_MIN_CONFIDENCE=%q", v)
		} else {
			out.VerifierMinConfidence = f
		}
	}

	for asset := range out.MinWithdraw {
		key := "REWARD_MIN_WITHDRAW_" + string(asset)
		minimum := out.MinWithdraw[asset]
		envDecimal(key, &minimum)
		out.MinWithdraw[asset] = minimum
	}

	if err := out.Validate(); err != nil {
		log.Printf("⚠️ [CONFIG] Environment overrides rejected (%v), keeping previous values", err)
		return c
	}
	return out
}

// ConfigProvider hands out the current configuration snapshot.
type ConfigProvider interface {
	Current() RewardConfig
}

// StaticConfig is a fixed ConfigProvider, mostly for tests.
type StaticConfig RewardConfig

func (s StaticConfig) Current() RewardConfig { return RewardConfig(s) }
