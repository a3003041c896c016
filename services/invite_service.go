// services/invite_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Risk event types
const (
	RiskEventInviteBurst   = "invite_burst"
	RiskEventInviteHourly  = "invite_hourly_velocity"
	RiskEventInviteDaily   = "invite_daily_cap"
	RiskEventDelayedReward = "invite_reward_delayed"
)

// InviterRisk is the verdict of the inviter velocity gate.
type InviterRisk struct {
	Allowed           bool             `json:"allowed"`
	Level             models.RiskLevel `json:"risk_level"`
	Reason            string           `json:"reason"`
	EventType         string           `json:"event_type,omitempty"`
	ShouldRecordEvent bool             `json:"should_record_event"`
	BurstCount        int64            `json:"burst_count"`
	HourlyCount       int64            `json:"hourly_count"`
	DailyCount        int64            `json:"daily_count"`
}

// InviteeRisk is the verdict of the new-account gate.
type InviteeRisk struct {
	AccountAgeHours   float64          `json:"account_age_hours"`
	ShouldDelayReward bool             `json:"should_delay_reward"`
	Level             models.RiskLevel `json:"risk_level"`
}

type InviteResult struct {
	Invite        models.Invite   `json:"invite"`
	InviterReward decimal.Decimal `json:"inviter_reward"`
	InviteeReward decimal.Decimal `json:"invitee_reward"`
	Asset         models.Asset    `json:"asset"`
	RewardDelayed bool            `json:"reward_delayed"`
}

// InviteService records referrals behind two risk gates.
type InviteService struct {
	DB       *gorm.DB
	Config   ConfigProvider
	Notifier Notifier
	Now      func() time.Time
}

func NewInviteService(db *gorm.DB, cfg ConfigProvider, notifier Notifier) *InviteService {
	return &InviteService{DB: db, Config: cfg, Notifier: notifier}
}

// CheckInviterRisk evaluates the inviter's recent volume, most severe rule
// first. Burst and hourly windows count the invite being evaluated on top of
// the recorded ones. The daily cap uses the fixed UTC day and counts only
// recorded invites; hitting it is expected behaviour and is not audited.
func (s *InviteService) CheckInviterRisk(ctx context.Context, inviterID string) (*InviterRisk, error) {
	return s.checkInviterRisk(s.DB.WithContext(ctx), inviterID, nowFrom(s.Now))
}

func (s *InviteService) checkInviterRisk(db *gorm.DB, inviterID string, now time.Time) (*InviterRisk, error) {
	cfg := s.Config.Current()
	count := func(since time.Time) (int64, error) {
		var n int64
		err := db.Model(&models.Invite{}).
			Where("inviter_id = ? AND created_at >= ?", inviterID, since).
			Count(&n).Error
		return n, err
	}

	var r InviterRisk
	var err error
	if r.BurstCount, err = count(now.Add(-cfg.BurstWindow())); err != nil {
		return nil, err
	}
	if r.HourlyCount, err = count(now.Add(-cfg.HourlyWindow())); err != nil {
		return nil, err
	}
	if r.DailyCount, err = count(utils.UTCDayStart(now)); err != nil {
		return nil, err
	}

	switch {
	case r.BurstCount+1 >= int64(cfg.BurstInviteLimit):
		r.Level = models.RiskHigh
		r.Reason = fmt.Sprintf("too many invites: %d within %d minutes", r.BurstCount+1, cfg.BurstWindowMinutes)
		r.EventType = RiskEventInviteBurst
		r.ShouldRecordEvent = true
	case r.HourlyCount+1 >= int64(cfg.HourlyInviteLimit):
		r.Level = models.RiskMedium
		r.Reason = fmt.Sprintf("too many invites: %d within %d minutes", r.HourlyCount+1, cfg.HourlyWindowMinutes)
		r.EventType = RiskEventInviteHourly
		r.ShouldRecordEvent = true
	case r.DailyCount >= int64(cfg.DailyInviteLimit):
		r.Level = models.RiskMedium
		r.Reason = fmt.Sprintf("daily invite limit of %d reached", cfg.DailyInviteLimit)
		r.EventType = RiskEventInviteDaily
		r.ShouldRecordEvent = false
	default:
		r.Allowed = true
		r.Level = models.RiskLow
	}
	return &r, nil
}

// CheckInviteeRisk delays rewards for accounts younger than the configured age.
func (s *InviteService) CheckInviteeRisk(invitee *models.User) InviteeRisk {
	cfg := s.Config.Current()
	age := invitee.AccountAge(nowFrom(s.Now))
	r := InviteeRisk{AccountAgeHours: age.Hours(), Level: models.RiskLow}
	if age < cfg.NewAccountDelay() {
		r.ShouldDelayReward = true
	}
	return r
}

// recordRiskEvent appends an audit row and raises the subject's risk score.
func recordRiskEvent(db *gorm.DB, userID, eventType string, level models.RiskLevel, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.RiskEvent{
			UserID:    userID,
			EventType: eventType,
			Severity:  level,
			Details:   string(raw),
		}).Error; err != nil {
			return err
		}
		if delta := level.ScoreDelta(); delta > 0 {
			return tx.Model(&models.User{}).Where("id = ?", userID).
				Update("risk_score", gorm.Expr("risk_score + ?", delta)).Error
		}
		return nil
	})
}

// ProcessInvite binds inviteeID to the owner of code. Checks run in order:
// code lookup, self invite, existing invite, lifetime cap, inviter velocity,
// invitee account age.
func (s *InviteService) ProcessInvite(ctx context.Context, inviteeID, code string) (*InviteResult, error) {
	cfg := s.Config.Current()
	now := nowFrom(s.Now)
	db := s.DB.WithContext(ctx)
	code = strings.ToUpper(strings.TrimSpace(code))

	var inviter models.User
	if err := db.First(&inviter, "invite_code = ?", code).Error; err != nil {
		if isNotFound(err) {
			return nil, domainErr(KindInviterNotFound, "invite code %q does not exist", code)
		}
		return nil, infra("resolve invite code", err)
	}
	if inviter.ID == inviteeID {
		return nil, domainErr(KindSelfInvite, "you cannot use your own invite code")
	}

	var invitee models.User
	if err := db.First(&invitee, "id = ?", inviteeID).Error; err != nil {
		if isNotFound(err) {
			return nil, domainErr(KindNotFound, "user not found")
		}
		return nil, infra("load invitee", err)
	}

	var existing int64
	if err := db.Model(&models.Invite{}).Where("invitee_id = ?", inviteeID).Count(&existing).Error; err != nil {
		return nil, infra("check existing invite", err)
	}
	if existing > 0 {
		return nil, domainErr(KindAlreadyInvited, "you have already been invited")
	}
	if inviter.InviteCount >= cfg.MaxInvites {
		return nil, domainErr(KindInviteCapReached, "inviter reached the limit of %d invites", cfg.MaxInvites)
	}

	risk, err := s.checkInviterRisk(db, inviter.ID, now)
	if err != nil {
		return nil, infra("inviter risk", err)
	}
	if !risk.Allowed {
		if risk.ShouldRecordEvent {
			details := map[string]interface{}{
				"invitee_id":   inviteeID,
				"burst_count":  risk.BurstCount,
				"hourly_count": risk.HourlyCount,
				"daily_count":  risk.DailyCount,
				"reason":       risk.Reason,
			}
			if err := recordRiskEvent(db, inviter.ID, risk.EventType, risk.Level, details); err != nil {
				log.Printf("⚠️ [INVITE] Failed to record risk event for %s: %v", inviter.ID, err)
			}
		}
		log.Printf("🛑 [INVITE] Blocked inviter=%s invitee=%s level=%s: %s", inviter.ID, inviteeID, risk.Level, risk.Reason)
		return nil, &DomainError{
			Kind:      KindRiskBlocked,
			Reason:    risk.Reason,
			RiskLevel: risk.Level,
			Details:   map[string]interface{}{"event_recorded": risk.ShouldRecordEvent},
		}
	}

	inviteeRisk := s.CheckInviteeRisk(&invitee)
	inviterBonus, inviteeBonus := cfg.InviterBonus, cfg.InviteeBonus
	if inviteeRisk.ShouldDelayReward {
		inviterBonus, inviteeBonus = decimal.Zero, decimal.Zero
	}

	result := InviteResult{
		InviterReward: inviterBonus,
		InviteeReward: inviteeBonus,
		Asset:         cfg.InviteBonusAsset,
		RewardDelayed: inviteeRisk.ShouldDelayReward,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		result.Invite = models.Invite{
			InviterID:     inviter.ID,
			InviteeID:     inviteeID,
			CodeUsed:      code,
			InviterBonus:  inviterBonus,
			InviteeBonus:  inviteeBonus,
			BonusAsset:    cfg.InviteBonusAsset,
			RewardDelayed: inviteeRisk.ShouldDelayReward,
			CreatedAt:     now,
		}
		if err := tx.Create(&result.Invite).Error; err != nil {
			return err
		}
		if inviterBonus.IsPositive() {
			if err := creditReward(tx, &models.Reward{
				UserID:   inviter.ID,
				Category: models.RewardCategoryInviter,
				SourceID: result.Invite.ID,
				Asset:    cfg.InviteBonusAsset,
				Amount:   inviterBonus,
			}); err != nil {
				return err
			}
		}
		if inviteeBonus.IsPositive() {
			if err := creditReward(tx, &models.Reward{
				UserID:   inviteeID,
				Category: models.RewardCategoryInvitee,
				SourceID: result.Invite.ID,
				Asset:    cfg.InviteBonusAsset,
				Amount:   inviteeBonus,
			}); err != nil {
				return err
			}
		}
		return tx.Model(&models.User{}).Where("id = ?", inviter.ID).
			Update("invite_count", gorm.Expr("invite_count + 1")).Error
	})
	if isUniqueViolation(err) {
		return nil, domainErr(KindAlreadyInvited, "you have already been invited")
	}
	if err != nil {
		return nil, infra("record invite", err)
	}

	if inviteeRisk.ShouldDelayReward {
		details := map[string]interface{}{
			"inviter_id":        inviter.ID,
			"invite_id":         result.Invite.ID,
			"account_age_hours": inviteeRisk.AccountAgeHours,
		}
		if err := recordRiskEvent(db, inviteeID, RiskEventDelayedReward, models.RiskLow, details); err != nil {
			log.Printf("⚠️ [INVITE] Failed to record delay event for %s: %v", inviteeID, err)
		}
	}

	log.Printf("🤝 [INVITE] inviter=%s invitee=%s bonuses=%s/%s %s delayed=%t",
		inviter.ID, inviteeID, inviterBonus, inviteeBonus, cfg.InviteBonusAsset, inviteeRisk.ShouldDelayReward)
	notify(ctx, s.Notifier, inviter.ID, NotifyInviteAccepted, map[string]interface{}{
		"amount": inviterBonus.String(),
		"asset":  string(cfg.InviteBonusAsset),
	})
	return &result, nil
}

type InviteStats struct {
	InviteCode    string          `json:"invite_code"`
	TotalInvites  int64           `json:"total_invites"`
	MaxInvites    int64           `json:"max_invites"`
	DelayedCount  int64           `json:"delayed_count"`
	BonusEarned   decimal.Decimal `json:"bonus_earned"`
	RecentInvites []models.Invite `json:"recent_invites"`
}

func (s *InviteService) Stats(ctx context.Context, userID string) (*InviteStats, error) {
	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, domainErr(KindNotFound, "user not found")
		}
		return nil, infra("load user", err)
	}
	stats := &InviteStats{InviteCode: user.InviteCode, MaxInvites: s.Config.Current().MaxInvites}

	var invites []models.Invite
	if err := db.Where("inviter_id = ?", userID).Order("created_at DESC").Find(&invites).Error; err != nil {
		return nil, infra("list invites", err)
	}
	stats.TotalInvites = int64(len(invites))
	for _, inv := range invites {
		if inv.RewardDelayed {
			stats.DelayedCount++
		}
		stats.BonusEarned = stats.BonusEarned.Add(inv.InviterBonus)
	}
	if len(invites) > 10 {
		invites = invites[:10]
	}
	stats.RecentInvites = invites
	return stats, nil
}

// RiskEvents lists audit events for operators, newest first.
func (s *InviteService) RiskEvents(ctx context.Context, userID string, limit int) ([]models.RiskEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var events []models.RiskEvent
	err := q.Find(&events).Error
	return events, infra("list risk events", err)
}
