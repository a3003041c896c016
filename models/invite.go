package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invite records who brought a user in. One lifetime inviter per invitee.
type Invite struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	InviterID     string          `gorm:"not null;index:idx_invite_inviter_time,priority:1" json:"inviter_id"`
	InviteeID     string          `gorm:"not null;uniqueIndex" json:"invitee_id"`
	CodeUsed      string          `gorm:"not null" json:"code_used"`
	InviterBonus  decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"inviter_bonus"`
	InviteeBonus  decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"invitee_bonus"`
	BonusAsset    Asset           `gorm:"not null" json:"bonus_asset"`
	RewardDelayed bool            `gorm:"not null;default:false" json:"reward_delayed"`
	CreatedAt     time.Time       `gorm:"not null;index:idx_invite_inviter_time,priority:2" json:"created_at"`
}

func (i *Invite) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ScoreDelta is how much a recorded event of this severity adds to User.RiskScore
func (l RiskLevel) ScoreDelta() int {
	switch l {
	case RiskMedium:
		return 3
	case RiskHigh:
		return 10
	case RiskCritical:
		return 25
	}
	return 0
}

// RiskEvent is an append-only audit record for fraud review
type RiskEvent struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"not null;index" json:"user_id"`
	EventType string    `gorm:"not null;index" json:"event_type"`
	Severity  RiskLevel `gorm:"not null;index" json:"severity"`
	Details   string    `gorm:"type:text" json:"details"` // JSON object
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (e *RiskEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
