package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset is a balance bucket key. Unknown labels are kept as-is.
type Asset string

const (
	AssetPoints Asset = "POINTS"
	AssetStars  Asset = "STARS" // in-app currency
	AssetUSDT   Asset = "USDT"  // on-chain stable asset
)

// RewardCategory records which engine produced a credit
type RewardCategory string

const (
	RewardCategoryQuest      RewardCategory = "quest"
	RewardCategoryCheckIn    RewardCategory = "checkin"
	RewardCategoryMakeup     RewardCategory = "checkin_makeup"
	RewardCategoryInviter    RewardCategory = "invite_inviter"
	RewardCategoryInvitee    RewardCategory = "invite_invitee"
	RewardCategoryAdjustment RewardCategory = "adjustment"
)

// RewardStatus tracks settlement of a credit
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "PENDING"
	RewardStatusCompleted RewardStatus = "COMPLETED"
	RewardStatusFailed    RewardStatus = "FAILED"
)

// Reward is an immutable credit. (Category, SourceID, UserID) is unique, so
// a given quest action, check-in or invite can credit a user at most once.
type Reward struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string          `gorm:"not null;index;uniqueIndex:idx_reward_source,priority:3" json:"user_id"`
	Category       RewardCategory  `gorm:"not null;uniqueIndex:idx_reward_source,priority:1" json:"category"`
	SourceID       string          `gorm:"not null;uniqueIndex:idx_reward_source,priority:2" json:"source_id"`
	QuestID        *string         `gorm:"index" json:"quest_id,omitempty"`
	Asset          Asset           `gorm:"not null;index" json:"asset"`
	Amount         decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"amount"`
	Status         RewardStatus    `gorm:"not null;default:'COMPLETED';index" json:"status"`
	SettlementHash *string         `json:"settlement_hash,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime;index"`
}

func (r *Reward) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
