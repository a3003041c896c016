package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is the local account record for an identity-provider user.
// Created on first authenticated request, enriched by the profile sync worker.
// Never hard-deleted.
type User struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // identity provider's id
	TelegramID     int64  `gorm:"index" json:"telegram_id,omitempty"`
	Username       string `gorm:"index" json:"username"`
	Locale         string `gorm:"size:16;default:'en'" json:"locale"`

	PointsTotal decimal.Decimal `gorm:"type:numeric(36,8);not null;default:0" json:"points_total"`
	RiskScore   int             `gorm:"not null;default:0" json:"risk_score"`

	WithdrawAddress      *string `json:"withdraw_address,omitempty"`
	NotificationsEnabled bool    `gorm:"not null;default:true" json:"notifications_enabled"`

	InviteCode  string `gorm:"uniqueIndex;size:16;not null" json:"invite_code"`
	InviteCount int64  `gorm:"not null;default:0" json:"invite_count"`

	// AccountCreatedAt is the identity provider's creation time when known.
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	IsBanned         bool       `json:"is_banned" gorm:"default:false"`

	Timestamps
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// AccountAge is measured from the provider's creation time, falling back to
// the local row's creation time.
func (u *User) AccountAge(now time.Time) time.Duration {
	created := u.CreatedAt
	if u.AccountCreatedAt != nil && !u.AccountCreatedAt.IsZero() {
		created = *u.AccountCreatedAt
	}
	age := now.Sub(created)
	if age < 0 {
		return 0
	}
	return age
}
