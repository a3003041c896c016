package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CheckIn is one record per user-local calendar day, keyed by day number
type CheckIn struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string          `gorm:"not null;uniqueIndex:idx_checkin_user_day,priority:1" json:"user_id"`
	DayNumber int             `gorm:"not null;uniqueIndex:idx_checkin_user_day,priority:2" json:"day_number"`
	LocalDate string          `gorm:"size:10;not null" json:"local_date"`
	TzOffset  int             `gorm:"not null" json:"tz_offset"`
	Amount    decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"amount"`
	StreakDay int             `gorm:"not null;default:0" json:"streak_day"`
	IsMakeup  bool            `gorm:"not null;default:false" json:"is_makeup"`
	CheckedAt time.Time       `gorm:"not null" json:"checked_at"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (c *CheckIn) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
