package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ensureID fills a string primary key before insert so the schema does not
// depend on gen_random_uuid() being available.
func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// All lists every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Quest{},
		&QuestAction{},
		&QuestDailyCounter{},
		&Reward{},
		&Payout{},
		&PendingTransaction{},
		&CheckIn{},
		&Invite{},
		&RiskEvent{},
		&OutboxMessage{},
		&AppSetting{},
	}
}
