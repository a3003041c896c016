package models

import (
	"time"

	"gorm.io/gorm"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxMessage is a queued user notification, written after the core
// transaction commits and delivered by the dispatcher.
type OutboxMessage struct {
	ID            string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string       `gorm:"not null;index" json:"user_id"`
	Kind          string       `gorm:"not null" json:"kind"`
	Payload       string       `gorm:"type:text" json:"payload"` // JSON object
	Status        OutboxStatus `gorm:"not null;default:'pending';index:idx_outbox_due,priority:1" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	LastError     string       `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt time.Time    `gorm:"not null;index:idx_outbox_due,priority:2" json:"next_attempt_at"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

func (m *OutboxMessage) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// AppSetting is a versioned JSON configuration blob
type AppSetting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
