package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
	PayoutCancelled  PayoutStatus = "CANCELLED"
)

// Reserves reports whether a payout in this status is held against the balance.
func (s PayoutStatus) Reserves() bool {
	return s != PayoutFailed && s != PayoutCancelled
}

// Payout is a withdrawal request (a debit). Status moves forward only through
// the settlement collaborator, except PENDING -> CANCELLED by the owner.
type Payout struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string          `gorm:"not null;index" json:"user_id"`
	Asset          Asset           `gorm:"not null;index" json:"asset"`
	Amount         decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"amount"`
	ToAddress      string          `gorm:"not null" json:"to_address"`
	Status         PayoutStatus    `gorm:"not null;default:'PENDING';index" json:"status"`
	SettlementHash *string         `gorm:"index" json:"settlement_hash,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

type PendingTxStatus string

const (
	PendingTxOpen     PendingTxStatus = "OPEN"
	PendingTxResolved PendingTxStatus = "RESOLVED"
	PendingTxExpired  PendingTxStatus = "EXPIRED"
)

// PendingTransaction tracks a settlement submitted on-chain but not yet
// confirmed. Durable so any instance can resolve or expire it.
type PendingTransaction struct {
	TxID      string          `gorm:"primaryKey;size:128" json:"tx_id"`
	PayoutID  string          `gorm:"not null;index" json:"payout_id"`
	Status    PendingTxStatus `gorm:"not null;default:'OPEN';index" json:"status"`
	ExpiresAt time.Time       `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}
