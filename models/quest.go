package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuestType enumerates the social actions a quest can ask for
type QuestType string

const (
	QuestTypeJoinChannel     QuestType = "join_channel"
	QuestTypeJoinGroup       QuestType = "join_group"
	QuestTypeOnChainTransfer QuestType = "onchain_transfer"
	QuestTypeFollowAccount   QuestType = "follow_account"
	QuestTypeDeepLink        QuestType = "deep_link"
	QuestTypeLikePost        QuestType = "like_post"
)

func (t QuestType) Valid() bool {
	switch t {
	case QuestTypeJoinChannel, QuestTypeJoinGroup, QuestTypeOnChainTransfer,
		QuestTypeFollowAccount, QuestTypeDeepLink, QuestTypeLikePost:
		return true
	}
	return false
}

// RequiresVerification reports whether a submission must pass a proof check
// before it can be rewarded. Deep links are self-evident.
func (t QuestType) RequiresVerification() bool {
	return t != QuestTypeDeepLink
}

type QuestStatus string

const (
	QuestStatusActive   QuestStatus = "active"
	QuestStatusInactive QuestStatus = "inactive"
)

// Quest is an operator-defined task. Reward terms are frozen once claimed;
// only Status may change afterwards.
type Quest struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Slug        string          `gorm:"uniqueIndex;not null" json:"slug"`
	Title       string          `gorm:"not null" json:"title"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	Type        QuestType       `gorm:"not null;index" json:"type"`
	RewardAsset Asset           `gorm:"not null" json:"reward_asset"`
	RewardAmt   decimal.Decimal `gorm:"type:numeric(36,8);not null" json:"reward_amount"`
	PerUserCap  int             `gorm:"not null;default:1" json:"per_user_cap"`
	DailyCap    int             `gorm:"not null;default:0" json:"daily_cap"` // 0 = unlimited
	Status      QuestStatus     `gorm:"not null;default:'active';index" json:"status"`
	TargetRef   string          `json:"target_ref,omitempty"`   // channel id, post URL, ...
	ProofMarker string          `json:"proof_marker,omitempty"` // identity the proof must show
	Timestamps
}

func (q *Quest) BeforeCreate(tx *gorm.DB) error {
	ensureID(&q.ID)
	return nil
}

// ActionState is the lifecycle state of one user's attempt at a quest
type ActionState string

const (
	ActionClaimed   ActionState = "CLAIMED"
	ActionSubmitted ActionState = "SUBMITTED"
	ActionRewarded  ActionState = "REWARDED"
	ActionRejected  ActionState = "REJECTED"
)

func (s ActionState) Terminal() bool {
	return s == ActionRewarded || s == ActionRejected
}

// QuestAction joins a User and a Quest. Attempt numbers are unique per
// (user, quest) so concurrent claims cannot both land as the same attempt.
type QuestAction struct {
	ID      string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID  string      `gorm:"not null;uniqueIndex:idx_action_attempt,priority:1;index" json:"user_id"`
	QuestID string      `gorm:"not null;uniqueIndex:idx_action_attempt,priority:2;index" json:"quest_id"`
	Attempt int         `gorm:"not null;uniqueIndex:idx_action_attempt,priority:3" json:"attempt"`
	State   ActionState `gorm:"not null;index" json:"state"`

	Proof             string  `gorm:"type:text" json:"proof,omitempty"`
	ProofURL          string  `gorm:"type:text" json:"proof_url,omitempty"`
	NeedsManualReview bool    `gorm:"not null;default:false;index" json:"needs_manual_review"`
	VerifyConfidence  float64 `json:"verify_confidence"`
	VerifyReason      string  `gorm:"type:text" json:"verify_reason,omitempty"`
	ReviewedBy        string  `json:"reviewed_by,omitempty"`

	ClaimedAt   time.Time  `gorm:"not null" json:"claimed_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	RewardedAt  *time.Time `json:"rewarded_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`

	Quest *Quest `gorm:"foreignKey:QuestID" json:"quest,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (a *QuestAction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// QuestDailyCounter counts claims of a quest within one UTC day (YYYY-MM-DD)
type QuestDailyCounter struct {
	QuestID string `gorm:"primaryKey;type:varchar(36)"`
	Day     string `gorm:"primaryKey;size:10"`
	Claims  int    `gorm:"not null;default:0"`
}
