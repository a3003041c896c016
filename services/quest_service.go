// services/quest_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuestService owns quests and drives each user's attempt through
// CLAIMED -> SUBMITTED -> REWARDED, with REJECTED reachable from SUBMITTED.
type QuestService struct {
	DB       *gorm.DB
	Config   ConfigProvider
	Verifier ProofVerifier
	Notifier Notifier
	Now      func() time.Time
}

func NewQuestService(db *gorm.DB, cfg ConfigProvider, verifier ProofVerifier, notifier Notifier) *QuestService {
	return &QuestService{DB: db, Config: cfg, Verifier: verifier, Notifier: notifier}
}

// --- Administration ---

type QuestInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Type        models.QuestType `json:"type"`
	RewardAsset models.Asset     `json:"reward_asset"`
	RewardAmt   decimal.Decimal  `json:"reward_amount"`
	PerUserCap  int              `json:"per_user_cap"`
	DailyCap    int              `json:"daily_cap"`
	TargetRef   string           `json:"target_ref"`
	ProofMarker string           `json:"proof_marker"`
}

func (s *QuestService) CreateQuest(ctx context.Context, in QuestInput) (*models.Quest, error) {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return nil, domainErr(KindInvalidInput, "title is required")
	case !in.Type.Valid():
		return nil, domainErr(KindInvalidInput, "unknown quest type %q", in.Type)
	case in.RewardAsset == "":
		return nil, domainErr(KindInvalidInput, "reward asset is required")
	case !in.RewardAmt.IsPositive():
		return nil, domainErr(KindInvalidInput, "reward amount must be positive")
	case in.PerUserCap < 0 || in.DailyCap < 0:
		return nil, domainErr(KindInvalidInput, "caps must not be negative")
	}
	if in.PerUserCap == 0 {
		in.PerUserCap = 1
	}

	db := s.DB.WithContext(ctx)
	base := slug.Make(in.Title)
	if base == "" {
		base = "quest"
	}
	candidate := base
	for n := 2; ; n++ {
		var count int64
		if err := db.Model(&models.Quest{}).Unscoped().Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return nil, infra("check slug", err)
		}
		if count == 0 {
			break
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}

	quest := models.Quest{
		Slug:        candidate,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		RewardAsset: in.RewardAsset,
		RewardAmt:   in.RewardAmt,
		PerUserCap:  in.PerUserCap,
		DailyCap:    in.DailyCap,
		Status:      models.QuestStatusActive,
		TargetRef:   strings.TrimSpace(in.TargetRef),
		ProofMarker: strings.TrimSpace(in.ProofMarker),
	}
	if err := db.Create(&quest).Error; err != nil {
		return nil, infra("create quest", err)
	}
	log.Printf("✅ [QUEST] Created quest %s (%s) %s %s", quest.ID, quest.Slug, quest.RewardAmt, quest.RewardAsset)
	return &quest, nil
}

// SetQuestStatus retires or reactivates a quest. Reward terms never change.
func (s *QuestService) SetQuestStatus(ctx context.Context, questID string, status models.QuestStatus) (*models.Quest, error) {
	if status != models.QuestStatusActive && status != models.QuestStatusInactive {
		return nil, domainErr(KindInvalidInput, "unknown status %q", status)
	}
	res := s.DB.WithContext(ctx).Model(&models.Quest{}).Where("id = ?", questID).Update("status", status)
	if res.Error != nil {
		return nil, infra("update quest status", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domainErr(KindNotFound, "quest not found")
	}
	log.Printf("🔁 [QUEST] Quest %s is now %s", questID, status)
	return s.GetQuest(ctx, questID)
}

func (s *QuestService) GetQuest(ctx context.Context, questID string) (*models.Quest, error) {
	var quest models.Quest
	err := s.DB.WithContext(ctx).First(&quest, "id = ? OR slug = ?", questID, questID).Error
	if isNotFound(err) {
		return nil, domainErr(KindNotFound, "quest not found")
	}
	if err != nil {
		return nil, infra("load quest", err)
	}
	return &quest, nil
}

func (s *QuestService) ListQuests(ctx context.Context, includeInactive bool) ([]models.Quest, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if !includeInactive {
		q = q.Where("status = ?", models.QuestStatusActive)
	}
	var quests []models.Quest
	if err := q.Find(&quests).Error; err != nil {
		return nil, infra("list quests", err)
	}
	return quests, nil
}

// UserActions lists a user's attempts, newest first, with their quests.
func (s *QuestService) UserActions(ctx context.Context, userID string) ([]models.QuestAction, error) {
	var actions []models.QuestAction
	err := s.DB.WithContext(ctx).Preload("Quest").
		Where("user_id = ?", userID).
		Order("claimed_at DESC").
		Find(&actions).Error
	return actions, infra("list actions", err)
}

// ReviewQueue lists submissions waiting for a human, oldest first.
func (s *QuestService) ReviewQueue(ctx context.Context, limit int) ([]models.QuestAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var actions []models.QuestAction
	err := s.DB.WithContext(ctx).Preload("Quest").
		Where("state = ? AND needs_manual_review = ?", models.ActionSubmitted, true).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&actions).Error
	return actions, infra("review queue", err)
}

// --- State machine ---

// latestAction is the most recent attempt of userID on questID.
func latestAction(db *gorm.DB, userID, questID string) (*models.QuestAction, error) {
	var action models.QuestAction
	err := db.Where("user_id = ? AND quest_id = ?", userID, questID).
		Order("attempt DESC").
		First(&action).Error
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// Claim opens a new attempt. questID may be the quest's id or slug, as for
// Submit and Reward. The quest row is locked so the cap checks and
// the daily counter bump are serialized per quest.
func (s *QuestService) Claim(ctx context.Context, userID, questID string) (*models.QuestAction, error) {
	now := nowFrom(s.Now)
	day := utils.UTCDayKey(now)

	var action models.QuestAction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&quest, "id = ? OR slug = ?", questID, questID).Error; err != nil {
			if isNotFound(err) {
				return domainErr(KindNotFound, "quest not found")
			}
			return err
		}
		if quest.Status != models.QuestStatusActive {
			return domainErr(KindCapExceeded, "quest is not active")
		}
		questID = quest.ID

		var open int64
		if err := tx.Model(&models.QuestAction{}).
			Where("user_id = ? AND quest_id = ? AND state <> ?", userID, questID, models.ActionRejected).
			Count(&open).Error; err != nil {
			return err
		}
		perUser := quest.PerUserCap
		if perUser < 1 {
			perUser = 1
		}
		if open >= int64(perUser) {
			return domainErr(KindCapExceeded, "per-user cap of %d reached", perUser)
		}
		if prev, err := latestAction(tx, userID, questID); err == nil && !prev.State.Terminal() {
			return domainErr(KindInvalidState, "an attempt is already in progress (%s)", prev.State)
		} else if err != nil && !isNotFound(err) {
			return err
		}

		if quest.DailyCap > 0 {
			var counter models.QuestDailyCounter
			err := tx.First(&counter, "quest_id = ? AND day = ?", questID, day).Error
			if err != nil && !isNotFound(err) {
				return err
			}
			if counter.Claims >= quest.DailyCap {
				return domainErr(KindCapExceeded, "daily cap of %d reached", quest.DailyCap)
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "quest_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"claims": gorm.Expr("quest_daily_counters.claims + 1")}),
		}).Create(&models.QuestDailyCounter{QuestID: questID, Day: day, Claims: 1}).Error; err != nil {
			return err
		}

		var maxAttempt int
		if err := tx.Model(&models.QuestAction{}).
			Where("user_id = ? AND quest_id = ?", userID, questID).
			Select("COALESCE(MAX(attempt), 0)").
			Scan(&maxAttempt).Error; err != nil {
			return err
		}

		action = models.QuestAction{
			UserID:    userID,
			QuestID:   questID,
			Attempt:   maxAttempt + 1,
			State:     models.ActionClaimed,
			ClaimedAt: now,
		}
		return tx.Create(&action).Error
	})
	if isUniqueViolation(err) {
		return nil, domainErr(KindCapExceeded, "quest already claimed")
	}
	if err != nil {
		return nil, infra("claim quest", err)
	}
	log.Printf("🎯 [QUEST] user=%s claimed quest=%s attempt=%d", userID, questID, action.Attempt)
	return &action, nil
}

type Proof struct {
	Text     string `json:"proof"`
	ImageURL string `json:"proof_url"`
}

// ClaimedAttempt resolves the quest by id or slug and returns the user's
// attempt on it, which must be CLAIMED. Callers use it to reject a
// submission before accepting any proof payload.
func (s *QuestService) ClaimedAttempt(ctx context.Context, userID, questID string) (*models.Quest, *models.QuestAction, error) {
	quest, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, nil, err
	}
	action, err := latestAction(s.DB.WithContext(ctx), userID, quest.ID)
	if isNotFound(err) {
		return nil, nil, domainErr(KindInvalidState, "quest has not been claimed")
	}
	if err != nil {
		return nil, nil, infra("load action", err)
	}
	if action.State != models.ActionClaimed {
		return nil, nil, domainErr(KindInvalidState, "cannot submit from %s", action.State)
	}
	return quest, action, nil
}

type SubmitResult struct {
	Action  *models.QuestAction `json:"action"`
	Verdict *Verdict            `json:"verdict,omitempty"`
	Reward  *models.Reward      `json:"reward,omitempty"`
}

// Submit stores the proof and moves the attempt to SUBMITTED. Quests that
// need verification are checked right away; a verifier that is missing,
// failing or unsure leaves the action flagged for manual review. A passing
// or unneeded verification rewards immediately.
func (s *QuestService) Submit(ctx context.Context, userID, questID string, proof Proof) (*SubmitResult, error) {
	db := s.DB.WithContext(ctx)
	now := nowFrom(s.Now)

	quest, action, err := s.ClaimedAttempt(ctx, userID, questID)
	if err != nil {
		return nil, err
	}

	needsCheck := quest.Type.RequiresVerification()
	res := db.Model(&models.QuestAction{}).
		Where("id = ? AND state = ?", action.ID, models.ActionClaimed).
		Updates(map[string]interface{}{
			"state":               models.ActionSubmitted,
			"proof":               proof.Text,
			"proof_url":           proof.ImageURL,
			"submitted_at":        now,
			"needs_manual_review": needsCheck,
		})
	if res.Error != nil {
		return nil, infra("submit proof", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domainErr(KindInvalidState, "attempt is no longer CLAIMED")
	}
	action.State = models.ActionSubmitted
	action.Proof = proof.Text
	action.ProofURL = proof.ImageURL
	action.SubmittedAt = &now
	action.NeedsManualReview = needsCheck

	result := &SubmitResult{Action: action}
	if needsCheck {
		verdict := s.verify(ctx, userID, *quest, proof)
		result.Verdict = verdict
		cfg := s.Config.Current()
		passed := verdict.IsValid && !verdict.NeedsManualReview && verdict.Confidence >= cfg.VerifierMinConfidence

		if err := db.Model(&models.QuestAction{}).Where("id = ?", action.ID).Updates(map[string]interface{}{
			"verify_confidence":   verdict.Confidence,
			"verify_reason":       verdict.Reason,
			"needs_manual_review": !passed,
		}).Error; err != nil {
			return nil, infra("store verdict", err)
		}
		action.VerifyConfidence = verdict.Confidence
		action.VerifyReason = verdict.Reason
		action.NeedsManualReview = !passed
		if !passed {
			log.Printf("🕵️ [QUEST] action=%s flagged for manual review: %s (confidence %.2f)", action.ID, verdict.Reason, verdict.Confidence)
			return result, nil
		}
	}

	reward, err := s.rewardAction(ctx, action.ID, "")
	if err != nil {
		return nil, err
	}
	result.Reward = reward
	action.State = models.ActionRewarded
	action.NeedsManualReview = false
	return result, nil
}

// verify never fails: every problem turns into a manual-review verdict.
func (s *QuestService) verify(ctx context.Context, userID string, quest models.Quest, proof Proof) *Verdict {
	if s.Verifier == nil {
		return &Verdict{Reason: "no verifier configured", NeedsManualReview: true}
	}
	var telegramID int64
	var user models.User
	if err := s.DB.WithContext(ctx).Select("telegram_id").First(&user, "id = ?", userID).Error; err == nil {
		telegramID = user.TelegramID
	}

	vctx, cancel := context.WithTimeout(ctx, s.Config.Current().VerifierTimeout())
	defer cancel()
	verdict, err := s.Verifier.Verify(vctx, VerificationRequest{
		UserID:     userID,
		TelegramID: telegramID,
		Quest:      quest,
		Proof:      proof.Text,
		ProofURL:   proof.ImageURL,
	})
	if err != nil {
		log.Printf("⚠️ [QUEST] Verifier unavailable for quest %s: %v", quest.ID, err)
		return &Verdict{Reason: "verification unavailable", NeedsManualReview: true}
	}
	if verdict == nil {
		return &Verdict{Reason: "empty verdict", NeedsManualReview: true}
	}
	return verdict
}

// Reward credits the user's latest attempt. Calling it again on a rewarded
// attempt returns the original credit.
func (s *QuestService) Reward(ctx context.Context, userID, questID string) (*models.Reward, error) {
	quest, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	action, err := latestAction(s.DB.WithContext(ctx), userID, quest.ID)
	if isNotFound(err) {
		return nil, domainErr(KindInvalidState, "quest has not been claimed")
	}
	if err != nil {
		return nil, infra("load action", err)
	}
	return s.rewardAction(ctx, action.ID, "")
}

// Approve is the manual override: it rewards a submission regardless of the
// verifier's opinion.
func (s *QuestService) Approve(ctx context.Context, actionID, reviewer string) (*models.Reward, error) {
	if reviewer == "" {
		reviewer = "admin"
	}
	return s.rewardAction(ctx, actionID, reviewer)
}

func (s *QuestService) Reject(ctx context.Context, actionID, reviewer, reason string) (*models.QuestAction, error) {
	now := nowFrom(s.Now)
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.QuestAction{}).
		Where("id = ? AND state = ?", actionID, models.ActionSubmitted).
		Updates(map[string]interface{}{
			"state":               models.ActionRejected,
			"rejected_at":         now,
			"reviewed_by":         reviewer,
			"verify_reason":       reason,
			"needs_manual_review": false,
		})
	if res.Error != nil {
		return nil, infra("reject action", res.Error)
	}
	var action models.QuestAction
	if err := db.First(&action, "id = ?", actionID).Error; err != nil {
		if isNotFound(err) {
			return nil, domainErr(KindNotFound, "action not found")
		}
		return nil, infra("load action", err)
	}
	if res.RowsAffected == 0 {
		return nil, domainErr(KindInvalidState, "cannot reject from %s", action.State)
	}
	log.Printf("🚫 [QUEST] action=%s rejected by %s: %s", actionID, reviewer, reason)
	return &action, nil
}

// rewardAction transitions SUBMITTED -> REWARDED and appends the credit in a
// single transaction. A non-empty reviewer bypasses the manual review flag.
func (s *QuestService) rewardAction(ctx context.Context, actionID, reviewer string) (*models.Reward, error) {
	now := nowFrom(s.Now)
	var reward models.Reward
	var quest models.Quest
	fresh := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var action models.QuestAction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&action, "id = ?", actionID).Error; err != nil {
			if isNotFound(err) {
				return domainErr(KindNotFound, "action not found")
			}
			return err
		}
		if action.State == models.ActionRewarded {
			return tx.Where("category = ? AND source_id = ?", models.RewardCategoryQuest, action.ID).First(&reward).Error
		}
		if action.State != models.ActionSubmitted {
			return domainErr(KindInvalidState, "cannot reward from %s", action.State)
		}
		if action.NeedsManualReview && reviewer == "" {
			return domainErr(KindInvalidState, "submission is awaiting manual review")
		}
		if err := tx.First(&quest, "id = ?", action.QuestID).Error; err != nil {
			return err
		}

		res := tx.Model(&models.QuestAction{}).
			Where("id = ? AND state = ?", action.ID, models.ActionSubmitted).
			Updates(map[string]interface{}{
				"state":               models.ActionRewarded,
				"rewarded_at":         now,
				"needs_manual_review": false,
				"reviewed_by":         reviewer,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domainErr(KindInvalidState, "attempt changed state concurrently")
		}

		reward = models.Reward{
			UserID:   action.UserID,
			Category: models.RewardCategoryQuest,
			SourceID: action.ID,
			QuestID:  &quest.ID,
			Asset:    quest.RewardAsset,
			Amount:   quest.RewardAmt,
		}
		fresh = true
		return creditReward(tx, &reward)
	})
	if isUniqueViolation(err) {
		var existing models.Reward
		if lookupErr := s.DB.WithContext(ctx).
			Where("category = ? AND source_id = ?", models.RewardCategoryQuest, actionID).
			First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErr(KindNotFound, "reward record missing for rewarded action")
		}
		return nil, infra("reward quest", err)
	}

	if fresh {
		log.Printf("💰 [QUEST] user=%s action=%s rewarded %s %s", reward.UserID, actionID, reward.Amount, reward.Asset)
		notify(ctx, s.Notifier, reward.UserID, NotifyQuestRewarded, map[string]interface{}{
			"quest":  quest.Title,
			"amount": reward.Amount.String(),
			"asset":  string(reward.Asset),
		})
	}
	return &reward, nil
}
