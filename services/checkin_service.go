// services/checkin_service.go
package services

import (
	"context"
	"log"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CheckInService runs the daily check-in streak. Days are user-local and
// keyed by day number; the (user, day_number) unique index is the guard
// against concurrent double check-ins.
type CheckInService struct {
	DB       *gorm.DB
	Config   ConfigProvider
	Notifier Notifier
	Now      func() time.Time
}

func NewCheckInService(db *gorm.DB, cfg ConfigProvider, notifier Notifier) *CheckInService {
	return &CheckInService{DB: db, Config: cfg, Notifier: notifier}
}

type CheckInDay struct {
	Date      string `json:"date"`
	DayNumber int    `json:"day_number"`
	Checked   bool   `json:"checked"`
	IsToday   bool   `json:"is_today"`
	IsMakeup  bool   `json:"is_makeup"`
	CanMakeup bool   `json:"can_makeup"`
}

type CheckInStatus struct {
	Today        string          `json:"today"`
	TodayChecked bool            `json:"today_checked"`
	Streak       int             `json:"streak"`
	TodayReward  decimal.Decimal `json:"today_reward"` // table[streak mod len]
	// TodayCredited is what today's check-in paid; nil until checked in.
	TodayCredited *decimal.Decimal `json:"today_credited,omitempty"`
	Asset        models.Asset    `json:"asset"`
	Days         []CheckInDay    `json:"days"` // oldest first, today last
}

type CheckInResult struct {
	CheckIn models.CheckIn `json:"checkin"`
	Reward  models.Reward  `json:"reward"`
	Streak  int            `json:"streak"`
}

// computeStreak counts consecutive days ending at today, or at yesterday
// when today is not checked. days must be sorted descending.
func computeStreak(days []int, today int) int {
	i := 0
	for i < len(days) && days[i] > today {
		i++
	}
	cursor := today
	if i >= len(days) || days[i] != today {
		cursor = today - 1
	}
	streak := 0
	for ; i < len(days); i++ {
		if days[i] != cursor {
			break
		}
		streak++
		cursor--
	}
	return streak
}

func checkedDays(db *gorm.DB, userID string, upTo int) ([]int, error) {
	var days []int
	err := db.Model(&models.CheckIn{}).
		Where("user_id = ? AND day_number <= ?", userID, upTo).
		Order("day_number DESC").
		Pluck("day_number", &days).Error
	return days, err
}

func validateOffset(tzOffset int) error {
	if !utils.ValidTzOffset(tzOffset) {
		return domainErr(KindInvalidInput, "tz offset %d is outside [%d, %d] minutes", tzOffset, utils.MinTzOffset, utils.MaxTzOffset)
	}
	return nil
}

func (s *CheckInService) Status(ctx context.Context, userID string, tzOffset int) (*CheckInStatus, error) {
	if err := validateOffset(tzOffset); err != nil {
		return nil, err
	}
	cfg := s.Config.Current()
	now := nowFrom(s.Now)
	today := utils.DayNumber(now, tzOffset)
	db := s.DB.WithContext(ctx)

	days, err := checkedDays(db, userID, today)
	if err != nil {
		return nil, infra("load check-ins", err)
	}

	var recent []models.CheckIn
	if err := db.Where("user_id = ? AND day_number BETWEEN ? AND ?", userID, today-6, today).
		Find(&recent).Error; err != nil {
		return nil, infra("load recent check-ins", err)
	}
	byDay := make(map[int]models.CheckIn, len(recent))
	for _, c := range recent {
		byDay[c.DayNumber] = c
	}

	status := &CheckInStatus{
		Today:  utils.FormatLocalDate(now, tzOffset),
		Streak: computeStreak(days, today),
		Asset:  cfg.CheckInAsset,
	}
	todayRecord, checked := byDay[today]
	status.TodayChecked = checked
	if checked {
		credited := todayRecord.Amount
		status.TodayCredited = &credited
	}
	status.TodayReward = cfg.CheckInTable[status.Streak%len(cfg.CheckInTable)]

	for n := today - 6; n <= today; n++ {
		rec, ok := byDay[n]
		day := CheckInDay{
			Date:      utils.DateOfDayNumber(n),
			DayNumber: n,
			Checked:   ok,
			IsToday:   n == today,
			IsMakeup:  ok && rec.IsMakeup,
		}
		day.CanMakeup = !ok && n != today && today-n <= cfg.MakeupWindowDays
		status.Days = append(status.Days, day)
	}
	return status, nil
}

func (s *CheckInService) CheckIn(ctx context.Context, userID string, tzOffset int) (*CheckInResult, error) {
	if err := validateOffset(tzOffset); err != nil {
		return nil, err
	}
	cfg := s.Config.Current()
	now := nowFrom(s.Now)
	today := utils.DayNumber(now, tzOffset)

	var result CheckInResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		days, err := checkedDays(tx, userID, today)
		if err != nil {
			return err
		}
		if len(days) > 0 && days[0] == today {
			return domainErr(KindAlreadyCheckedIn, "already checked in for %s", utils.FormatLocalDate(now, tzOffset))
		}

		streak := computeStreak(days, today) + 1
		amount := cfg.CheckInReward(streak)

		result.CheckIn = models.CheckIn{
			UserID:    userID,
			DayNumber: today,
			LocalDate: utils.FormatLocalDate(now, tzOffset),
			TzOffset:  tzOffset,
			Amount:    amount,
			StreakDay: streak,
			CheckedAt: now,
		}
		if err := tx.Create(&result.CheckIn).Error; err != nil {
			return err
		}
		result.Reward = models.Reward{
			UserID:   userID,
			Category: models.RewardCategoryCheckIn,
			SourceID: result.CheckIn.ID,
			Asset:    cfg.CheckInAsset,
			Amount:   amount,
		}
		result.Streak = streak
		return creditReward(tx, &result.Reward)
	})
	if isUniqueViolation(err) {
		return nil, domainErr(KindAlreadyCheckedIn, "already checked in for %s", utils.FormatLocalDate(now, tzOffset))
	}
	if err != nil {
		return nil, infra("check in", err)
	}

	log.Printf("✅ [CHECKIN] user=%s day=%d (%s) streak=%d amount=%s %s",
		userID, today, result.CheckIn.LocalDate, result.Streak, result.Reward.Amount, result.Reward.Asset)
	notify(ctx, s.Notifier, userID, NotifyCheckIn, map[string]interface{}{
		"amount": result.Reward.Amount.String(),
		"asset":  string(result.Reward.Asset),
		"streak": result.Streak,
	})
	return &result, nil
}

// Makeup backfills a missed day within the makeup window at the fixed
// makeup reward. The record is stamped at local noon of that day.
func (s *CheckInService) Makeup(ctx context.Context, userID, date string, tzOffset int) (*CheckInResult, error) {
	if err := validateOffset(tzOffset); err != nil {
		return nil, err
	}
	cfg := s.Config.Current()
	now := nowFrom(s.Now)
	today := utils.DayNumber(now, tzOffset)

	target, err := utils.ParseLocalDate(date)
	if err != nil {
		return nil, domainErr(KindInvalidDate, "date must be YYYY-MM-DD")
	}
	switch back := today - target; {
	case back < 1:
		return nil, domainErr(KindInvalidDate, "makeup is only possible for past days")
	case back > cfg.MakeupWindowDays:
		return nil, domainErr(KindInvalidDate, "makeup is limited to the last %d days", cfg.MakeupWindowDays)
	}

	var result CheckInResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.CheckIn{}).
			Where("user_id = ? AND day_number = ?", userID, target).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return domainErr(KindAlreadyCheckedIn, "already checked in for %s", date)
		}

		result.CheckIn = models.CheckIn{
			UserID:    userID,
			DayNumber: target,
			LocalDate: utils.DateOfDayNumber(target),
			TzOffset:  tzOffset,
			Amount:    cfg.MakeupReward,
			IsMakeup:  true,
			CheckedAt: utils.LocalNoon(target, tzOffset),
		}
		if err := tx.Create(&result.CheckIn).Error; err != nil {
			return err
		}
		result.Reward = models.Reward{
			UserID:   userID,
			Category: models.RewardCategoryMakeup,
			SourceID: result.CheckIn.ID,
			Asset:    cfg.CheckInAsset,
			Amount:   cfg.MakeupReward,
		}
		return creditReward(tx, &result.Reward)
	})
	if isUniqueViolation(err) {
		return nil, domainErr(KindAlreadyCheckedIn, "already checked in for %s", date)
	}
	if err != nil {
		return nil, infra("makeup check-in", err)
	}

	days, err := checkedDays(s.DB.WithContext(ctx), userID, today)
	if err != nil {
		log.Printf("⚠️ [CHECKIN] Makeup saved but streak lookup failed for user=%s: %v", userID, err)
	} else {
		result.Streak = computeStreak(days, today)
	}
	log.Printf("✅ [CHECKIN] Makeup user=%s day=%d (%s) amount=%s", userID, target, date, cfg.MakeupReward)
	return &result, nil
}

// History lists the user's check-ins newest first.
func (s *CheckInService) History(ctx context.Context, userID string, limit int) ([]models.CheckIn, error) {
	if limit <= 0 || limit > 366 {
		limit = 30
	}
	var out []models.CheckIn
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("day_number DESC").
		Limit(limit).
		Find(&out).Error
	return out, infra("check-in history", err)
}
