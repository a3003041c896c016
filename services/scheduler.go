// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Jobs bundles the periodic maintenance the service runs in-process.
type Jobs struct {
	DB         *gorm.DB
	Settings   *SettingsStore
	Dispatcher *OutboxDispatcher
	Payouts    *PayoutService
}

// PruneDailyCounters drops quest claim counters older than keepDays UTC days.
func PruneDailyCounters(db *gorm.DB, now time.Time, keepDays int) (int64, error) {
	cutoff := utils.UTCDayKey(now.AddDate(0, 0, -keepDays))
	res := db.Where("day < ?", cutoff).Delete(&models.QuestDailyCounter{})
	return res.RowsAffected, res.Error
}

// StartScheduler registers the jobs and starts gocron. The caller shuts the
// returned scheduler down on exit.
func (j *Jobs) StartScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	// Every minute: pick up configuration changes
	if j.Settings != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(1*time.Minute),
			gocron.NewTask(func() {
				if err := j.Settings.Refresh(ctx); err != nil {
					log.Printf("[Scheduler] Settings refresh failed: %v", err)
				}
			}),
		); err != nil {
			return nil, err
		}
	}

	// Every 10 seconds: deliver queued notifications
	if j.Dispatcher != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(10*time.Second),
			gocron.NewTask(func() {
				if _, err := j.Dispatcher.DispatchPending(ctx); err != nil {
					log.Printf("[Scheduler] Outbox dispatch failed: %v", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, err
		}
	}

	// Every 5 minutes: expire settlements the executor never confirmed
	if j.Payouts != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				n, err := j.Payouts.SweepExpired(ctx)
				if err != nil {
					log.Printf("[Scheduler] Settlement sweep failed: %v", err)
					return
				}
				if n > 0 {
					log.Printf("⏰ [Scheduler] Expired %d pending settlement(s)", n)
				}
			}),
		); err != nil {
			return nil, err
		}
	}

	// Daily at 00:05 UTC: prune old quest claim counters
	if _, err := sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			n, err := PruneDailyCounters(j.DB.WithContext(ctx), time.Now(), 7)
			if err != nil {
				log.Printf("[Scheduler] Counter prune failed: %v", err)
				return
			}
			log.Printf("✅ [Scheduler] Pruned %d quest daily counter(s)", n)
		}),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
