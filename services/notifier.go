// services/notifier.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"quest-reward-system/models"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Notification kinds
const (
	NotifyQuestRewarded  = "quest_rewarded"
	NotifyCheckIn        = "checkin"
	NotifyInviteAccepted = "invite_accepted"
	NotifyPayoutComplete = "payout_completed"
	NotifyPayoutFailed   = "payout_failed"
)

// Notifier queues a user notification. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, data map[string]interface{})
}

func notify(ctx context.Context, n Notifier, userID, kind string, data map[string]interface{}) {
	if n == nil {
		return
	}
	n.Notify(ctx, userID, kind, data)
}

// OutboxNotifier writes notifications to the outbox table after the core
// transaction has committed. Delivery happens in OutboxDispatcher.
type OutboxNotifier struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewOutboxNotifier(db *gorm.DB) *OutboxNotifier {
	return &OutboxNotifier{DB: db}
}

func (n *OutboxNotifier) Notify(ctx context.Context, userID, kind string, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("⚠️ [OUTBOX] Cannot encode %s for user %s: %v", kind, userID, err)
		return
	}
	msg := models.OutboxMessage{
		UserID:        userID,
		Kind:          kind,
		Payload:       string(payload),
		Status:        models.OutboxPending,
		NextAttemptAt: nowFrom(n.Now),
	}
	if err := n.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		log.Printf("⚠️ [OUTBOX] Failed to queue %s for user %s: %v", kind, userID, err)
	}
}

// Sender delivers a rendered notification to a user.
type Sender interface {
	Send(ctx context.Context, user *models.User, text string) error
}

// ErrNoChannel means the user cannot be reached; the message is dropped.
var ErrNoChannel = errors.New("user has no notification channel")

// OutboxDispatcher drains due outbox rows through a Sender.
type OutboxDispatcher struct {
	DB          *gorm.DB
	Sender      Sender
	Limiter     *rate.Limiter
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
	Now         func() time.Time
}

func NewOutboxDispatcher(db *gorm.DB, sender Sender) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:          db,
		Sender:      sender,
		Limiter:     rate.NewLimiter(rate.Limit(25), 5), // Telegram allows ~30 msg/s per bot
		MaxAttempts: 5,
		BaseBackoff: 30 * time.Second,
		BatchSize:   100,
	}
}

// DispatchPending sends every due message once and returns how many went out.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (int, error) {
	now := nowFrom(d.Now)
	var batch []models.OutboxMessage
	if err := d.DB.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
		Order("created_at ASC").
		Limit(d.BatchSize).
		Find(&batch).Error; err != nil {
		return 0, infra("load outbox", err)
	}

	sent := 0
	for i := range batch {
		msg := &batch[i]
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				return sent, err
			}
		}
		if d.deliver(ctx, msg) {
			sent++
		}
	}
	if len(batch) > 0 {
		log.Printf("📤 [OUTBOX] Dispatched %d/%d message(s)", sent, len(batch))
	}
	return sent, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, msg *models.OutboxMessage) bool {
	now := nowFrom(d.Now)
	db := d.DB.WithContext(ctx)

	var user models.User
	err := db.First(&user, "id = ?", msg.UserID).Error
	if err == nil && !user.NotificationsEnabled {
		err = ErrNoChannel
	}
	var text string
	if err == nil {
		var data map[string]interface{}
		if err = json.Unmarshal([]byte(msg.Payload), &data); err == nil {
			text = RenderNotification(user.Locale, msg.Kind, data)
			err = d.Sender.Send(ctx, &user, text)
		}
	}

	if err == nil {
		if uerr := db.Model(msg).Updates(map[string]interface{}{
			"status":   models.OutboxSent,
			"attempts": msg.Attempts + 1,
			"sent_at":  now,
		}).Error; uerr != nil {
			// the row stays PENDING and will be sent again
			log.Printf("⚠️ [OUTBOX] %s delivered to user %s but not marked SENT: %v", msg.Kind, msg.UserID, uerr)
		}
		return true
	}

	attempts := msg.Attempts + 1
	updates := map[string]interface{}{"attempts": attempts, "last_error": err.Error()}
	permanent := isNotFound(err) || errors.Is(err, ErrNoChannel)
	if permanent || attempts >= d.MaxAttempts {
		updates["status"] = models.OutboxDead
		log.Printf("☠️ [OUTBOX] Giving up on %s for user %s after %d attempt(s): %v", msg.Kind, msg.UserID, attempts, err)
	} else {
		updates["next_attempt_at"] = now.Add(d.BaseBackoff << (attempts - 1))
		log.Printf("⚠️ [OUTBOX] %s for user %s failed (attempt %d): %v", msg.Kind, msg.UserID, attempts, err)
	}
	if uerr := db.Model(msg).Updates(updates).Error; uerr != nil {
		log.Printf("⚠️ [OUTBOX] Could not record failed attempt for message %s: %v", msg.ID, uerr)
	}
	return false
}

func init() {
	en := language.English
	ru := language.Russian
	_ = message.SetString(en, NotifyQuestRewarded, "🎉 Quest \"%s\" completed: +%s %s")
	_ = message.SetString(ru, NotifyQuestRewarded, "🎉 Задание \"%s\" выполнено: +%s %s")
	_ = message.SetString(en, NotifyCheckIn, "✅ Day %d streak! +%s %s")
	_ = message.SetString(ru, NotifyCheckIn, "✅ Серия %d дн.! +%s %s")
	_ = message.SetString(en, NotifyInviteAccepted, "🤝 A friend joined with your code: +%s %s")
	_ = message.SetString(ru, NotifyInviteAccepted, "🤝 Друг присоединился по вашему коду: +%s %s")
	_ = message.SetString(en, NotifyPayoutComplete, "💸 Withdrawal of %s %s completed")
	_ = message.SetString(ru, NotifyPayoutComplete, "💸 Вывод %s %s выполнен")
	_ = message.SetString(en, NotifyPayoutFailed, "❌ Withdrawal of %s %s failed: %s")
	_ = message.SetString(ru, NotifyPayoutFailed, "❌ Вывод %s %s не выполнен: %s")
}

var notificationLanguages = language.NewMatcher([]language.Tag{language.English, language.Russian})

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// RenderNotification formats a message in the user's locale, falling back
// to English.
func RenderNotification(locale, kind string, data map[string]interface{}) string {
	tag, _ := language.MatchStrings(notificationLanguages, locale)
	base, _ := tag.Base()
	p := message.NewPrinter(language.Make(base.String()))

	switch kind {
	case NotifyQuestRewarded:
		return p.Sprintf(NotifyQuestRewarded, str(data, "quest"), str(data, "amount"), str(data, "asset"))
	case NotifyCheckIn:
		streak := 0
		if v, ok := data["streak"].(float64); ok {
			streak = int(v)
		}
		return p.Sprintf(NotifyCheckIn, streak, str(data, "amount"), str(data, "asset"))
	case NotifyInviteAccepted:
		return p.Sprintf(NotifyInviteAccepted, str(data, "amount"), str(data, "asset"))
	case NotifyPayoutComplete:
		return p.Sprintf(NotifyPayoutComplete, str(data, "amount"), str(data, "asset"))
	case NotifyPayoutFailed:
		return p.Sprintf(NotifyPayoutFailed, str(data, "amount"), str(data, "asset"), str(data, "reason"))
	}
	return kind
}

// TelegramSender delivers notifications as bot messages.
type TelegramSender struct {
	Bot *gotgbot.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, err
	}
	return &TelegramSender{Bot: bot}, nil
}

func (t *TelegramSender) Send(ctx context.Context, user *models.User, text string) error {
	if user.TelegramID == 0 {
		return ErrNoChannel
	}
	_, err := t.Bot.SendMessage(user.TelegramID, text, &gotgbot.SendMessageOpts{
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{IsDisabled: true},
	})
	return err
}

// LogSender is used when no bot token is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, user *models.User, text string) error {
	log.Printf("📨 [NOTIFY] user=%s: %s", user.ID, text)
	return nil
}
