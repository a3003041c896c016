package services

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"quest-reward-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeSender) Send(ctx context.Context, user *models.User, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func newDispatcher(t *testing.T, sender Sender) (*OutboxDispatcher, *OutboxNotifier, *testClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newClock("2024-03-10T12:00:00Z")
	d := NewOutboxDispatcher(db, sender)
	d.Limiter = nil
	d.Now = clock.Now
	n := NewOutboxNotifier(db)
	n.Now = clock.Now
	return d, n, clock
}

func outboxRow(t *testing.T, d *OutboxDispatcher, userID string) models.OutboxMessage {
	t.Helper()
	var msg models.OutboxMessage
	require.NoError(t, d.DB.First(&msg, "user_id = ?", userID).Error)
	return msg
}

func TestDispatcherDeliversInUserLocale(t *testing.T) {
	sender := &fakeSender{}
	d, n, clock := newDispatcher(t, sender)
	ctx := context.Background()
	user := createUser(t, d.DB, clock.Now())
	require.NoError(t, d.DB.Model(user).Update("locale", "ru").Error)

	n.Notify(ctx, user.ID, NotifyCheckIn, map[string]interface{}{"amount": "30", "asset": "POINTS", "streak": 3})
	sent, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, sender.texts, 1)
	assert.Equal(t, "✅ Серия 3 дн.! +30 POINTS", sender.texts[0])

	msg := outboxRow(t, d, user.ID)
	assert.Equal(t, models.OutboxSent, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.NotNil(t, msg.SentAt)

	sent, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent, "sent messages are not redelivered")
}

func TestDispatcherBacksOffThenGivesUp(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram: 502")}
	d, n, clock := newDispatcher(t, sender)
	d.MaxAttempts = 3
	ctx := context.Background()
	user := createUser(t, d.DB, clock.Now())

	n.Notify(ctx, user.ID, NotifyPayoutComplete, map[string]interface{}{"amount": "5", "asset": "USDT"})

	_, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	msg := outboxRow(t, d, user.ID)
	assert.Equal(t, models.OutboxPending, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.True(t, msg.NextAttemptAt.Equal(clock.Now().Add(30*time.Second)))
	assert.Equal(t, "telegram: 502", msg.LastError)

	// not due yet
	clock.Advance(10 * time.Second)
	_, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outboxRow(t, d, user.ID).Attempts)

	clock.Advance(25 * time.Second)
	_, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	msg = outboxRow(t, d, user.ID)
	assert.Equal(t, 2, msg.Attempts)
	assert.True(t, msg.NextAttemptAt.Equal(clock.Now().Add(60*time.Second)), "backoff doubles")

	clock.Advance(2 * time.Minute)
	_, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	msg = outboxRow(t, d, user.ID)
	assert.Equal(t, models.OutboxDead, msg.Status)
	assert.Equal(t, 3, msg.Attempts)
}

func TestDispatcherDropsUnreachableUsers(t *testing.T) {
	sender := &fakeSender{}
	d, n, clock := newDispatcher(t, sender)
	ctx := context.Background()
	muted := createUser(t, d.DB, clock.Now())
	require.NoError(t, d.DB.Model(muted).Update("notifications_enabled", false).Error)

	n.Notify(ctx, muted.ID, NotifyCheckIn, map[string]interface{}{"amount": "10", "asset": "POINTS", "streak": 1})
	n.Notify(ctx, "deleted-user", NotifyCheckIn, map[string]interface{}{"amount": "10", "asset": "POINTS", "streak": 1})

	sent, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sender.texts)
	assert.Equal(t, models.OutboxDead, outboxRow(t, d, muted.ID).Status)
	assert.Equal(t, models.OutboxDead, outboxRow(t, d, "deleted-user").Status)
}

func TestRenderNotification(t *testing.T) {
	data := map[string]interface{}{"quest": "Join", "amount": "25", "asset": "POINTS"}
	assert.Equal(t, `🎉 Quest "Join" completed: +25 POINTS`, RenderNotification("en", NotifyQuestRewarded, data))
	assert.Equal(t, `🎉 Quest "Join" completed: +25 POINTS`, RenderNotification("de-AT", NotifyQuestRewarded, data), "unsupported locales fall back to English")
	assert.Equal(t, `🎉 Задание "Join" выполнено: +25 POINTS`, RenderNotification("ru-RU", NotifyQuestRewarded, data))

	failed := map[string]interface{}{"amount": "5", "asset": "USDT", "reason": "rail down"}
	assert.Equal(t, "❌ Withdrawal of 5 USDT failed: rail down", RenderNotification("", NotifyPayoutFailed, failed))
	assert.Equal(t, "mystery", RenderNotification("en", "mystery", nil))
}

func TestNilNotifierIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { notify(context.Background(), nil, "u", NotifyCheckIn, nil) })
}

func TestDispatcherLogsOutboxWriteFailures(t *testing.T) {
	sender := &fakeSender{}
	d, n, clock := newDispatcher(t, sender)
	ctx := context.Background()
	user := createUser(t, d.DB, clock.Now())
	n.Notify(ctx, user.ID, NotifyPayoutComplete, map[string]interface{}{"amount": "5", "asset": "USDT"})

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	require.NoError(t, d.DB.Callback().Update().Before("gorm:update").Register("test:fail_outbox_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "outbox_messages" {
			_ = tx.AddError(errors.New("connection reset"))
		}
	}))

	sent, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "the message did go out")
	assert.Len(t, sender.texts, 1)
	assert.Contains(t, logs.String(), "not marked SENT")
	assert.Contains(t, logs.String(), "connection reset")
	assert.Equal(t, models.OutboxPending, outboxRow(t, d, user.ID).Status)

	sender.err = errors.New("telegram: 502")
	clock.Advance(time.Minute)
	_, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Could not record failed attempt")
}
