package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"quest-reward-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInviteService(t *testing.T, now string) (*InviteService, *testClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newClock(now)
	svc := NewInviteService(db, defaultConfig(), &recordingNotifier{})
	svc.Now = clock.Now
	return svc, clock
}

// seedInvites records n past invites for inviterID at the given instants.
func seedInvites(t *testing.T, svc *InviteService, inviterID string, at ...time.Time) {
	t.Helper()
	for _, ts := range at {
		require.NoError(t, svc.DB.Create(&models.Invite{
			InviterID:    inviterID,
			InviteeID:    uuid.NewString(),
			CodeUsed:     "SEED",
			InviterBonus: dec("0"),
			InviteeBonus: dec("0"),
			BonusAsset:   models.AssetPoints,
			CreatedAt:    ts.UTC(),
		}).Error)
	}
}

func TestProcessInviteCreditsBoth(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	ctx := context.Background()
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	invitee := createUser(t, svc.DB, clock.Now().Add(-72*time.Hour))

	res, err := svc.ProcessInvite(ctx, invitee.ID, strings.ToLower(inviter.InviteCode))
	require.NoError(t, err)
	assert.False(t, res.RewardDelayed)
	assert.Equal(t, "100", res.InviterReward.String())
	assert.Equal(t, "50", res.InviteeReward.String())
	assert.Equal(t, models.AssetPoints, res.Asset)

	var inv, ine models.User
	require.NoError(t, svc.DB.First(&inv, "id = ?", inviter.ID).Error)
	require.NoError(t, svc.DB.First(&ine, "id = ?", invitee.ID).Error)
	assert.EqualValues(t, 1, inv.InviteCount)
	assert.Equal(t, "100", inv.PointsTotal.String())
	assert.Equal(t, "50", ine.PointsTotal.String())

	_, err = svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	assert.ErrorIs(t, err, ErrAlreadyInvited)

	stats, err := svc.Stats(ctx, inviter.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalInvites)
	assert.Equal(t, "100", stats.BonusEarned.String())
	assert.Equal(t, []string{NotifyInviteAccepted}, svc.Notifier.(*recordingNotifier).kinds())
}

func TestProcessInviteRejections(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	ctx := context.Background()
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))

	_, err := svc.ProcessInvite(ctx, inviter.ID, "NOSUCHCD")
	assert.ErrorIs(t, err, ErrInviterNotFound)

	_, err = svc.ProcessInvite(ctx, inviter.ID, inviter.InviteCode)
	assert.ErrorIs(t, err, ErrSelfInvite)

	_, err = svc.ProcessInvite(ctx, "ghost", inviter.InviteCode)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DB.Model(inviter).Update("invite_count", 100).Error)
	invitee := createUser(t, svc.DB, clock.Now().Add(-72*time.Hour))
	_, err = svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	assert.ErrorIs(t, err, ErrInviteCapReached)
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestNewAccountInviteeDelaysRewards(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	ctx := context.Background()
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	invitee := createUser(t, svc.DB, clock.Now().Add(-2*time.Hour))

	res, err := svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	require.NoError(t, err)
	assert.True(t, res.RewardDelayed)
	assert.True(t, res.InviterReward.IsZero())
	assert.True(t, res.InviteeReward.IsZero())
	assert.True(t, res.Invite.RewardDelayed)

	var credits int64
	svc.DB.Model(&models.Reward{}).Count(&credits)
	assert.Zero(t, credits)

	events, err := svc.RiskEvents(ctx, invitee.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, RiskEventDelayedReward, events[0].EventType)
	assert.Equal(t, models.RiskLow, events[0].Severity)

	var inv models.User
	require.NoError(t, svc.DB.First(&inv, "id = ?", inviter.ID).Error)
	assert.EqualValues(t, 1, inv.InviteCount, "the invite still counts")
}

func TestCheckInviteeRiskUsesProviderAge(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")

	young := &models.User{AccountCreatedAt: ptrTime(clock.Now().Add(-23 * time.Hour))}
	old := &models.User{AccountCreatedAt: ptrTime(clock.Now().Add(-25 * time.Hour))}
	assert.True(t, svc.CheckInviteeRisk(young).ShouldDelayReward)
	assert.False(t, svc.CheckInviteeRisk(old).ShouldDelayReward)
	assert.InDelta(t, 25.0, svc.CheckInviteeRisk(old).AccountAgeHours, 0.001)
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestBurstBlocksWithHighRisk(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	ctx := context.Background()
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	now := clock.Now()
	seedInvites(t, svc, inviter.ID, now.Add(-4*time.Minute), now.Add(-3*time.Minute), now.Add(-2*time.Minute), now.Add(-1*time.Minute))

	invitee := createUser(t, svc.DB, now.Add(-72*time.Hour))
	_, err := svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	require.ErrorIs(t, err, ErrRiskBlocked)
	de, _ := AsDomainError(err)
	assert.Equal(t, models.RiskHigh, de.RiskLevel)
	assert.Equal(t, true, de.Details["event_recorded"])

	events, err := svc.RiskEvents(ctx, inviter.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, RiskEventInviteBurst, events[0].EventType)
	assert.Contains(t, events[0].Details, invitee.ID)

	var u models.User
	require.NoError(t, svc.DB.First(&u, "id = ?", inviter.ID).Error)
	assert.Equal(t, 10, u.RiskScore)

	var invites int64
	svc.DB.Model(&models.Invite{}).Where("invitee_id = ?", invitee.ID).Count(&invites)
	assert.Zero(t, invites)
}

func TestHourlyVelocityBlocksWithMediumRisk(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	now := clock.Now()
	var at []time.Time
	for i := 0; i < 9; i++ {
		at = append(at, now.Add(-time.Duration(10+5*i)*time.Minute))
	}
	seedInvites(t, svc, inviter.ID, at...)

	risk, err := svc.CheckInviterRisk(context.Background(), inviter.ID)
	require.NoError(t, err)
	assert.False(t, risk.Allowed)
	assert.Equal(t, models.RiskMedium, risk.Level)
	assert.Equal(t, RiskEventInviteHourly, risk.EventType)
	assert.True(t, risk.ShouldRecordEvent)
	assert.EqualValues(t, 0, risk.BurstCount)
	assert.EqualValues(t, 9, risk.HourlyCount)

	invitee := createUser(t, svc.DB, now.Add(-72*time.Hour))
	_, err = svc.ProcessInvite(context.Background(), invitee.ID, inviter.InviteCode)
	assert.ErrorIs(t, err, ErrRiskBlocked)

	var u models.User
	require.NoError(t, svc.DB.First(&u, "id = ?", inviter.ID).Error)
	assert.Equal(t, 3, u.RiskScore)
}

func TestDailyCapBlocksWithoutAudit(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T23:00:00Z")
	ctx := context.Background()
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	dayStart := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	var at []time.Time
	for i := 0; i < 20; i++ {
		at = append(at, dayStart.Add(time.Duration(30*i)*time.Minute))
	}
	seedInvites(t, svc, inviter.ID, at...)
	// yesterday's invites do not count
	seedInvites(t, svc, inviter.ID, dayStart.Add(-time.Minute))

	risk, err := svc.CheckInviterRisk(ctx, inviter.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, risk.DailyCount)

	invitee := createUser(t, svc.DB, clock.Now().Add(-72*time.Hour))
	_, err = svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	require.ErrorIs(t, err, ErrRiskBlocked)
	de, _ := AsDomainError(err)
	assert.Equal(t, models.RiskMedium, de.RiskLevel)
	assert.Equal(t, false, de.Details["event_recorded"])

	events, err := svc.RiskEvents(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// the next UTC day starts fresh
	clock.Set("2024-03-11T00:30:00Z")
	_, err = svc.ProcessInvite(ctx, invitee.ID, inviter.InviteCode)
	assert.NoError(t, err)
}

func TestInviterRiskAllowsQuietInviter(t *testing.T) {
	svc, clock := newInviteService(t, "2024-03-10T12:00:00Z")
	inviter := createUser(t, svc.DB, clock.Now().Add(-30*24*time.Hour))
	seedInvites(t, svc, inviter.ID, clock.Now().Add(-2*time.Minute), clock.Now().Add(-2*time.Hour))

	risk, err := svc.CheckInviterRisk(context.Background(), inviter.ID)
	require.NoError(t, err)
	assert.True(t, risk.Allowed)
	assert.Equal(t, models.RiskLow, risk.Level)
	assert.EqualValues(t, 1, risk.BurstCount)
	assert.EqualValues(t, 1, risk.HourlyCount)
	assert.EqualValues(t, 2, risk.DailyCount)
}
