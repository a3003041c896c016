package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quest-reward-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	mu      sync.Mutex
	verdict *Verdict
	err     error
	calls   []VerificationRequest
}

func (f *fakeVerifier) Verify(ctx context.Context, req VerificationRequest) (*Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.verdict, f.err
}

func newQuestService(t *testing.T, verifier ProofVerifier) (*QuestService, *models.User, *testClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newClock("2024-03-10T12:00:00Z")
	svc := NewQuestService(db, defaultConfig(), verifier, &recordingNotifier{})
	svc.Now = clock.Now
	return svc, createUser(t, db, clock.Now().Add(-48*time.Hour)), clock
}

func mustQuest(t *testing.T, svc *QuestService, in QuestInput) *models.Quest {
	t.Helper()
	if in.Title == "" {
		in.Title = "Join the channel"
	}
	if in.Type == "" {
		in.Type = models.QuestTypeJoinChannel
	}
	if in.RewardAsset == "" {
		in.RewardAsset = models.AssetPoints
	}
	if in.RewardAmt.IsZero() {
		in.RewardAmt = dec("25")
	}
	q, err := svc.CreateQuest(context.Background(), in)
	require.NoError(t, err)
	return q
}

func TestCreateQuestValidationAndSlugs(t *testing.T) {
	svc, _, _ := newQuestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateQuest(ctx, QuestInput{Title: " ", Type: models.QuestTypeDeepLink, RewardAsset: models.AssetPoints, RewardAmt: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreateQuest(ctx, QuestInput{Title: "x", Type: "dance", RewardAsset: models.AssetPoints, RewardAmt: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreateQuest(ctx, QuestInput{Title: "x", Type: models.QuestTypeDeepLink, RewardAsset: models.AssetPoints, RewardAmt: dec("0")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	a := mustQuest(t, svc, QuestInput{Title: "Follow Us On X!"})
	b := mustQuest(t, svc, QuestInput{Title: "Follow us on X"})
	c := mustQuest(t, svc, QuestInput{Title: "follow us on x"})
	assert.Equal(t, "follow-us-on-x", a.Slug)
	assert.Equal(t, "follow-us-on-x-2", b.Slug)
	assert.Equal(t, "follow-us-on-x-3", c.Slug)
	assert.Equal(t, 1, a.PerUserCap, "cap defaults to one")

	bySlug, err := svc.GetQuest(ctx, "follow-us-on-x-2")
	require.NoError(t, err)
	assert.Equal(t, b.ID, bySlug.ID)

	_, err = svc.GetQuest(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimStateMachine(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{Type: models.QuestTypeDeepLink})

	action, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClaimed, action.State)
	assert.Equal(t, 1, action.Attempt)

	_, err = svc.Claim(ctx, user.ID, quest.ID)
	assert.ErrorIs(t, err, ErrCapExceeded)

	_, err = svc.Claim(ctx, user.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Reward(ctx, user.ID, quest.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "cannot reward a CLAIMED attempt")
}

func TestClaimInactiveQuest(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{})

	_, err := svc.SetQuestStatus(ctx, quest.ID, models.QuestStatusInactive)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, user.ID, quest.ID)
	assert.ErrorIs(t, err, ErrCapExceeded)

	active, err := svc.ListQuests(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := svc.ListQuests(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPerUserCapAllowsRepeatsUpToTheCap(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{Type: models.QuestTypeDeepLink, PerUserCap: 2})

	for i := 1; i <= 2; i++ {
		_, err := svc.Claim(ctx, user.ID, quest.ID)
		require.NoError(t, err)
		if i == 1 {
			_, err = svc.Claim(ctx, user.ID, quest.ID)
			assert.ErrorIs(t, err, ErrInvalidState, "an open attempt blocks a new claim")
		}
		res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{})
		require.NoError(t, err)
		require.NotNil(t, res.Reward)
	}
	_, err := svc.Claim(ctx, user.ID, quest.ID)
	assert.ErrorIs(t, err, ErrCapExceeded)

	actions, err := svc.UserActions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.NotNil(t, actions[0].Quest)
}

func TestDailyCapAcrossUsers(t *testing.T) {
	svc, first, clock := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{DailyCap: 2})
	second := createUser(t, svc.DB, clock.Now())
	third := createUser(t, svc.DB, clock.Now())

	_, err := svc.Claim(ctx, first.ID, quest.ID)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, second.ID, quest.ID)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, third.ID, quest.ID)
	assert.ErrorIs(t, err, ErrCapExceeded)

	clock.Advance(24 * time.Hour)
	_, err = svc.Claim(ctx, third.ID, quest.ID)
	assert.NoError(t, err, "the counter is per UTC day")
}

func TestConcurrentClaimsRespectDailyCap(t *testing.T) {
	svc, _, clock := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{DailyCap: 3})

	users := make([]*models.User, 6)
	for i := range users {
		users[i] = createUser(t, svc.DB, clock.Now())
	}
	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, id, quest.ID)
		}(i, u.ID)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrCapExceeded)
		}
	}
	assert.Equal(t, 3, ok)
}

func TestSubmitRewardsWhenVerifierPasses(t *testing.T) {
	verifier := &fakeVerifier{verdict: &Verdict{IsValid: true, Confidence: 0.93, Reason: "member"}}
	svc, user, _ := newQuestService(t, verifier)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{TargetRef: "-100123"})

	_, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "done"})
	assert.ErrorIs(t, err, ErrInvalidState, "not claimed yet")

	_, err = svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "done"})
	require.NoError(t, err)
	require.NotNil(t, res.Reward)
	assert.Equal(t, "25", res.Reward.Amount.String())
	assert.Equal(t, models.ActionRewarded, res.Action.State)
	require.Len(t, verifier.calls, 1)
	assert.Equal(t, "-100123", verifier.calls[0].Quest.TargetRef)

	_, err = svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "again"})
	assert.ErrorIs(t, err, ErrInvalidState)

	var u models.User
	require.NoError(t, svc.DB.First(&u, "id = ?", user.ID).Error)
	assert.Equal(t, "25", u.PointsTotal.String())
	assert.Equal(t, []string{NotifyQuestRewarded}, svc.Notifier.(*recordingNotifier).kinds())
}

func TestSubmitFlagsForReview(t *testing.T) {
	tests := []struct {
		name     string
		verifier ProofVerifier
		reason   string
	}{
		{"no verifier", nil, "no verifier configured"},
		{"verifier error", &fakeVerifier{err: errors.New("deadline exceeded")}, "verification unavailable"},
		{"low confidence", &fakeVerifier{verdict: &Verdict{IsValid: true, Confidence: 0.5, Reason: "blurry"}}, "blurry"},
		{"verifier unsure", &fakeVerifier{verdict: &Verdict{IsValid: true, Confidence: 0.9, Reason: "check", NeedsManualReview: true}}, "check"},
		{"invalid", &fakeVerifier{verdict: &Verdict{IsValid: false, Confidence: 0.99, Reason: "wrong account"}}, "wrong account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, user, _ := newQuestService(t, tt.verifier)
			ctx := context.Background()
			quest := mustQuest(t, svc, QuestInput{})
			_, err := svc.Claim(ctx, user.ID, quest.ID)
			require.NoError(t, err)

			res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "screenshot", ImageURL: "https://cdn/x.png"})
			require.NoError(t, err)
			assert.Nil(t, res.Reward)
			assert.Equal(t, models.ActionSubmitted, res.Action.State)
			assert.True(t, res.Action.NeedsManualReview)
			assert.Equal(t, tt.reason, res.Verdict.Reason)

			queue, err := svc.ReviewQueue(ctx, 10)
			require.NoError(t, err)
			require.Len(t, queue, 1)
			assert.Equal(t, res.Action.ID, queue[0].ID)

			_, err = svc.Reward(ctx, user.ID, quest.ID)
			assert.ErrorIs(t, err, ErrInvalidState, "awaiting review")
		})
	}
}

func TestRewardIsIdempotent(t *testing.T) {
	svc, user, _ := newQuestService(t, &fakeVerifier{verdict: &Verdict{Confidence: 0.1}})
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{RewardAsset: models.AssetUSDT, RewardAmt: dec("0.5")})
	_, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "p"})
	require.NoError(t, err)

	first, err := svc.Approve(ctx, res.Action.ID, "mod-1")
	require.NoError(t, err)
	again, err := svc.Approve(ctx, res.Action.ID, "mod-2")
	require.NoError(t, err)
	viaReward, err := svc.Reward(ctx, user.ID, quest.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, viaReward.ID)

	var credits int64
	svc.DB.Model(&models.Reward{}).Where("user_id = ?", user.ID).Count(&credits)
	assert.EqualValues(t, 1, credits)
	assert.Len(t, svc.Notifier.(*recordingNotifier).kinds(), 1)

	var action models.QuestAction
	require.NoError(t, svc.DB.First(&action, "id = ?", res.Action.ID).Error)
	assert.Equal(t, "mod-1", action.ReviewedBy)
	assert.False(t, action.NeedsManualReview)
}

func TestConcurrentApproveCreditsOnce(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{})
	_, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "p"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Approve(ctx, res.Action.ID, "mod")
			if assert.NoError(t, err) {
				ids[i] = r.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var u models.User
	require.NoError(t, svc.DB.First(&u, "id = ?", user.ID).Error)
	assert.Equal(t, "25", u.PointsTotal.String())
}

func TestRejectThenReclaim(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{})

	claimed, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, claimed.ID, "mod", "too early")
	assert.ErrorIs(t, err, ErrInvalidState, "only submissions can be rejected")

	res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{Text: "p"})
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, res.Action.ID, "mod", "fake screenshot")
	require.NoError(t, err)
	assert.Equal(t, models.ActionRejected, rejected.State)
	assert.Equal(t, "fake screenshot", rejected.VerifyReason)

	_, err = svc.Approve(ctx, res.Action.ID, "mod")
	assert.ErrorIs(t, err, ErrInvalidState)

	retry, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err, "a rejected attempt does not count toward the cap")
	assert.Equal(t, 2, retry.Attempt)

	_, err = svc.Reject(ctx, "missing", "mod", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeepLinkRewardsWithoutVerifier(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("should not be called")}
	svc, user, _ := newQuestService(t, verifier)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{Type: models.QuestTypeDeepLink})

	_, err := svc.Claim(ctx, user.ID, quest.ID)
	require.NoError(t, err)
	res, err := svc.Submit(ctx, user.ID, quest.ID, Proof{})
	require.NoError(t, err)
	assert.NotNil(t, res.Reward)
	assert.Nil(t, res.Verdict)
	assert.Empty(t, verifier.calls)
}

func TestQuestOperationsAcceptSlug(t *testing.T) {
	svc, user, _ := newQuestService(t, nil)
	ctx := context.Background()
	quest := mustQuest(t, svc, QuestInput{Title: "Open the app", Type: models.QuestTypeDeepLink})
	require.Equal(t, "open-the-app", quest.Slug)

	_, err := svc.Reward(ctx, user.ID, quest.Slug)
	assert.ErrorIs(t, err, ErrInvalidState)

	action, err := svc.Claim(ctx, user.ID, quest.Slug)
	require.NoError(t, err)
	assert.Equal(t, quest.ID, action.QuestID)

	res, err := svc.Submit(ctx, user.ID, quest.Slug, Proof{})
	require.NoError(t, err)
	require.NotNil(t, res.Reward)

	reward, err := svc.Reward(ctx, user.ID, quest.Slug)
	require.NoError(t, err)
	assert.Equal(t, res.Reward.ID, reward.ID)

	_, err = svc.Claim(ctx, user.ID, "no-such-quest")
	assert.ErrorIs(t, err, ErrNotFound)
}
