// services/ledger.go
package services

import (
	"context"
	"sort"
	"time"

	"quest-reward-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Balance is the derived position of one user in one asset.
// Available = Credited - Debited - Reserved.
type Balance struct {
	Asset     models.Asset    `json:"asset"`
	Credited  decimal.Decimal `json:"credited"`
	Debited   decimal.Decimal `json:"debited"`  // completed payouts
	Reserved  decimal.Decimal `json:"reserved"` // pending or processing payouts
	Available decimal.Decimal `json:"available"`
}

type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

type assetAmount struct {
	Asset  models.Asset
	Amount decimal.Decimal
	Status string
}

// deriveBalances sums completed credits and reserving debits per asset.
// Sums are done with decimals in Go so no driver ever rounds through floats.
func deriveBalances(db *gorm.DB, userID string, asset *models.Asset) (map[models.Asset]*Balance, error) {
	var credits []assetAmount
	q := db.Model(&models.Reward{}).
		Select("asset, amount, status").
		Where("user_id = ? AND status = ?", userID, models.RewardStatusCompleted)
	if asset != nil {
		q = q.Where("asset = ?", *asset)
	}
	if err := q.Scan(&credits).Error; err != nil {
		return nil, err
	}

	var debits []assetAmount
	q = db.Model(&models.Payout{}).
		Select("asset, amount, status").
		Where("user_id = ? AND status NOT IN ?", userID, []models.PayoutStatus{models.PayoutFailed, models.PayoutCancelled})
	if asset != nil {
		q = q.Where("asset = ?", *asset)
	}
	if err := q.Scan(&debits).Error; err != nil {
		return nil, err
	}

	out := map[models.Asset]*Balance{}
	bucket := func(a models.Asset) *Balance {
		b, ok := out[a]
		if !ok {
			b = &Balance{Asset: a}
			out[a] = b
		}
		return b
	}
	for _, c := range credits {
		b := bucket(c.Asset)
		b.Credited = b.Credited.Add(c.Amount)
	}
	for _, d := range debits {
		b := bucket(d.Asset)
		if models.PayoutStatus(d.Status) == models.PayoutCompleted {
			b.Debited = b.Debited.Add(d.Amount)
		} else {
			b.Reserved = b.Reserved.Add(d.Amount)
		}
	}
	for _, b := range out {
		b.Available = b.Credited.Sub(b.Debited).Sub(b.Reserved)
	}
	return out, nil
}

// availableBalance is what a new withdrawal may draw on.
func availableBalance(db *gorm.DB, userID string, asset models.Asset) (decimal.Decimal, error) {
	balances, err := deriveBalances(db, userID, &asset)
	if err != nil {
		return decimal.Zero, err
	}
	if b, ok := balances[asset]; ok {
		return b.Available, nil
	}
	return decimal.Zero, nil
}

// Balances returns every asset bucket the user has touched, sorted by asset.
func (s *LedgerService) Balances(ctx context.Context, userID string) ([]Balance, error) {
	balances, err := deriveBalances(s.DB.WithContext(ctx), userID, nil)
	if err != nil {
		return nil, infra("derive balances", err)
	}
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Balance returns one asset's bucket, zero when the user never touched it.
func (s *LedgerService) Balance(ctx context.Context, userID string, asset models.Asset) (Balance, error) {
	balances, err := deriveBalances(s.DB.WithContext(ctx), userID, &asset)
	if err != nil {
		return Balance{}, infra("derive balance", err)
	}
	if b, ok := balances[asset]; ok {
		return *b, nil
	}
	return Balance{Asset: asset}, nil
}

// History lists the user's credits newest first. A non-zero before pages
// backwards from that instant.
func (s *LedgerService) History(ctx context.Context, userID string, limit int, before time.Time) ([]models.Reward, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var rewards []models.Reward
	if err := q.Order("created_at DESC").Limit(limit).Find(&rewards).Error; err != nil {
		return nil, infra("reward history", err)
	}
	return rewards, nil
}

// RewardsSince is the cursor query behind the live reward stream.
func (s *LedgerService) RewardsSince(ctx context.Context, userID string, since time.Time) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ? AND created_at > ?", userID, models.RewardStatusCompleted, since).
		Order("created_at ASC").
		Find(&rewards).Error
	return rewards, infra("rewards since", err)
}

// creditReward appends a completed credit inside tx and keeps the user's
// running points total in step.
func creditReward(tx *gorm.DB, r *models.Reward) error {
	if r.Status == "" {
		r.Status = models.RewardStatusCompleted
	}
	if err := tx.Create(r).Error; err != nil {
		return err
	}
	if r.Asset == models.AssetPoints && r.Status == models.RewardStatusCompleted {
		return tx.Model(&models.User{}).
			Where("id = ?", r.UserID).
			Update("points_total", gorm.Expr("points_total + ?", r.Amount)).Error
	}
	return nil
}

func nowFrom(f func() time.Time) time.Time {
	if f != nil {
		return f()
	}
	return time.Now().UTC()
}
