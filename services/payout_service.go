// services/payout_service.go
package services

import (
	"context"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayoutService validates withdrawals against the derived balance and
// applies settlement outcomes reported by the executor.
type PayoutService struct {
	DB       *gorm.DB
	Config   ConfigProvider
	Notifier Notifier
	Now      func() time.Time
}

func NewPayoutService(db *gorm.DB, cfg ConfigProvider, notifier Notifier) *PayoutService {
	return &PayoutService{DB: db, Config: cfg, Notifier: notifier}
}

// RequestWithdraw creates a PENDING payout. The user row is locked for the
// balance check so two concurrent requests cannot both spend the same funds;
// pending and processing payouts already count against the balance.
func (s *PayoutService) RequestWithdraw(ctx context.Context, userID string, asset models.Asset, amount decimal.Decimal, toAddress string) (*models.Payout, error) {
	cfg := s.Config.Current()
	asset = models.Asset(strings.ToUpper(strings.TrimSpace(string(asset))))

	if !amount.IsPositive() {
		return nil, domainErr(KindInvalidInput, "amount must be positive")
	}
	minimum, withdrawable := cfg.MinWithdraw[asset]
	if !withdrawable {
		return nil, domainErr(KindInvalidInput, "%s cannot be withdrawn", asset)
	}
	if amount.LessThan(minimum) {
		return nil, &DomainError{
			Kind:    KindBelowMinimum,
			Reason:  "minimum withdrawal is " + minimum.String() + " " + string(asset),
			Details: map[string]interface{}{"minimum": minimum.String(), "asset": string(asset)},
		}
	}

	var payout models.Payout
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if isNotFound(err) {
				return domainErr(KindNotFound, "user not found")
			}
			return err
		}

		addr := strings.TrimSpace(toAddress)
		if addr == "" && user.WithdrawAddress != nil {
			addr = strings.TrimSpace(*user.WithdrawAddress)
		}
		if utils.MatchAddress(string(asset), addr) == "" {
			return &DomainError{
				Kind:    KindInvalidAddress,
				Reason:  "destination is not a valid " + string(asset) + " address",
				Details: map[string]interface{}{"accepted_formats": utils.AddressSchemeNames(string(asset))},
			}
		}

		available, err := availableBalance(tx, userID, asset)
		if err != nil {
			return err
		}
		if amount.GreaterThan(available) {
			return &DomainError{
				Kind:    KindInsufficientBalance,
				Reason:  "available balance is " + available.String() + " " + string(asset),
				Details: map[string]interface{}{"available": available.String(), "requested": amount.String()},
			}
		}

		payout = models.Payout{
			UserID:    userID,
			Asset:     asset,
			Amount:    amount,
			ToAddress: addr,
			Status:    models.PayoutPending,
		}
		return tx.Create(&payout).Error
	})
	if err != nil {
		return nil, infra("request withdraw", err)
	}
	log.Printf("🏦 [PAYOUT] user=%s requested %s %s -> %s (payout %s)", userID, amount, asset, payout.ToAddress, payout.ID)
	return &payout, nil
}

// CancelWithdraw voids a PENDING request. The row stays as CANCELLED for audit.
func (s *PayoutService) CancelWithdraw(ctx context.Context, userID, payoutID string) (*models.Payout, error) {
	now := nowFrom(s.Now)
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.Payout{}).
		Where("id = ? AND user_id = ? AND status = ?", payoutID, userID, models.PayoutPending).
		Updates(map[string]interface{}{"status": models.PayoutCancelled, "cancelled_at": now})
	if res.Error != nil {
		return nil, infra("cancel withdraw", res.Error)
	}
	payout, err := s.loadPayout(db, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.UserID != userID {
		return nil, domainErr(KindNotFound, "payout not found")
	}
	if res.RowsAffected == 0 {
		return nil, domainErr(KindInvalidState, "only PENDING payouts can be cancelled (is %s)", payout.Status)
	}
	log.Printf("↩️ [PAYOUT] user=%s cancelled payout %s (%s %s)", userID, payoutID, payout.Amount, payout.Asset)
	return payout, nil
}

func (s *PayoutService) loadPayout(db *gorm.DB, payoutID string) (*models.Payout, error) {
	var payout models.Payout
	if err := db.First(&payout, "id = ?", payoutID).Error; err != nil {
		if isNotFound(err) {
			return nil, domainErr(KindNotFound, "payout not found")
		}
		return nil, infra("load payout", err)
	}
	return &payout, nil
}

func (s *PayoutService) ListPayouts(ctx context.Context, userID string, status models.PayoutStatus) ([]models.Payout, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var payouts []models.Payout
	err := q.Find(&payouts).Error
	return payouts, infra("list payouts", err)
}

// MarkProcessing records that the executor submitted the payout. The
// settlement hash is tracked as an open pending transaction until it is
// resolved or expires.
func (s *PayoutService) MarkProcessing(ctx context.Context, payoutID, settlementHash string) (*models.Payout, error) {
	settlementHash = strings.TrimSpace(settlementHash)
	if settlementHash == "" {
		return nil, domainErr(KindInvalidInput, "settlement hash is required")
	}
	now := nowFrom(s.Now)
	expiry := s.Config.Current().SettlementExpiry()

	var payout models.Payout
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payout, "id = ?", payoutID).Error; err != nil {
			if isNotFound(err) {
				return domainErr(KindNotFound, "payout not found")
			}
			return err
		}
		if payout.Status == models.PayoutProcessing && payout.SettlementHash != nil && *payout.SettlementHash == settlementHash {
			return nil
		}
		if payout.Status != models.PayoutPending {
			return domainErr(KindInvalidState, "cannot start settlement from %s", payout.Status)
		}
		payout.Status = models.PayoutProcessing
		payout.SettlementHash = &settlementHash
		payout.ProcessedAt = &now
		if err := tx.Model(&payout).Updates(map[string]interface{}{
			"status":          payout.Status,
			"settlement_hash": settlementHash,
			"processed_at":    now,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PendingTransaction{
			TxID:      settlementHash,
			PayoutID:  payout.ID,
			Status:    models.PendingTxOpen,
			ExpiresAt: now.Add(expiry),
		}).Error
	})
	if isUniqueViolation(err) {
		return nil, domainErr(KindInvalidState, "settlement hash %s is already tracked", settlementHash)
	}
	if err != nil {
		return nil, infra("mark processing", err)
	}
	log.Printf("⛓️ [PAYOUT] payout %s processing (tx %s)", payout.ID, settlementHash)
	return &payout, nil
}

// Complete finalises a payout. Repeating it is a no-op.
func (s *PayoutService) Complete(ctx context.Context, payoutID, settlementHash string) (*models.Payout, error) {
	return s.settle(ctx, payoutID, models.PayoutCompleted, strings.TrimSpace(settlementHash), "")
}

// Fail releases the reserved amount back to the available balance.
func (s *PayoutService) Fail(ctx context.Context, payoutID, reason string) (*models.Payout, error) {
	return s.settle(ctx, payoutID, models.PayoutFailed, "", reason)
}

func (s *PayoutService) settle(ctx context.Context, payoutID string, to models.PayoutStatus, hash, reason string) (*models.Payout, error) {
	now := nowFrom(s.Now)
	var payout models.Payout
	changed := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payout, "id = ?", payoutID).Error; err != nil {
			if isNotFound(err) {
				return domainErr(KindNotFound, "payout not found")
			}
			return err
		}
		if payout.Status == to {
			return nil
		}
		if payout.Status != models.PayoutPending && payout.Status != models.PayoutProcessing {
			return domainErr(KindInvalidState, "cannot move payout from %s to %s", payout.Status, to)
		}

		updates := map[string]interface{}{"status": to}
		if to == models.PayoutCompleted {
			updates["completed_at"] = now
			payout.CompletedAt = &now
			if hash != "" {
				updates["settlement_hash"] = hash
				payout.SettlementHash = &hash
			}
		} else {
			updates["failure_reason"] = reason
			payout.FailureReason = reason
		}
		if err := tx.Model(&payout).Updates(updates).Error; err != nil {
			return err
		}
		payout.Status = to
		changed = true

		return tx.Model(&models.PendingTransaction{}).
			Where("payout_id = ? AND status = ?", payout.ID, models.PendingTxOpen).
			Update("status", models.PendingTxResolved).Error
	})
	if err != nil {
		return nil, infra("settle payout", err)
	}

	if changed {
		log.Printf("🏁 [PAYOUT] payout %s -> %s (%s %s) %s", payout.ID, to, payout.Amount, payout.Asset, reason)
		kind := NotifyPayoutComplete
		if to == models.PayoutFailed {
			kind = NotifyPayoutFailed
		}
		notify(ctx, s.Notifier, payout.UserID, kind, map[string]interface{}{
			"amount": payout.Amount.String(),
			"asset":  string(payout.Asset),
			"reason": reason,
		})
	}
	return &payout, nil
}

// OpenSettlements lists processing payouts the executor still owes a result for.
func (s *PayoutService) OpenSettlements(ctx context.Context) ([]models.PendingTransaction, error) {
	var open []models.PendingTransaction
	err := s.DB.WithContext(ctx).Where("status = ?", models.PendingTxOpen).Order("created_at ASC").Find(&open).Error
	return open, infra("open settlements", err)
}

// SweepExpired marks overdue pending transactions EXPIRED. The payouts stay
// PROCESSING and are left for an operator to reconcile.
func (s *PayoutService) SweepExpired(ctx context.Context) (int, error) {
	now := nowFrom(s.Now)
	db := s.DB.WithContext(ctx)

	var expired []models.PendingTransaction
	if err := db.Where("status = ? AND expires_at < ?", models.PendingTxOpen, now).Find(&expired).Error; err != nil {
		return 0, infra("load expired settlements", err)
	}
	swept := 0
	for _, p := range expired {
		res := db.Model(&models.PendingTransaction{}).
			Where("tx_id = ? AND status = ?", p.TxID, models.PendingTxOpen).
			Update("status", models.PendingTxExpired)
		if res.Error != nil {
			log.Printf("⚠️ [PAYOUT] Failed to expire tx %s: %v", p.TxID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			swept++
			log.Printf("⏰ [PAYOUT] Settlement tx %s for payout %s expired at %s, needs reconciliation",
				p.TxID, p.PayoutID, p.ExpiresAt.Format(time.RFC3339))
		}
	}
	return swept, nil
}
