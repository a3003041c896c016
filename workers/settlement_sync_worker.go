// workers/settlement_sync_worker.go
package workers

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"quest-reward-system/services"

	"github.com/go-resty/resty/v2"
)

// SettlementUpdate is a payout status change reported by the settlement executor.
type SettlementUpdate struct {
	PayoutID       string    `json:"payout_id"`
	Status         string    `json:"status"`
	SettlementHash string    `json:"settlement_hash"`
	Reason         string    `json:"reason"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SettlementClient struct {
	client *resty.Client
}

func NewSettlementClient(baseURL, serviceToken string) *SettlementClient {
	return &SettlementClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("X-Service-Token", serviceToken),
	}
}

func (c *SettlementClient) GetSettlementUpdates(ctx context.Context, since time.Time) ([]SettlementUpdate, error) {
	var body struct {
		Settlements []SettlementUpdate `json:"settlements"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		SetResult(&body).
		Get("/api/v1/settlements")
	if err != nil {
		return nil, fmt.Errorf("failed to call settlement service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("settlement service returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}
	return body.Settlements, nil
}

// SettlementSyncer applies executor updates that the callbacks may have missed.
// Every transition is idempotent, so replaying an update is harmless.
type SettlementSyncer struct {
	Client  *SettlementClient
	Payouts *services.PayoutService
	cursor  time.Time
}

func NewSettlementSyncer(client *SettlementClient, payouts *services.PayoutService) *SettlementSyncer {
	return &SettlementSyncer{
		Client:  client,
		Payouts: payouts,
		cursor:  time.Now().UTC().Add(-24 * time.Hour),
	}
}

// SyncOnce fetches and applies updates in order. Updates the ledger rejects
// are logged and skipped; a storage failure stops the batch so the cursor
// stays before the update that could not be applied.
func (s *SettlementSyncer) SyncOnce(ctx context.Context) (int, error) {
	updates, err := s.Client.GetSettlementUpdates(ctx, s.cursor)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(updates, func(i, j int) bool { return updates[i].UpdatedAt.Before(updates[j].UpdatedAt) })

	applied := 0
	for _, u := range updates {
		err := s.apply(ctx, u)
		if services.IsInfraError(err) {
			return applied, err
		}
		if err != nil {
			log.Printf("⚠️ [SETTLEMENT] Skipping update payout=%s status=%s: %v", u.PayoutID, u.Status, err)
		} else {
			applied++
		}
		if u.UpdatedAt.After(s.cursor) {
			s.cursor = u.UpdatedAt
		}
	}
	return applied, nil
}

func (s *SettlementSyncer) apply(ctx context.Context, u SettlementUpdate) error {
	var err error
	switch strings.ToUpper(u.Status) {
	case "PROCESSING":
		_, err = s.Payouts.MarkProcessing(ctx, u.PayoutID, u.SettlementHash)
	case "COMPLETED":
		_, err = s.Payouts.Complete(ctx, u.PayoutID, u.SettlementHash)
	case "FAILED":
		_, err = s.Payouts.Fail(ctx, u.PayoutID, u.Reason)
	default:
		err = fmt.Errorf("unknown settlement status %q", u.Status)
	}
	return err
}

// PollSettlements runs SyncOnce on every tick until ctx is cancelled.
func PollSettlements(ctx context.Context, syncer *SettlementSyncer, pollInterval time.Duration) {
	log.Println("⛓️ Starting settlement polling…")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Settlement polling stopped.")
			return
		case <-ticker.C:
			n, err := syncer.SyncOnce(ctx)
			if err != nil {
				log.Printf("❌ [SETTLEMENT] Poll failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("📥 [SETTLEMENT] Applied %d settlement update(s)", n)
			}
		}
	}
}
