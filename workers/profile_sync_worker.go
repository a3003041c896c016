// workers/profile_sync_worker.go
package workers

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/services"

	"github.com/go-resty/resty/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteProfile is one changed profile as reported by the identity provider.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	TelegramID        int64     `json:"telegram_id"`
	PreferredLanguage *string   `json:"preferred_language,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileSyncWorker mirrors identity-provider profiles into local users.
// Local-only fields (invite code, points, risk score, settings) are never
// touched by the sync.
type ProfileSyncWorker struct {
	db           *gorm.DB
	client       *resty.Client
	interval     time.Duration
	endpointPath string
	cursor       time.Time
}

func NewProfileSyncWorker(db *gorm.DB, baseURL, serviceToken string) *ProfileSyncWorker {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("X-Service-Token", serviceToken)
	return &ProfileSyncWorker{
		db:           db,
		client:       client,
		interval:     1 * time.Minute,
		endpointPath: "/api/v1/public/profiles",
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Profile Sync Worker (identity provider → users)…")
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		log.Printf("⚠️ [SYNC] Initial profile sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				log.Printf("❌ [SYNC] Profile sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Profile Sync Worker stopped")
			return
		}
	}
}

// SyncOnce pulls profiles changed since the cursor and upserts them. The
// cursor only advances when every row was stored, so a failed row is
// fetched again next round.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) error {
	since := w.cursor.UTC().Format(time.RFC3339)

	var body profileChangesResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParam("since", since).
		SetResult(&body).
		Get(w.endpointPath)
	if err != nil {
		return fmt.Errorf("profile sync request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("profile sync returned %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}
	if len(body.Users) == 0 {
		return nil
	}

	var upserted, failed int
	latest := w.cursor
	for _, p := range body.Users {
		if strings.TrimSpace(p.ExternalID) == "" {
			continue
		}
		if err := w.upsert(ctx, p); err != nil {
			failed++
			log.Printf("⚠️ [SYNC] Failed to upsert user external_id=%q: %v", p.ExternalID, err)
			continue
		}
		upserted++
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}

	if failed == 0 {
		w.cursor = latest
	}
	log.Printf("✅ [SYNC] Profiles: %d upserted, %d errors, cursor=%s", upserted, failed, w.cursor.UTC().Format(time.RFC3339))
	return nil
}

func (w *ProfileSyncWorker) upsert(ctx context.Context, p RemoteProfile) error {
	user := models.User{
		ExternalUserID:       p.ExternalID,
		Username:             p.Username,
		TelegramID:           p.TelegramID,
		Locale:               "en",
		NotificationsEnabled: true,
		InviteCode:           services.NewInviteCode(),
		IsBanned:             isBannedStatus(p.AccountStatus),
	}
	columns := []string{"is_banned", "updated_at"}
	if p.Username != "" {
		columns = append(columns, "username")
	}
	if p.TelegramID != 0 {
		columns = append(columns, "telegram_id")
	}
	if p.PreferredLanguage != nil && *p.PreferredLanguage != "" {
		user.Locale = services.NormalizeLocale(*p.PreferredLanguage)
		columns = append(columns, "locale")
	}
	if !p.CreatedAt.IsZero() {
		created := p.CreatedAt.UTC()
		user.AccountCreatedAt = &created
		columns = append(columns, "account_created_at")
	}

	return w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&user).Error
}

func isBannedStatus(status string) bool {
	switch strings.ToLower(status) {
	case "banned", "suspended":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
