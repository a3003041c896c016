// services/users.go
package services

import (
	"context"
	"log"
	"strings"
	"time"

	"quest-reward-system/models"
	"quest-reward-system/utils"

	"github.com/dchest/uniuri"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var inviteCodeChars = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

const inviteCodeLen = 8

type UserService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewInviteCode returns a random code from an alphabet without look-alike
// characters. Uniqueness is enforced by the users.invite_code index.
func NewInviteCode() string {
	return uniuri.NewLenChars(inviteCodeLen, inviteCodeChars)
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// EnsureUser returns the local user for an identity-provider id, creating it
// with a fresh invite code on first sight.
func (s *UserService) EnsureUser(ctx context.Context, externalID string) (*models.User, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, domainErr(KindInvalidInput, "missing user id")
	}
	db := s.DB.WithContext(ctx)

	var user models.User
	err := db.First(&user, "external_user_id = ?", externalID).Error
	if err == nil {
		return &user, nil
	}
	if !isNotFound(err) {
		return nil, infra("load user", err)
	}

	now := nowFrom(s.Now)
	for attempt := 0; attempt < 5; attempt++ {
		user = models.User{
			ExternalUserID:       externalID,
			Locale:               "en",
			NotificationsEnabled: true,
			InviteCode:           NewInviteCode(),
			LastSeen:             &now,
		}
		err = db.Create(&user).Error
		if err == nil {
			log.Printf("👤 [USERS] Created user %s for external id %s (invite code %s)", user.ID, externalID, user.InviteCode)
			return &user, nil
		}
		if !isUniqueViolation(err) {
			return nil, infra("create user", err)
		}
		// Either a concurrent request created the user or the code collided.
		var existing models.User
		if lookupErr := db.First(&existing, "external_user_id = ?", externalID).Error; lookupErr == nil {
			return &existing, nil
		}
	}
	return nil, infra("create user", err)
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error
	if isNotFound(err) {
		return nil, domainErr(KindNotFound, "user not found")
	}
	if err != nil {
		return nil, infra("load user", err)
	}
	return &user, nil
}

// UserSettings is a partial update of the fields a user may change.
type UserSettings struct {
	WithdrawAddress      *string `json:"withdraw_address"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
	Locale               *string `json:"locale"`
}

func (s *UserService) UpdateSettings(ctx context.Context, userID string, in UserSettings) (*models.User, error) {
	updates := map[string]interface{}{}
	if in.WithdrawAddress != nil {
		addr := strings.TrimSpace(*in.WithdrawAddress)
		if addr == "" {
			updates["withdraw_address"] = nil
		} else {
			if utils.MatchAddress(string(models.AssetUSDT), addr) == "" && utils.MatchAddress(string(models.AssetStars), addr) == "" {
				return nil, domainErr(KindInvalidAddress, "unrecognised address format")
			}
			updates["withdraw_address"] = addr
		}
	}
	if in.NotificationsEnabled != nil {
		updates["notifications_enabled"] = *in.NotificationsEnabled
	}
	if in.Locale != nil {
		updates["locale"] = NormalizeLocale(*in.Locale)
	}
	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			return nil, infra("update settings", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, domainErr(KindNotFound, "user not found")
		}
	}
	return s.GetUser(ctx, userID)
}

// SearchUsers looks users up by username or invite code for operators.
func (s *UserService) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	db := s.DB.WithContext(ctx).Model(&models.User{}).Limit(limit)
	if query != "" {
		term := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(username) LIKE ? OR invite_code = ?", term, strings.ToUpper(strings.TrimSpace(query)))
	}
	var users []models.User
	if err := db.Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, infra("search users", err)
	}
	return users, nil
}

// NormalizeLocale reduces any BCP-47 tag to its base language, "en" when
// it cannot be parsed.
func NormalizeLocale(raw string) string {
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "en"
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "en"
	}
	return base.String()
}
