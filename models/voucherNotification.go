package models

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// VoucherNotification is the approval record shared between two companies.
// The sender raises it when posting a sales voucher against a ledger that
// carries a counterparty email; the recipient works it through the status
// machine. Accepting one creates the mirrored purchase voucher in the
// recipient's books.
//
// The row deliberately has no company_id column: both parties read it, so
// tenant scoping is done explicitly per query.
type VoucherNotification struct {
	ID            int                `gorm:"primary_key" json:"id"`
	VoucherId     int                `gorm:"index;not null" json:"voucher_id"`
	FromCompanyId string             `gorm:"size:64;index;not null" json:"from_company_id"`
	ToCompanyId   string             `gorm:"size:64;index;not null;index:idx_vn_inbox,priority:1" json:"to_company_id"`
	ToUserEmail   string             `gorm:"size:255;not null" json:"to_user_email"`
	Status        NotificationStatus `gorm:"size:20;not null;default:'Pending';index;index:idx_vn_inbox,priority:2" json:"status"`
	// ApprovalTokenHash is the bcrypt hash of the out-of-band approval token.
	// The raw token is returned exactly once at create and cleared here after
	// the first terminal transition.
	ApprovalTokenHash string     `gorm:"size:60" json:"-"`
	TokenExpiresAt    *time.Time `gorm:"index" json:"token_expires_at"`
	ActionDetails     string     `gorm:"type:text" json:"action_details"`
	RespondedAt       *time.Time `json:"responded_at"`
	RespondedBy       string     `gorm:"size:255" json:"responded_by"`
	MirroredVoucherId *int       `gorm:"index" json:"mirrored_voucher_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (n *VoucherNotification) GetId() int {
	return n.ID
}

// NotificationEventPayload is what notification outbox events carry. The raw
// approval token rides the create event exactly once; the row itself only
// ever stores the bcrypt hash.
type NotificationEventPayload struct {
	VoucherNotification
	ApprovalToken string `json:"approval_token,omitempty"`
}

// GenerateApprovalToken returns a 32-byte random token (hex) together with
// its bcrypt hash. Only the hash is stored.
func GenerateApprovalToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := hex.EncodeToString(buf)
	hash, err := utils.HashPassword(raw)
	if err != nil {
		return "", "", err
	}
	return raw, string(hash), nil
}

// VerifyApprovalToken checks the raw token against the stored hash, the
// expiry window and single-use clearing.
func (n *VoucherNotification) VerifyApprovalToken(raw string) error {
	if n.ApprovalTokenHash == "" {
		return errors.New("approval token already used")
	}
	if n.TokenExpiresAt != nil && time.Now().After(*n.TokenExpiresAt) {
		return errors.New("approval token expired")
	}
	if err := utils.ComparePassword(n.ApprovalTokenHash, raw); err != nil {
		return errors.New("invalid approval token")
	}
	return nil
}

// CompareAndSwapStatus moves the notification from one status to another in
// a single guarded UPDATE. Zero affected rows means another actor won the
// race (or the caller read a stale status) and surfaces as a ConflictError.
func CompareAndSwapStatus(ctx context.Context, tx *gorm.DB, id int, from NotificationStatus, to NotificationStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status": to,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if to.Terminal() {
		// Single use: a terminal transition burns the out-of-band token.
		updates["approval_token_hash"] = ""
	}
	result := tx.WithContext(ctx).Model(&VoucherNotification{}).
		Where("id = ?", id).
		Where("status = ?", from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NewConflictError("voucher_notification", "status changed concurrently, expected %s", from)
	}
	return nil
}

func GetVoucherNotification(ctx context.Context, id int) (*VoucherNotification, error) {
	db := config.GetDB()
	var result VoucherNotification
	err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("voucher_notification", id)
		}
		return nil, err
	}
	return &result, nil
}

// GetNotificationInbox lists the notifications addressed to a company,
// optionally narrowed to one status.
func GetNotificationInbox(ctx context.Context, companyId string, status *NotificationStatus) ([]*VoucherNotification, error) {
	db := config.GetDB()
	var results []*VoucherNotification
	dbCtx := db.WithContext(ctx).Where("to_company_id = ?", companyId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	err := dbCtx.Order("created_at DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// PendingApprovalCacheKey is the Redis key of the recipient's inbox badge,
// maintained by the event worker.
func PendingApprovalCacheKey(companyId string) string {
	return "PendingApprovals:" + companyId
}

// GetPendingApprovalCount serves the badge from Redis, recounting when the
// cache is cold.
func GetPendingApprovalCount(ctx context.Context, companyId string) (int64, error) {
	var count int64
	exists, err := config.GetRedisObject(PendingApprovalCacheKey(companyId), &count)
	if err != nil {
		return 0, err
	}
	if exists {
		return count, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&VoucherNotification{}).
		Where("to_company_id = ? AND status = ?", companyId, NotificationStatusPending).
		Count(&count).Error; err != nil {
		return 0, err
	}
	if err := config.SetRedisObject(PendingApprovalCacheKey(companyId), count, 0); err != nil {
		return 0, err
	}
	return count, nil
}

// FindExpiredPendingNotifications returns pending notifications whose token
// window has lapsed. The expiry sweep ignores them in batches.
func FindExpiredPendingNotifications(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]*VoucherNotification, error) {
	var results []*VoucherNotification
	err := tx.WithContext(ctx).
		Where("status = ?", NotificationStatusPending).
		Where("token_expires_at IS NOT NULL").
		Where("token_expires_at < ?", before).
		Order("token_expires_at").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
