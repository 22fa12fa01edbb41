package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// notificationAcceptHandler scopes the idempotency keys of mirror posting.
const notificationAcceptHandler = "NotificationAccept"

// outputToInputCodes remaps the sender's sales-side system ledgers onto the
// recipient's purchase-side ones when a voucher is mirrored.
var outputToInputCodes = map[string]string{
	models.LedgerCodeSales:      models.LedgerCodePurchase,
	models.LedgerCodeOutputCgst: models.LedgerCodeInputCgst,
	models.LedgerCodeOutputSgst: models.LedgerCodeInputSgst,
	models.LedgerCodeOutputIgst: models.LedgerCodeInputIgst,
	models.LedgerCodeOutputCess: models.LedgerCodeInputCess,
}

// CreateVoucherNotification raises the counterparty approval record for a
// sales voucher whose party ledger carries an email. Runs inside the posting
// transaction so a posted voucher can never miss its notification. A party
// email without a platform account skips the notification; the voucher still
// posts.
func CreateVoucherNotification(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, voucher *models.Voucher, party *models.Ledger) error {
	recipient, err := models.GetCompanyByUserEmail(ctx, party.Email)
	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":       "NotificationSync",
					"company_id":  voucher.CompanyId,
					"party_email": party.Email,
				}).Info("counterparty is not on the platform, notification skipped")
			}
			return nil
		}
		return err
	}
	recipientId := recipient.ID.String()
	if recipientId == voucher.CompanyId {
		// Selling to your own books raises nothing.
		return nil
	}

	raw, hash, err := models.GenerateApprovalToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(config.NotificationTokenTTL())
	notification := models.VoucherNotification{
		VoucherId:         voucher.ID,
		FromCompanyId:     voucher.CompanyId,
		ToCompanyId:       recipientId,
		ToUserEmail:       party.Email,
		Status:            models.NotificationStatusPending,
		ApprovalTokenHash: hash,
		TokenExpiresAt:    &expiresAt,
	}
	if err := tx.WithContext(ctx).Create(&notification).Error; err != nil {
		return err
	}

	payload := models.NotificationEventPayload{VoucherNotification: notification, ApprovalToken: raw}
	return models.PublishOutboxEvent(ctx, tx, notification.FromCompanyId, voucher.VoucherDate, notification.ID,
		models.EventReferenceTypeNotification, payload, nil, models.OutboxMessageActionCreate)
}

// TransitionNotification applies one approval action for the recipient
// company in ctx. The status swap is a guarded compare-and-set; accept
// additionally posts the mirrored purchase voucher inside the same
// transaction, so the two can never diverge.
func TransitionNotification(ctx context.Context, logger *logrus.Logger, notificationId int, action models.NotificationAction, actor string) (*models.VoucherNotification, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if !action.Valid() {
		validationErrors := &models.ValidationErrors{}
		validationErrors.Add("action", "invalid action %q", action)
		return nil, validationErrors
	}

	notification, err := models.GetVoucherNotification(ctx, notificationId)
	if err != nil {
		return nil, err
	}
	// Only the addressee works the notification; other tenants see nothing.
	if notification.ToCompanyId != companyId {
		return nil, models.NewNotFoundError("voucher_notification", notificationId)
	}
	if notification.Status == action.TargetStatus() {
		// Redundant response; return the record unchanged.
		return notification, nil
	}
	if !action.AllowedFrom(notification.Status) {
		return nil, models.NewConflictError("voucher_notification", "%s is not allowed from %s", action, notification.Status)
	}

	db := config.GetDB()
	err = db.Transaction(func(tx *gorm.DB) error {
		if action == models.NotificationActionAccept {
			return acceptNotificationTx(ctx, tx, logger, notification, actor)
		}
		return respondNotificationTx(ctx, tx, notification, action, actor)
	})
	if err != nil {
		return nil, err
	}
	return models.GetVoucherNotification(ctx, notificationId)
}

// RedeemNotificationToken authenticates an out-of-band response with the raw
// approval token instead of a session. The token is bcrypt-checked, expiry
// bound and single-use; a valid one acts with the recipient company's
// identity.
func RedeemNotificationToken(ctx context.Context, logger *logrus.Logger, notificationId int, rawToken string, action models.NotificationAction) (*models.VoucherNotification, error) {
	notification, err := models.GetVoucherNotification(ctx, notificationId)
	if err != nil {
		return nil, err
	}
	if err := notification.VerifyApprovalToken(rawToken); err != nil {
		return nil, err
	}
	ctx = utils.SetCompanyIdInContext(ctx, notification.ToCompanyId)
	return TransitionNotification(ctx, logger, notificationId, action, notification.ToUserEmail)
}

// respondNotificationTx handles every non-accept action: one CAS plus the
// outbox event telling the sender how the counterparty responded.
func respondNotificationTx(ctx context.Context, tx *gorm.DB, notification *models.VoucherNotification, action models.NotificationAction, actor string) error {
	now := time.Now().UTC()
	extra := map[string]interface{}{
		"action_details": fmt.Sprintf(`{"action":%q,"actor":%q}`, action, actor),
		"responded_at":   &now,
		"responded_by":   actor,
	}
	if err := models.CompareAndSwapStatus(ctx, tx, notification.ID, notification.Status, action.TargetStatus(), extra); err != nil {
		return err
	}

	updated := *notification
	updated.Status = action.TargetStatus()
	updated.RespondedAt = &now
	updated.RespondedBy = actor
	if updated.Status.Terminal() {
		updated.ApprovalTokenHash = ""
	}
	return models.PublishOutboxEvent(ctx, tx, notification.ToCompanyId, now, notification.ID,
		models.EventReferenceTypeNotification, updated, notification, models.OutboxMessageActionUpdate)
}

func acceptNotificationTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, notification *models.VoucherNotification, actor string) error {
	now := time.Now().UTC()
	extra := map[string]interface{}{
		"action_details": fmt.Sprintf(`{"action":%q,"actor":%q}`, models.NotificationActionAccept, actor),
		"responded_at":   &now,
		"responded_by":   actor,
	}
	if err := models.CompareAndSwapStatus(ctx, tx, notification.ID, notification.Status, models.NotificationStatusAccepted, extra); err != nil {
		return err
	}

	mirror, err := ensureMirroredVoucher(ctx, tx, logger, notification)
	if err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Model(&models.VoucherNotification{}).
		Where("id = ?", notification.ID).
		Updates(map[string]interface{}{"mirrored_voucher_id": mirror.ID}).Error; err != nil {
		return err
	}

	updated := *notification
	updated.Status = models.NotificationStatusAccepted
	updated.RespondedAt = &now
	updated.RespondedBy = actor
	updated.ApprovalTokenHash = ""
	updated.MirroredVoucherId = &mirror.ID
	return models.PublishOutboxEvent(ctx, tx, notification.ToCompanyId, now, notification.ID,
		models.EventReferenceTypeNotification, updated, notification, models.OutboxMessageActionUpdate)
}

// ensureMirroredVoucher posts the counter-voucher into the accepting
// company's books exactly once. The idempotency key covers the happy path;
// the unique (source_company_id, source_voucher_id) index is the backstop
// that makes a crashed or repeated accept physically unable to double-post.
func ensureMirroredVoucher(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, notification *models.VoucherNotification) (*models.Voucher, error) {
	existing, err := models.GetMirroredVoucher(ctx, tx, notification.ToCompanyId, notification.FromCompanyId, notification.VoucherId)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// A skip here would mean an earlier accept committed SUCCEEDED yet the
	// lookup above found nothing; posting proceeds either way and the source
	// index arbitrates.
	messageId := strconv.Itoa(notification.ID)
	if _, err := BeginIdempotency(tx, notification.ToCompanyId, notificationAcceptHandler, messageId); err != nil {
		return nil, err
	}

	draft, err := buildMirroredDraft(ctx, tx, notification)
	if err != nil {
		return nil, err
	}
	plan, err := validateVoucherDraft(ctx, tx, notification.ToCompanyId, draft)
	if err != nil {
		return nil, err
	}
	mirror, err := postVoucherTx(ctx, tx, logger, notification.ToCompanyId, draft, plan, &mirrorSource{
		CompanyId: notification.FromCompanyId,
		VoucherId: notification.VoucherId,
	})
	if err != nil {
		return nil, err
	}
	if err := MarkIdempotencySucceeded(tx, notification.ToCompanyId, notificationAcceptHandler, messageId); err != nil {
		return nil, err
	}
	return mirror, nil
}

// buildMirroredDraft converts the sender's sales voucher into the purchase
// draft for the accepting company: every line changes side, the sender
// becomes the party creditor, sales-side system ledgers map onto their
// purchase-side counterparts, and stock items are matched by name or created
// on first trade.
func buildMirroredDraft(ctx context.Context, tx *gorm.DB, notification *models.VoucherNotification) (*models.NewVoucher, error) {
	var original models.Voucher
	if err := tx.WithContext(ctx).
		Where("company_id = ? AND id = ?", notification.FromCompanyId, notification.VoucherId).
		Preload("Entries").
		First(&original).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("voucher", notification.VoucherId)
		}
		return nil, err
	}
	if original.Voided() {
		return nil, models.NewConflictError("voucher", "%s was voided by the sender", original.VoucherNumber)
	}

	sender, err := models.GetCompanyById(ctx, notification.FromCompanyId)
	if err != nil {
		return nil, err
	}
	party, err := models.FindOrCreateCounterpartyLedger(tx, ctx, notification.ToCompanyId, sender)
	if err != nil {
		return nil, err
	}

	senderSystem, err := models.GetSystemLedgers(notification.FromCompanyId)
	if err != nil {
		return nil, err
	}
	recipientSystem, err := models.GetSystemLedgers(notification.ToCompanyId)
	if err != nil {
		return nil, err
	}
	senderCodeOf := make(map[int]string, len(senderSystem))
	for code, id := range senderSystem {
		senderCodeOf[id] = code
	}

	senderLedgerIds := make([]int, 0, len(original.Entries))
	senderStockIds := make([]int, 0)
	for _, entry := range original.Entries {
		senderLedgerIds = append(senderLedgerIds, entry.LedgerId)
		if entry.StockItemId > 0 {
			senderStockIds = append(senderStockIds, entry.StockItemId)
		}
	}
	senderLedgers, err := loadByIds(ctx, tx, notification.FromCompanyId, senderLedgerIds, func(l *models.Ledger) int { return l.ID })
	if err != nil {
		return nil, err
	}
	senderStockItems, err := loadByIds(ctx, tx, notification.FromCompanyId, senderStockIds, func(s *models.StockItem) int { return s.ID })
	if err != nil {
		return nil, err
	}

	mapLedger := func(senderLedgerId int) (int, error) {
		if senderLedgerId == original.PartyLedgerId {
			return party.ID, nil
		}
		if code, ok := senderCodeOf[senderLedgerId]; ok {
			if mapped, ok := outputToInputCodes[code]; ok {
				code = mapped
			}
			id, ok := recipientSystem[code]
			if !ok {
				return 0, fmt.Errorf("system ledger %s is not provisioned for company %s", code, notification.ToCompanyId)
			}
			return id, nil
		}
		senderLedger, ok := senderLedgers[senderLedgerId]
		if !ok {
			return 0, models.NewNotFoundError("ledger", senderLedgerId)
		}
		mirrored, err := models.FindOrCreateLedgerByName(tx, ctx, notification.ToCompanyId, senderLedger.Name, senderLedger.LedgerType)
		if err != nil {
			return 0, err
		}
		return mirrored.ID, nil
	}

	// Per-line gst metadata stays in the sender's books; the tax money
	// reaches the recipient through the remapped input-tax lines, so the
	// mirrored set balances without recomputation.
	entries := make([]models.NewVoucherEntry, 0, len(original.Entries))
	for _, entry := range original.Entries {
		ledgerId, err := mapLedger(entry.LedgerId)
		if err != nil {
			return nil, err
		}
		mirrored := models.NewVoucherEntry{
			LedgerId:    ledgerId,
			Description: entry.Description,
			Debit:       entry.Credit,
			Credit:      entry.Debit,
		}
		if entry.StockItemId > 0 {
			senderItem, ok := senderStockItems[entry.StockItemId]
			if !ok {
				return nil, models.NewNotFoundError("stock_item", entry.StockItemId)
			}
			item, err := models.FindOrCreateStockItemByName(tx, ctx, notification.ToCompanyId, senderItem.Name, senderItem.Unit)
			if err != nil {
				return nil, err
			}
			mirrored.StockItemId = item.ID
			mirrored.Quantity = entry.Quantity
			mirrored.Rate = entry.Rate
		}
		entries = append(entries, mirrored)
	}

	return &models.NewVoucher{
		VoucherType:     models.VoucherTypePurchase,
		VoucherDate:     original.VoucherDate,
		PartyLedgerId:   party.ID,
		PlaceOfSupply:   original.PlaceOfSupply,
		ReferenceNumber: original.VoucherNumber,
		Narration:       fmt.Sprintf("Mirrored from %s %s", sender.Name, original.VoucherNumber),
		TotalAmount:     original.TotalAmount,
		Entries:         entries,
	}, nil
}

// SweepExpiredNotifications ignores pending notifications whose token window
// lapsed, one transaction per notification so a single conflict cannot stall
// the batch.
func SweepExpiredNotifications(ctx context.Context, logger *logrus.Logger, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	db := config.GetDB()
	swept := 0
	for {
		expired, err := models.FindExpiredPendingNotifications(ctx, db, time.Now().UTC(), batchSize)
		if err != nil {
			return swept, err
		}
		if len(expired) == 0 {
			break
		}
		for _, notification := range expired {
			err := db.Transaction(func(tx *gorm.DB) error {
				return respondNotificationTx(ctx, tx, notification, models.NotificationActionIgnore, "system:expiry-sweep")
			})
			if err != nil {
				// Losing to a user response mid-sweep is fine; move on.
				var conflict *models.ConflictError
				if errors.As(err, &conflict) {
					continue
				}
				return swept, err
			}
			swept++
		}
		if len(expired) < batchSize {
			break
		}
	}
	if logger != nil && swept > 0 {
		logger.WithFields(logrus.Fields{
			"field": "NotificationSync",
			"swept": swept,
		}).Info("expired notifications ignored")
	}
	return swept, nil
}
