package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// postingPlan is the outcome of the validation pass: the resolved master
// rows and the fully balanced entry set, ready to be written. The
// transactional pass consumes it without re-reading master data.
type postingPlan struct {
	company     *models.Company
	policy      models.RoundingPolicy
	ledgers     map[int]*models.Ledger
	entries     []models.VoucherEntry
	totalAmount decimal.Decimal
	roundOff    decimal.Decimal
}

// mirrorSource links a voucher posted from a notification accept back to the
// counterparty original. The pair is covered by a unique index, which is what
// makes repeated accepts single-shot.
type mirrorSource struct {
	CompanyId string
	VoucherId int
}

// duplicateKeyOn reports whether err is a MySQL duplicate-key error on the
// named unique index.
func duplicateKeyOn(err error, indexName string) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != 1062 {
		return false
	}
	return strings.Contains(mysqlErr.Message, indexName)
}

// loadByIds fetches company-scoped rows by primary key in one query and maps
// them by id, so validation can report every missing reference in one pass.
func loadByIds[T any](ctx context.Context, db *gorm.DB, companyId string, ids []int, idOf func(*T) int) (map[int]*T, error) {
	result := make(map[int]*T, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []T
	if err := db.WithContext(ctx).
		Where("company_id = ? AND id IN ?", companyId, ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[idOf(&rows[i])] = &rows[i]
	}
	return result, nil
}

// PostVoucher validates a draft, then writes the voucher, its entries, the
// derived tax and round-off lines, every balance delta and every stock
// movement in one transaction under the company posting lock. Validation
// failures come back as the full list; nothing is written for them.
func PostVoucher(ctx context.Context, logger *logrus.Logger, companyId string, draft *models.NewVoucher) (*models.Voucher, error) {
	return postVoucherFromSource(ctx, logger, companyId, draft, nil)
}

func postVoucherFromSource(ctx context.Context, logger *logrus.Logger, companyId string, draft *models.NewVoucher, source *mirrorSource) (*models.Voucher, error) {
	db := config.GetDB()
	plan, err := validateVoucherDraft(ctx, db, companyId, draft)
	if err != nil {
		return nil, err
	}
	var posted *models.Voucher
	err = db.Transaction(func(tx *gorm.DB) error {
		v, err := postVoucherTx(ctx, tx, logger, companyId, draft, plan, source)
		if err != nil {
			return err
		}
		posted = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// validateVoucherDraft collects every violation before anything touches the
// database write path. Structural problems (shape, unknown references) are
// reported together first; tax arithmetic mismatches are collected next; the
// balance check runs only on a structurally sound set.
func validateVoucherDraft(ctx context.Context, db *gorm.DB, companyId string, draft *models.NewVoucher) (*postingPlan, error) {
	validationErrors := &models.ValidationErrors{}

	company, err := models.GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}

	if !draft.VoucherType.Valid() {
		validationErrors.Add("voucher_type", "invalid voucher type %q", draft.VoucherType)
		return nil, validationErrors
	}
	tradingVoucher := draft.VoucherType.StockSign() != 0
	stockVoucher := draft.VoucherType == models.VoucherTypeStockJournal ||
		draft.VoucherType == models.VoucherTypePhysicalStock

	if draft.VoucherDate.IsZero() {
		validationErrors.Add("voucher_date", "voucher date is required")
	} else if err := models.ValidatePostingLock(ctx, draft.VoucherDate, companyId); err != nil {
		validationErrors.Add("voucher_date", "%s", err.Error())
	}
	if draft.TotalAmount.IsNegative() {
		validationErrors.Add("total_amount", "total amount cannot be negative")
	}
	if draft.TdsAmount.IsNegative() || draft.TcsAmount.IsNegative() {
		validationErrors.Add("tds_amount", "tds/tcs amounts cannot be negative")
	}
	if len(draft.Entries) < 2 {
		validationErrors.Add("entries", "a voucher needs at least two entries")
	}

	// One query per master table; every unknown id surfaces in the same
	// response instead of one per resubmit.
	ledgerIds := make([]int, 0, len(draft.Entries)+1)
	gstRateIds := make([]int, 0)
	stockItemIds := make([]int, 0)
	costCenterIds := make([]int, 0)
	godownIds := make([]int, 0)
	if draft.PartyLedgerId > 0 {
		ledgerIds = append(ledgerIds, draft.PartyLedgerId)
	}
	for _, entry := range draft.Entries {
		if entry.LedgerId > 0 && !slices.Contains(ledgerIds, entry.LedgerId) {
			ledgerIds = append(ledgerIds, entry.LedgerId)
		}
		if entry.GstRateId > 0 && !slices.Contains(gstRateIds, entry.GstRateId) {
			gstRateIds = append(gstRateIds, entry.GstRateId)
		}
		if entry.StockItemId > 0 && !slices.Contains(stockItemIds, entry.StockItemId) {
			stockItemIds = append(stockItemIds, entry.StockItemId)
		}
		if entry.CostCenterId > 0 && !slices.Contains(costCenterIds, entry.CostCenterId) {
			costCenterIds = append(costCenterIds, entry.CostCenterId)
		}
		if entry.GodownId > 0 && !slices.Contains(godownIds, entry.GodownId) {
			godownIds = append(godownIds, entry.GodownId)
		}
	}
	ledgers, err := loadByIds(ctx, db, companyId, ledgerIds, func(l *models.Ledger) int { return l.ID })
	if err != nil {
		return nil, err
	}
	gstRates, err := loadByIds(ctx, db, companyId, gstRateIds, func(r *models.GstRate) int { return r.ID })
	if err != nil {
		return nil, err
	}
	stockItems, err := loadByIds(ctx, db, companyId, stockItemIds, func(s *models.StockItem) int { return s.ID })
	if err != nil {
		return nil, err
	}
	costCenters, err := loadByIds(ctx, db, companyId, costCenterIds, func(c *models.CostCenter) int { return c.ID })
	if err != nil {
		return nil, err
	}
	godowns, err := loadByIds(ctx, db, companyId, godownIds, func(g *models.Godown) int { return g.ID })
	if err != nil {
		return nil, err
	}

	for i, entry := range draft.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if entry.LedgerId <= 0 {
			validationErrors.Add(field, "ledger_id is required")
		} else if ledger, ok := ledgers[entry.LedgerId]; !ok {
			validationErrors.Add(field, "ledger %d not found", entry.LedgerId)
		} else if ledger.IsActive != nil && !*ledger.IsActive {
			validationErrors.Add(field, "ledger %q is inactive", ledger.Name)
		}
		if entry.Debit.IsNegative() || entry.Credit.IsNegative() {
			validationErrors.Add(field, "debit and credit cannot be negative")
		} else if entry.Debit.IsPositive() == entry.Credit.IsPositive() {
			validationErrors.Add(field, "exactly one of debit or credit must be positive")
		}
		if entry.Rate.IsNegative() {
			validationErrors.Add(field, "rate cannot be negative")
		}
		if entry.CgstAmount.IsNegative() || entry.SgstAmount.IsNegative() ||
			entry.IgstAmount.IsNegative() || entry.CessAmount.IsNegative() {
			validationErrors.Add(field, "tax amounts cannot be negative")
		}
		if entry.StockItemId > 0 {
			if !tradingVoucher && !stockVoucher {
				validationErrors.Add(field, "%s vouchers cannot move stock", draft.VoucherType)
			}
			if entry.Quantity.IsZero() {
				validationErrors.Add(field, "stock movement requires a quantity")
			} else if tradingVoucher && entry.Quantity.IsNegative() {
				validationErrors.Add(field, "quantity must be positive; the voucher type carries the direction")
			}
			if _, ok := stockItems[entry.StockItemId]; !ok {
				validationErrors.Add(field, "stock item %d not found", entry.StockItemId)
			}
		} else if !entry.Quantity.IsZero() {
			validationErrors.Add(field, "quantity given without a stock item")
		}
		if entry.GstRateId > 0 {
			if !tradingVoucher {
				validationErrors.Add(field, "gst applies only to sales, purchase, debit note and credit note vouchers")
			}
			if _, ok := gstRates[entry.GstRateId]; !ok {
				validationErrors.Add(field, "gst rate %d not found", entry.GstRateId)
			}
		} else if !entry.CgstAmount.IsZero() || !entry.SgstAmount.IsZero() ||
			!entry.IgstAmount.IsZero() || !entry.CessAmount.IsZero() {
			validationErrors.Add(field, "tax amounts given without a gst rate")
		}
		if entry.CostCenterId > 0 {
			if _, ok := costCenters[entry.CostCenterId]; !ok {
				validationErrors.Add(field, "cost center %d not found", entry.CostCenterId)
			}
		}
		if entry.GodownId > 0 {
			if _, ok := godowns[entry.GodownId]; !ok {
				validationErrors.Add(field, "godown %d not found", entry.GodownId)
			}
		}
	}

	if tradingVoucher {
		if draft.PartyLedgerId <= 0 {
			validationErrors.Add("party_ledger_id", "%s vouchers require a party ledger", draft.VoucherType)
		} else if _, ok := ledgers[draft.PartyLedgerId]; !ok {
			validationErrors.Add("party_ledger_id", "ledger %d not found", draft.PartyLedgerId)
		} else {
			onVoucher := false
			for _, entry := range draft.Entries {
				if entry.LedgerId == draft.PartyLedgerId {
					onVoucher = true
					break
				}
			}
			if !onVoucher {
				validationErrors.Add("party_ledger_id", "party ledger must appear in the entries")
			}
		}
	}
	if len(gstRateIds) > 0 && len(draft.PlaceOfSupply) != 2 {
		validationErrors.Add("place_of_supply", "two-digit state code is required when gst lines are present")
	}
	if validationErrors.HasErrors() {
		return nil, validationErrors
	}

	// Tax pass. Each gst-bearing line gets its split recomputed; caller
	// supplied amounts are cross-checks, never inputs. Aggregated tax lines
	// post on the same side as the line that produced them.
	posted := make([]models.VoucherEntry, 0, len(draft.Entries)+5)
	var taxOnDebitSide, taxOnCreditSide TaxBreakup
	for i, entry := range draft.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		posted = append(posted, models.VoucherEntry{
			CompanyId:    companyId,
			LedgerId:     entry.LedgerId,
			Description:  entry.Description,
			Debit:        entry.Debit,
			Credit:       entry.Credit,
			StockItemId:  entry.StockItemId,
			Quantity:     entry.Quantity,
			Rate:         entry.Rate,
			GstRateId:    entry.GstRateId,
			CostCenterId: entry.CostCenterId,
			GodownId:     entry.GodownId,
		})
		if entry.GstRateId == 0 {
			continue
		}
		rate := gstRates[entry.GstRateId]
		if rate.IsActive != nil && !*rate.IsActive {
			validationErrors.Add(field, "gst rate %q is inactive", rate.Name)
			continue
		}
		basic := entry.Debit.Add(entry.Credit)
		breakup := ComputeTax(basic, rate.Rate, rate.CessRate, company.StateCode, draft.PlaceOfSupply)
		for _, check := range []struct {
			name     string
			supplied decimal.Decimal
			computed decimal.Decimal
		}{
			{"cgst_amount", entry.CgstAmount, breakup.Cgst},
			{"sgst_amount", entry.SgstAmount, breakup.Sgst},
			{"igst_amount", entry.IgstAmount, breakup.Igst},
			{"cess_amount", entry.CessAmount, breakup.Cess},
		} {
			if !check.supplied.IsZero() && !check.supplied.Equal(check.computed) {
				validationErrors.Add(field, "%s: expected %s, got %s", check.name, check.computed, check.supplied)
			}
		}
		line := &posted[len(posted)-1]
		line.CgstAmount = breakup.Cgst
		line.SgstAmount = breakup.Sgst
		line.IgstAmount = breakup.Igst
		line.CessAmount = breakup.Cess
		if entry.Debit.IsPositive() {
			taxOnDebitSide = taxOnDebitSide.Add(breakup)
		} else {
			taxOnCreditSide = taxOnCreditSide.Add(breakup)
		}
	}
	if validationErrors.HasErrors() {
		return nil, validationErrors
	}

	systemLedgers, err := models.GetSystemLedgers(companyId)
	if err != nil {
		return nil, err
	}
	// Sales-side documents collect output tax, purchase-side documents claim
	// input credit.
	codeCgst, codeSgst, codeIgst, codeCess := models.LedgerCodeInputCgst, models.LedgerCodeInputSgst,
		models.LedgerCodeInputIgst, models.LedgerCodeInputCess
	if draft.VoucherType == models.VoucherTypeSales || draft.VoucherType == models.VoucherTypeCreditNote {
		codeCgst, codeSgst, codeIgst, codeCess = models.LedgerCodeOutputCgst, models.LedgerCodeOutputSgst,
			models.LedgerCodeOutputIgst, models.LedgerCodeOutputCess
	}
	appendTaxLines := func(totals TaxBreakup, debitSide bool) error {
		for _, part := range []struct {
			code   string
			amount decimal.Decimal
		}{
			{codeCgst, totals.Cgst},
			{codeSgst, totals.Sgst},
			{codeIgst, totals.Igst},
			{codeCess, totals.Cess},
		} {
			if part.amount.IsZero() {
				continue
			}
			ledgerId, ok := systemLedgers[part.code]
			if !ok {
				return fmt.Errorf("system ledger %s is not provisioned for company %s", part.code, companyId)
			}
			line := models.VoucherEntry{CompanyId: companyId, LedgerId: ledgerId}
			if debitSide {
				line.Debit = part.amount
			} else {
				line.Credit = part.amount
			}
			posted = append(posted, line)
		}
		return nil
	}
	if err := appendTaxLines(taxOnDebitSide, true); err != nil {
		return nil, err
	}
	if err := appendTaxLines(taxOnCreditSide, false); err != nil {
		return nil, err
	}

	// Balance check and rounding line. Whatever imbalance remains after the
	// tax lines must be small enough to be rounding under the configured
	// policy; it posts against the round-off ledger so the set stays balanced.
	var sumDebit, sumCredit decimal.Decimal
	for i := range posted {
		sumDebit = sumDebit.Add(posted[i].Debit)
		sumCredit = sumCredit.Add(posted[i].Credit)
	}
	policy := CurrentRoundingPolicy()
	diff := sumDebit.Sub(sumCredit)
	if diff.Abs().GreaterThan(roundingTolerance(policy)) {
		validationErrors.Add("entries", "entries do not balance: debit %s, credit %s", sumDebit, sumCredit)
		return nil, validationErrors
	}
	if !diff.IsZero() {
		roundLedgerId, ok := systemLedgers[models.LedgerCodeRoundOff]
		if !ok {
			return nil, fmt.Errorf("system ledger %s is not provisioned for company %s", models.LedgerCodeRoundOff, companyId)
		}
		line := models.VoucherEntry{CompanyId: companyId, LedgerId: roundLedgerId, Description: "Round off"}
		if diff.IsPositive() {
			line.Credit = diff
		} else {
			line.Debit = diff.Neg()
		}
		posted = append(posted, line)
	}
	// The voucher total is the externally agreed, policy-rounded figure, not
	// the un-rounded gross. When the tax lines landed on one side, that side
	// is the gross (basic + taxes) and the opposite side carries the agreed
	// total; round_off is signed so that gross + round_off == total. Without
	// tax lines the entries settle the total themselves, except for a
	// mirrored draft whose own round-off line keeps the sender's agreed
	// total below the balanced sum.
	balancedTotal := decimal.Max(sumDebit, sumCredit)
	totalAmount := balancedTotal
	roundOff := diff.Abs()
	switch {
	case !taxOnCreditSide.IsZero() && taxOnDebitSide.IsZero():
		totalAmount = sumDebit
		roundOff = sumDebit.Sub(sumCredit)
	case !taxOnDebitSide.IsZero() && taxOnCreditSide.IsZero():
		totalAmount = sumCredit
		roundOff = sumCredit.Sub(sumDebit)
	default:
		if !draft.TotalAmount.IsZero() {
			short := balancedTotal.Sub(draft.TotalAmount)
			if short.IsPositive() && !short.GreaterThan(roundingTolerance(policy)) {
				totalAmount = draft.TotalAmount
				roundOff = short.Neg()
			}
		}
	}
	if !draft.TotalAmount.IsZero() && !draft.TotalAmount.Equal(totalAmount) {
		validationErrors.Add("total_amount", "total %s does not match the posted entries (%s)", draft.TotalAmount, totalAmount)
		return nil, validationErrors
	}

	// The tax and round-off lines reference system ledgers the caller never
	// named; the delta pass needs their normal balance side too.
	missing := make([]int, 0)
	for i := range posted {
		if _, ok := ledgers[posted[i].LedgerId]; !ok && !slices.Contains(missing, posted[i].LedgerId) {
			missing = append(missing, posted[i].LedgerId)
		}
	}
	if len(missing) > 0 {
		more, err := loadByIds(ctx, db, companyId, missing, func(l *models.Ledger) int { return l.ID })
		if err != nil {
			return nil, err
		}
		for id, ledger := range more {
			ledgers[id] = ledger
		}
	}

	return &postingPlan{
		company:     company,
		policy:      policy,
		ledgers:     ledgers,
		entries:     posted,
		totalAmount: totalAmount,
		roundOff:    roundOff,
	}, nil
}

// postVoucherTx is the write half of PostVoucher. It assumes a validated
// plan and an open transaction; the notification accept flow calls it inside
// its own transaction so the status swap and the mirror voucher commit
// together.
func postVoucherTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, companyId string, draft *models.NewVoucher, plan *postingPlan, source *mirrorSource) (*models.Voucher, error) {
	if err := AcquireCompanyPostingLock(tx, companyId); err != nil {
		config.LogError(logger, "Posting.go", "PostVoucher", "AcquireCompanyPostingLock", companyId, err)
		return nil, err
	}
	defer ReleaseCompanyPostingLock(tx, companyId)

	seq, err := utils.GetSequence[models.Voucher](ctx, companyId)
	if err != nil {
		config.LogError(logger, "Posting.go", "PostVoucher", "GetSequence", companyId, err)
		return nil, err
	}

	voucher := models.Voucher{
		CompanyId:       companyId,
		VoucherType:     draft.VoucherType,
		VoucherNumber:   fmt.Sprintf("%s-%d", draft.VoucherType.NumberPrefix(), seq),
		SequenceNo:      seq,
		VoucherDate:     draft.VoucherDate,
		PartyLedgerId:   draft.PartyLedgerId,
		PlaceOfSupply:   draft.PlaceOfSupply,
		ReferenceNumber: draft.ReferenceNumber,
		Narration:       draft.Narration,
		TotalAmount:     plan.totalAmount,
		RoundOff:        plan.roundOff,
		TdsAmount:       draft.TdsAmount,
		TcsAmount:       draft.TcsAmount,
		Entries:         plan.entries,
	}
	if source != nil {
		voucher.SourceCompanyId = &source.CompanyId
		voucher.SourceVoucherId = &source.VoucherId
	}
	if err := tx.WithContext(ctx).Create(&voucher).Error; err != nil {
		// A lost race on the mirror index means the counter-voucher already
		// exists; hand the caller that one instead of failing the accept.
		if source != nil && duplicateKeyOn(err, "idx_vch_source") {
			existing, findErr := models.GetMirroredVoucher(ctx, tx, companyId, source.CompanyId, source.VoucherId)
			if findErr == nil {
				return existing, nil
			}
		}
		config.LogError(logger, "Posting.go", "PostVoucher", "Create Voucher", voucher.VoucherNumber, err)
		return nil, err
	}

	if len(draft.Attachments) > 0 {
		attachments, err := models.CreateVoucherAttachments(ctx, tx, companyId, voucher.ID, draft.Attachments)
		if err != nil {
			config.LogError(logger, "Posting.go", "PostVoucher", "CreateVoucherAttachments", voucher.VoucherNumber, err)
			return nil, err
		}
		voucher.Attachments = attachments
	}

	deltas := map[int]decimal.Decimal{}
	for i := range voucher.Entries {
		entry := &voucher.Entries[i]
		ledger, ok := plan.ledgers[entry.LedgerId]
		if !ok {
			return nil, models.NewNotFoundError("ledger", entry.LedgerId)
		}
		deltas[entry.LedgerId] = deltas[entry.LedgerId].Add(entry.SignedAmount(ledger.NormalBalance))
	}
	ledgerIds := make([]int, 0, len(deltas))
	for id := range deltas {
		ledgerIds = append(ledgerIds, id)
	}
	sort.Ints(ledgerIds)
	for _, id := range ledgerIds {
		if err := ApplyLedgerDelta(tx, companyId, id, deltas[id]); err != nil {
			config.LogError(logger, "Posting.go", "PostVoucher", "ApplyLedgerDelta", id, err)
			return nil, err
		}
	}

	if err := AdjustStockForEntries(ctx, tx, companyId, voucher.VoucherType, voucher.Entries, stockDirectionPost); err != nil {
		config.LogError(logger, "Posting.go", "PostVoucher", "AdjustStockForEntries", voucher.VoucherNumber, err)
		return nil, err
	}

	if err := models.PublishOutboxEvent(ctx, tx, companyId, voucher.VoucherDate, voucher.ID,
		models.EventReferenceTypeVoucher, voucher, nil, models.OutboxMessageActionCreate); err != nil {
		config.LogError(logger, "Posting.go", "PostVoucher", "PublishOutboxEvent", voucher.VoucherNumber, err)
		return nil, err
	}

	// A sales document against a counterparty ledger that carries an email
	// raises the approval notification in the same transaction, so a posted
	// voucher can never silently miss its notification.
	if voucher.VoucherType == models.VoucherTypeSales {
		party := plan.ledgers[voucher.PartyLedgerId]
		if party != nil && party.Email != "" {
			if err := CreateVoucherNotification(ctx, tx, logger, &voucher, party); err != nil {
				config.LogError(logger, "Posting.go", "PostVoucher", "CreateVoucherNotification", voucher.VoucherNumber, err)
				return nil, err
			}
		}
	}

	return &voucher, nil
}
