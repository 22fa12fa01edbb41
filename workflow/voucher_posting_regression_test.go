package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestSalesPostingComputesGstSplitsAndLedgerBalances(t *testing.T) {
	ctx := setupLedgerStack(t)
	logger := logrus.New()
	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	company, err := models.CreateCompany(ctx, &models.NewCompany{
		Name:      "Apex Traders Pvt Ltd",
		Email:     "owner@apex.test",
		StateCode: "27",
	})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	companyId := company.ID.String()
	ctx = utils.SetCompanyIdInContext(ctx, companyId)

	gst18, err := models.CreateGstRate(ctx, &models.NewGstRate{
		Name: "GST 18%",
		Rate: mustDec("18"),
	})
	if err != nil {
		t.Fatalf("CreateGstRate: %v", err)
	}
	debtor, err := models.CreateLedger(ctx, &models.NewLedger{
		Name:       "Bharat Traders",
		LedgerType: models.LedgerTypeSundryDebtors,
		StateCode:  "27",
	})
	if err != nil {
		t.Fatalf("CreateLedger: %v", err)
	}
	system, err := models.GetSystemLedgers(companyId)
	if err != nil {
		t.Fatalf("GetSystemLedgers: %v", err)
	}

	// Intra-state sale: 10000 basic at 18% splits into cgst 900 + sgst 900.
	draft := &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		PlaceOfSupply: "27",
		TotalAmount:   mustDec("11800"),
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("11800")},
			{LedgerId: system[models.LedgerCodeSales], Credit: mustDec("10000"), GstRateId: gst18.ID},
		},
	}
	voucher, err := workflow.PostVoucher(ctx, logger, companyId, draft)
	if err != nil {
		t.Fatalf("PostVoucher: %v", err)
	}
	if !strings.HasPrefix(voucher.VoucherNumber, "INV-") {
		t.Fatalf("voucher number = %q, want INV- prefix", voucher.VoucherNumber)
	}
	if len(voucher.Entries) != 4 {
		t.Fatalf("entries = %d, want 4 (party + sales + cgst + sgst)", len(voucher.Entries))
	}
	if !voucher.RoundOff.IsZero() {
		t.Fatalf("round off = %s, want 0", voucher.RoundOff)
	}
	byLedger := map[int]models.VoucherEntry{}
	for _, e := range voucher.Entries {
		byLedger[e.LedgerId] = e
	}
	if got := byLedger[system[models.LedgerCodeOutputCgst]].Credit; !got.Equal(mustDec("900")) {
		t.Fatalf("output cgst credit = %s, want 900", got)
	}
	if got := byLedger[system[models.LedgerCodeOutputSgst]].Credit; !got.Equal(mustDec("900")) {
		t.Fatalf("output sgst credit = %s, want 900", got)
	}
	if _, ok := byLedger[system[models.LedgerCodeOutputIgst]]; ok {
		t.Fatalf("intra-state sale must not post igst")
	}

	wantBalances := map[int]decimal.Decimal{
		debtor.ID:                           mustDec("11800"),
		system[models.LedgerCodeSales]:      mustDec("10000"),
		system[models.LedgerCodeOutputCgst]: mustDec("900"),
		system[models.LedgerCodeOutputSgst]: mustDec("900"),
		system[models.LedgerCodeOutputIgst]: decimal.Zero,
	}
	for ledgerId, want := range wantBalances {
		got := ledgerBalance(t, ctx, ledgerId)
		if !got.Equal(want) {
			t.Fatalf("ledger %d balance = %s, want %s", ledgerId, got, want)
		}
		replayed, err := workflow.RecomputeLedgerBalance(ctx, db, companyId, ledgerId)
		if err != nil {
			t.Fatalf("RecomputeLedgerBalance(%d): %v", ledgerId, err)
		}
		if !replayed.Equal(got) {
			t.Fatalf("ledger %d replay = %s, stored = %s", ledgerId, replayed, got)
		}
	}
	if _, drifted, err := workflow.AuditLedgerBalances(ctx, db, logger, companyId); err != nil || len(drifted) > 0 {
		t.Fatalf("AuditLedgerBalances: err=%v drifted=%d", err, len(drifted))
	}

	// A broken draft reports every failed check at once and posts nothing.
	var beforeCount int64
	if err := db.Model(&models.Voucher{}).Where("company_id = ?", companyId).Count(&beforeCount).Error; err != nil {
		t.Fatalf("count vouchers: %v", err)
	}
	_, err = workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("100"), Credit: mustDec("100")},
		},
	})
	var validationErrors *models.ValidationErrors
	if !errors.As(err, &validationErrors) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(validationErrors.Errors) < 2 {
		t.Fatalf("expected both checks reported, got %v", validationErrors)
	}
	var afterCount int64
	if err := db.Model(&models.Voucher{}).Where("company_id = ?", companyId).Count(&afterCount).Error; err != nil {
		t.Fatalf("count vouchers: %v", err)
	}
	if afterCount != beforeCount {
		t.Fatalf("rejected draft persisted a voucher: %d -> %d", beforeCount, afterCount)
	}

	// Void posts a sign-reversed counter-voucher and restores every balance.
	// No reason given, so the stored reason is the user-void default.
	reversal, err := workflow.VoidVoucher(ctx, logger, companyId, voucher.ID, "")
	if err != nil {
		t.Fatalf("VoidVoucher: %v", err)
	}
	if !reversal.IsReversal || !strings.HasPrefix(reversal.VoucherNumber, "REV-") {
		t.Fatalf("reversal = %+v, want REV- counter-voucher", reversal)
	}
	if reversal.ReversalReason == nil || *reversal.ReversalReason != workflow.ReversalReasonUserVoid {
		t.Fatalf("reversal reason = %v, want %q", reversal.ReversalReason, workflow.ReversalReasonUserVoid)
	}
	for ledgerId := range wantBalances {
		if got := ledgerBalance(t, ctx, ledgerId); !got.IsZero() {
			t.Fatalf("ledger %d balance after void = %s, want 0", ledgerId, got)
		}
		replayed, err := workflow.RecomputeLedgerBalance(ctx, db, companyId, ledgerId)
		if err != nil {
			t.Fatalf("RecomputeLedgerBalance(%d): %v", ledgerId, err)
		}
		if !replayed.IsZero() {
			t.Fatalf("ledger %d replay after void = %s, want 0", ledgerId, replayed)
		}
	}
	again, err := workflow.VoidVoucher(ctx, logger, companyId, voucher.ID, "entered twice")
	if err != nil {
		t.Fatalf("repeated VoidVoucher: %v", err)
	}
	if again.ID != reversal.ID {
		t.Fatalf("repeated void minted a second reversal: %d vs %d", again.ID, reversal.ID)
	}

	// A rounded-down invoice carries the agreed total on the party side while
	// the tax side overshoots it: basic 10001 at 18% makes the gross 11801.18,
	// the invoice says 11801, and the 0.18 residual debits the round-off
	// ledger.
	down, err := workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		PlaceOfSupply: "27",
		TotalAmount:   mustDec("11801"),
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("11801")},
			{LedgerId: system[models.LedgerCodeSales], Credit: mustDec("10001"), GstRateId: gst18.ID},
		},
	})
	if err != nil {
		t.Fatalf("PostVoucher rounded down: %v", err)
	}
	if !down.TotalAmount.Equal(mustDec("11801")) {
		t.Fatalf("rounded-down total = %s, want 11801", down.TotalAmount)
	}
	if !down.RoundOff.Equal(mustDec("-0.18")) {
		t.Fatalf("rounded-down round off = %s, want -0.18", down.RoundOff)
	}
	byLedger = map[int]models.VoucherEntry{}
	for _, e := range down.Entries {
		byLedger[e.LedgerId] = e
	}
	if got := byLedger[system[models.LedgerCodeOutputCgst]].Credit; !got.Equal(mustDec("900.09")) {
		t.Fatalf("output cgst credit = %s, want 900.09", got)
	}
	if got := byLedger[system[models.LedgerCodeRoundOff]].Debit; !got.Equal(mustDec("0.18")) {
		t.Fatalf("round-off debit = %s, want 0.18", got)
	}
	gross := byLedger[system[models.LedgerCodeSales]].Credit.
		Add(byLedger[system[models.LedgerCodeOutputCgst]].Credit).
		Add(byLedger[system[models.LedgerCodeOutputSgst]].Credit)
	if !gross.Add(down.RoundOff).Equal(down.TotalAmount) {
		t.Fatalf("gross %s + round off %s != total %s", gross, down.RoundOff, down.TotalAmount)
	}

	// A rounded-up invoice crosses the other way: basic 9999.75 at 18% makes
	// the gross 11799.71 and the invoice says 11800, so 0.29 is credited back.
	up, err := workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		PlaceOfSupply: "27",
		TotalAmount:   mustDec("11800"),
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("11800")},
			{LedgerId: system[models.LedgerCodeSales], Credit: mustDec("9999.75"), GstRateId: gst18.ID},
		},
	})
	if err != nil {
		t.Fatalf("PostVoucher rounded up: %v", err)
	}
	if !up.TotalAmount.Equal(mustDec("11800")) || !up.RoundOff.Equal(mustDec("0.29")) {
		t.Fatalf("rounded-up total = %s round off = %s, want 11800 and 0.29", up.TotalAmount, up.RoundOff)
	}
	for _, e := range up.Entries {
		if e.LedgerId == system[models.LedgerCodeRoundOff] && !e.Credit.Equal(mustDec("0.29")) {
			t.Fatalf("round-off credit = %s, want 0.29", e.Credit)
		}
	}

	// The reversal keeps the stored round off as-is: total minus gross is the
	// same figure whichever side the entries sit on.
	downReversal, err := workflow.VoidVoucher(ctx, logger, companyId, down.ID, "entered twice")
	if err != nil {
		t.Fatalf("VoidVoucher rounded down: %v", err)
	}
	if !downReversal.TotalAmount.Equal(mustDec("11801")) || !downReversal.RoundOff.Equal(mustDec("-0.18")) {
		t.Fatalf("reversal total = %s round off = %s, want 11801 and -0.18",
			downReversal.TotalAmount, downReversal.RoundOff)
	}

	// The audit's voucher-total cross-check must accept every variant above.
	if _, err := workflow.RunReconciliationChecks(ctx, db, logger, companyId); err != nil {
		t.Fatalf("RunReconciliationChecks: %v", err)
	}
	var reports int64
	if err := db.Model(&models.ReconciliationReport{}).Where("company_id = ?", companyId).Count(&reports).Error; err != nil {
		t.Fatalf("count reconciliation reports: %v", err)
	}
	if reports != 0 {
		t.Fatalf("reconciliation flagged %d findings on clean books", reports)
	}
}

func TestPurchasePostingMaintainsWeightedAverageCost(t *testing.T) {
	ctx := setupLedgerStack(t)
	logger := logrus.New()

	company, err := models.CreateCompany(ctx, &models.NewCompany{
		Name:      "Sharma Steel Works",
		Email:     "owner@sharma.test",
		StateCode: "27",
	})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	companyId := company.ID.String()
	ctx = utils.SetCompanyIdInContext(ctx, companyId)

	supplier, err := models.CreateLedger(ctx, &models.NewLedger{
		Name:       "Kirti Metals",
		LedgerType: models.LedgerTypeSundryCreditors,
	})
	if err != nil {
		t.Fatalf("CreateLedger supplier: %v", err)
	}
	debtor, err := models.CreateLedger(ctx, &models.NewLedger{
		Name:       "Retail Counter",
		LedgerType: models.LedgerTypeSundryDebtors,
	})
	if err != nil {
		t.Fatalf("CreateLedger debtor: %v", err)
	}
	item, err := models.CreateStockItem(ctx, &models.NewStockItem{Name: "Steel Rod", Unit: "Nos"})
	if err != nil {
		t.Fatalf("CreateStockItem: %v", err)
	}
	system, err := models.GetSystemLedgers(companyId)
	if err != nil {
		t.Fatalf("GetSystemLedgers: %v", err)
	}

	purchase := func(qty, rate, amount string) *models.Voucher {
		t.Helper()
		v, err := workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
			VoucherType:   models.VoucherTypePurchase,
			VoucherDate:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			PartyLedgerId: supplier.ID,
			Entries: []models.NewVoucherEntry{
				{LedgerId: system[models.LedgerCodePurchase], Debit: mustDec(amount),
					StockItemId: item.ID, Quantity: mustDec(qty), Rate: mustDec(rate)},
				{LedgerId: supplier.ID, Credit: mustDec(amount)},
			},
		})
		if err != nil {
			t.Fatalf("PostVoucher purchase %s@%s: %v", qty, rate, err)
		}
		return v
	}
	assertStock := func(balance, value, avgRate string) {
		t.Helper()
		got, err := models.GetStockItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetStockItem: %v", err)
		}
		if !got.CurrentBalance.Equal(mustDec(balance)) ||
			!got.CurrentValue.Equal(mustDec(value)) ||
			!got.AvgRate.Equal(mustDec(avgRate)) {
			t.Fatalf("stock = qty %s value %s avg %s, want qty %s value %s avg %s",
				got.CurrentBalance, got.CurrentValue, got.AvgRate, balance, value, avgRate)
		}
	}

	purchase("10", "100", "1000")
	assertStock("10", "1000", "100")

	second := purchase("10", "200", "2000")
	assertStock("20", "3000", "150")

	// Selling 5 at the running average leaves the average untouched.
	_, err = workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("750")},
			{LedgerId: system[models.LedgerCodeSales], Credit: mustDec("750"),
				StockItemId: item.ID, Quantity: mustDec("5"), Rate: mustDec("150")},
		},
	})
	if err != nil {
		t.Fatalf("PostVoucher sales: %v", err)
	}
	assertStock("15", "2250", "150")

	// Voiding the second purchase unwinds its movement at the entry rate.
	if _, err := workflow.VoidVoucher(ctx, logger, companyId, second.ID, "wrong rate"); err != nil {
		t.Fatalf("VoidVoucher: %v", err)
	}
	assertStock("5", "250", "50")

	// Negative stock is refused unless explicitly allowed.
	_, err = workflow.PostVoucher(ctx, logger, companyId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("500")},
			{LedgerId: system[models.LedgerCodeSales], Credit: mustDec("500"),
				StockItemId: item.ID, Quantity: mustDec("10"), Rate: mustDec("50")},
		},
	})
	if err == nil {
		t.Fatalf("expected negative stock rejection")
	}
	assertStock("5", "250", "50")
}

func TestNotificationLifecycleMirrorsAcceptedSales(t *testing.T) {
	baseCtx := setupLedgerStack(t)
	logger := logrus.New()
	db := config.GetDB()

	sender, err := models.CreateCompany(baseCtx, &models.NewCompany{
		Name:      "Apex Traders Pvt Ltd",
		Email:     "owner@apex.test",
		StateCode: "27",
	})
	if err != nil {
		t.Fatalf("CreateCompany sender: %v", err)
	}
	recipient, err := models.CreateCompany(baseCtx, &models.NewCompany{
		Name:      "Bharat Distributors",
		Email:     "owner@bharat.test",
		StateCode: "27",
	})
	if err != nil {
		t.Fatalf("CreateCompany recipient: %v", err)
	}
	senderId := sender.ID.String()
	recipientId := recipient.ID.String()
	ctxA := utils.SetCompanyIdInContext(baseCtx, senderId)
	ctxB := utils.SetCompanyIdInContext(baseCtx, recipientId)

	gst18, err := models.CreateGstRate(ctxA, &models.NewGstRate{Name: "GST 18%", Rate: mustDec("18")})
	if err != nil {
		t.Fatalf("CreateGstRate: %v", err)
	}
	// The debtor ledger's email ties it to the recipient's platform account.
	debtor, err := models.CreateLedger(ctxA, &models.NewLedger{
		Name:       "Bharat Distributors",
		LedgerType: models.LedgerTypeSundryDebtors,
		StateCode:  "27",
		Email:      "owner@bharat.test",
	})
	if err != nil {
		t.Fatalf("CreateLedger: %v", err)
	}
	senderSystem, err := models.GetSystemLedgers(senderId)
	if err != nil {
		t.Fatalf("GetSystemLedgers sender: %v", err)
	}
	recipientSystem, err := models.GetSystemLedgers(recipientId)
	if err != nil {
		t.Fatalf("GetSystemLedgers recipient: %v", err)
	}

	postSales := func(day int) (*models.Voucher, *models.VoucherNotification) {
		t.Helper()
		v, err := workflow.PostVoucher(ctxA, logger, senderId, &models.NewVoucher{
			VoucherType:   models.VoucherTypeSales,
			VoucherDate:   time.Date(2026, 6, day, 0, 0, 0, 0, time.UTC),
			PartyLedgerId: debtor.ID,
			PlaceOfSupply: "27",
			Entries: []models.NewVoucherEntry{
				{LedgerId: debtor.ID, Debit: mustDec("11800")},
				{LedgerId: senderSystem[models.LedgerCodeSales], Credit: mustDec("10000"), GstRateId: gst18.ID},
			},
		})
		if err != nil {
			t.Fatalf("PostVoucher: %v", err)
		}
		var n models.VoucherNotification
		if err := db.Where("voucher_id = ?", v.ID).First(&n).Error; err != nil {
			t.Fatalf("posted sales voucher raised no notification: %v", err)
		}
		return v, &n
	}
	mirrorCount := func(sourceVoucherId int) int64 {
		t.Helper()
		var count int64
		err := db.Model(&models.Voucher{}).
			Where("company_id = ? AND source_company_id = ? AND source_voucher_id = ?",
				recipientId, senderId, sourceVoucherId).
			Count(&count).Error
		if err != nil {
			t.Fatalf("count mirrors: %v", err)
		}
		return count
	}

	voucher1, n1 := postSales(1)
	if n1.Status != models.NotificationStatusPending || n1.ToCompanyId != recipientId {
		t.Fatalf("notification = %+v, want pending addressed to recipient", n1)
	}

	inbox, err := models.GetNotificationInbox(ctxB, recipientId, nil)
	if err != nil || len(inbox) != 1 {
		t.Fatalf("inbox = %d items, err=%v; want 1", len(inbox), err)
	}
	pending, err := models.GetPendingApprovalCount(ctxB, recipientId)
	if err != nil || pending != 1 {
		t.Fatalf("pending count = %d, err=%v; want 1", pending, err)
	}

	// Only the addressee can work the notification.
	if _, err := workflow.TransitionNotification(ctxA, logger, n1.ID, models.NotificationActionAccept, "owner@apex.test"); err == nil {
		t.Fatalf("sender must not act on its own notification")
	}

	held, err := workflow.TransitionNotification(ctxB, logger, n1.ID, models.NotificationActionHold, "ops@bharat.test")
	if err != nil || held.Status != models.NotificationStatusHold {
		t.Fatalf("hold: status=%v err=%v", held, err)
	}
	accepted, err := workflow.TransitionNotification(ctxB, logger, n1.ID, models.NotificationActionAccept, "ops@bharat.test")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.NotificationStatusAccepted || accepted.MirroredVoucherId == nil {
		t.Fatalf("accept result = %+v, want accepted with mirror", accepted)
	}

	var mirror models.Voucher
	if err := db.Preload("Entries").First(&mirror, *accepted.MirroredVoucherId).Error; err != nil {
		t.Fatalf("load mirror: %v", err)
	}
	if mirror.VoucherType != models.VoucherTypePurchase || mirror.CompanyId != recipientId {
		t.Fatalf("mirror = %s in %s, want purchase in recipient books", mirror.VoucherType, mirror.CompanyId)
	}
	if !mirror.TotalAmount.Equal(voucher1.TotalAmount) {
		t.Fatalf("mirror total = %s, original = %s", mirror.TotalAmount, voucher1.TotalAmount)
	}
	if len(mirror.Entries) != len(voucher1.Entries) {
		t.Fatalf("mirror has %d entries, original %d", len(mirror.Entries), len(voucher1.Entries))
	}
	var debitSum, creditSum decimal.Decimal
	mirrorByLedger := map[int]models.VoucherEntry{}
	for _, e := range mirror.Entries {
		debitSum = debitSum.Add(e.Debit)
		creditSum = creditSum.Add(e.Credit)
		mirrorByLedger[e.LedgerId] = e
	}
	if !debitSum.Equal(creditSum) || !debitSum.Equal(mustDec("11800")) {
		t.Fatalf("mirror sums debit=%s credit=%s, want 11800 both", debitSum, creditSum)
	}
	if got := mirrorByLedger[mirror.PartyLedgerId].Credit; !got.Equal(mustDec("11800")) {
		t.Fatalf("mirror party credit = %s, want 11800", got)
	}
	if got := mirrorByLedger[recipientSystem[models.LedgerCodePurchase]].Debit; !got.Equal(mustDec("10000")) {
		t.Fatalf("mirror purchase debit = %s, want 10000", got)
	}
	if got := mirrorByLedger[recipientSystem[models.LedgerCodeInputCgst]].Debit; !got.Equal(mustDec("900")) {
		t.Fatalf("mirror input cgst debit = %s, want 900", got)
	}
	if got := mirrorByLedger[recipientSystem[models.LedgerCodeInputSgst]].Debit; !got.Equal(mustDec("900")) {
		t.Fatalf("mirror input sgst debit = %s, want 900", got)
	}
	party, err := models.GetLedger(ctxB, mirror.PartyLedgerId)
	if err != nil {
		t.Fatalf("GetLedger party: %v", err)
	}
	if party.LedgerType != models.LedgerTypeSundryCreditors || party.Name != sender.Name {
		t.Fatalf("counterparty ledger = %q (%s), want creditor named after sender", party.Name, party.LedgerType)
	}
	if !party.CurrentBalance.Equal(mustDec("11800")) {
		t.Fatalf("counterparty balance = %s, want 11800", party.CurrentBalance)
	}
	replayed, err := workflow.RecomputeLedgerBalance(ctxB, db, recipientId, party.ID)
	if err != nil || !replayed.Equal(party.CurrentBalance) {
		t.Fatalf("counterparty replay = %s err=%v, stored %s", replayed, err, party.CurrentBalance)
	}

	// Accepting twice is a no-op, not a second posting.
	if _, err := workflow.TransitionNotification(ctxB, logger, n1.ID, models.NotificationActionAccept, "ops@bharat.test"); err != nil {
		t.Fatalf("repeated accept: %v", err)
	}
	if got := mirrorCount(voucher1.ID); got != 1 {
		t.Fatalf("mirrors after repeated accept = %d, want 1", got)
	}
	// Changing the decision after a terminal state is a conflict.
	var conflict *models.ConflictError
	_, err = workflow.TransitionNotification(ctxB, logger, n1.ID, models.NotificationActionReject, "ops@bharat.test")
	if !errors.As(err, &conflict) {
		t.Fatalf("reject after accept: %v, want ConflictError", err)
	}

	// Concurrent accepts race on the same notification; exactly one mirror.
	voucher2, n2 := postSales(2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = workflow.TransitionNotification(ctxB, logger, n2.ID, models.NotificationActionAccept, "ops@bharat.test")
		}()
	}
	wg.Wait()
	if got := mirrorCount(voucher2.ID); got != 1 {
		t.Fatalf("mirrors after concurrent accepts = %d, want 1", got)
	}
	final, err := models.GetVoucherNotification(ctxB, n2.ID)
	if err != nil || final.Status != models.NotificationStatusAccepted {
		t.Fatalf("racing notification = %+v err=%v, want accepted", final, err)
	}

	// The raw approval token rides the create outbox event exactly once and
	// authenticates an out-of-band response.
	_, n3 := postSales(3)
	var record models.OutboxMessageRecord
	err = db.Where("reference_type = ? AND reference_id = ? AND action = ?",
		models.EventReferenceTypeNotification, n3.ID, models.OutboxMessageActionCreate).
		First(&record).Error
	if err != nil {
		t.Fatalf("load notification outbox event: %v", err)
	}
	var payload models.NotificationEventPayload
	if err := json.Unmarshal(record.NewObj, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ApprovalToken == "" {
		t.Fatalf("create event carries no approval token")
	}
	if _, err := workflow.RedeemNotificationToken(baseCtx, logger, n3.ID, "not-the-token", models.NotificationActionReject); err == nil {
		t.Fatalf("wrong token must be refused")
	}
	rejected, err := workflow.RedeemNotificationToken(baseCtx, logger, n3.ID, payload.ApprovalToken, models.NotificationActionReject)
	if err != nil || rejected.Status != models.NotificationStatusRejected {
		t.Fatalf("token reject: %+v err=%v", rejected, err)
	}
	// Terminal transitions burn the token.
	if _, err := workflow.RedeemNotificationToken(baseCtx, logger, n3.ID, payload.ApprovalToken, models.NotificationActionAccept); err == nil {
		t.Fatalf("burned token must be refused")
	}

	// The sweeper ignores pending notifications past their token window.
	_, n4 := postSales(4)
	expired := time.Now().UTC().Add(-time.Hour)
	if err := db.Model(&models.VoucherNotification{}).Where("id = ?", n4.ID).
		Update("token_expires_at", expired).Error; err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}
	swept, err := workflow.SweepExpiredNotifications(baseCtx, logger, 50)
	if err != nil {
		t.Fatalf("SweepExpiredNotifications: %v", err)
	}
	if swept < 1 {
		t.Fatalf("swept = %d, want at least 1", swept)
	}
	sweptNotification, err := models.GetVoucherNotification(ctxB, n4.ID)
	if err != nil || sweptNotification.Status != models.NotificationStatusIgnored {
		t.Fatalf("swept notification = %+v err=%v, want ignored", sweptNotification, err)
	}

	// A rounded-down original mirrors with its agreed total intact: the
	// swapped entries carry the sender's 0.18 round-off line, and the
	// recipient's voucher stores the same total and signed round off.
	voucher5, err := workflow.PostVoucher(ctxA, logger, senderId, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: debtor.ID,
		PlaceOfSupply: "27",
		TotalAmount:   mustDec("11801"),
		Entries: []models.NewVoucherEntry{
			{LedgerId: debtor.ID, Debit: mustDec("11801")},
			{LedgerId: senderSystem[models.LedgerCodeSales], Credit: mustDec("10001"), GstRateId: gst18.ID},
		},
	})
	if err != nil {
		t.Fatalf("PostVoucher rounded down: %v", err)
	}
	var n5 models.VoucherNotification
	if err := db.Where("voucher_id = ?", voucher5.ID).First(&n5).Error; err != nil {
		t.Fatalf("rounded-down sale raised no notification: %v", err)
	}
	acceptedDown, err := workflow.TransitionNotification(ctxB, logger, n5.ID, models.NotificationActionAccept, "ops@bharat.test")
	if err != nil {
		t.Fatalf("accept rounded-down notification: %v", err)
	}
	if acceptedDown.MirroredVoucherId == nil {
		t.Fatalf("accept result = %+v, want accepted with mirror", acceptedDown)
	}
	var downMirror models.Voucher
	if err := db.Preload("Entries").First(&downMirror, *acceptedDown.MirroredVoucherId).Error; err != nil {
		t.Fatalf("load rounded-down mirror: %v", err)
	}
	if !downMirror.TotalAmount.Equal(mustDec("11801")) || !downMirror.RoundOff.Equal(mustDec("-0.18")) {
		t.Fatalf("mirror total = %s round off = %s, want 11801 and -0.18",
			downMirror.TotalAmount, downMirror.RoundOff)
	}
	if len(downMirror.Entries) != len(voucher5.Entries) {
		t.Fatalf("mirror has %d entries, original %d", len(downMirror.Entries), len(voucher5.Entries))
	}
	for _, e := range downMirror.Entries {
		if e.LedgerId == recipientSystem[models.LedgerCodeRoundOff] && !e.Credit.Equal(mustDec("0.18")) {
			t.Fatalf("mirror round-off credit = %s, want 0.18", e.Credit)
		}
	}
}

func setupLedgerStack(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	return ctx
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ledgerBalance(t *testing.T, ctx context.Context, id int) decimal.Decimal {
	t.Helper()
	ledger, err := models.GetLedger(ctx, id)
	if err != nil {
		t.Fatalf("GetLedger(%d): %v", id, err)
	}
	return ledger.CurrentBalance
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
