package models

import (
	"testing"
)

func TestLedgerTypeClassificationIsTotal(t *testing.T) {
	if len(ledgerTypeMainTypes) != 29 {
		t.Fatalf("expected 29 ledger types, got %d", len(ledgerTypeMainTypes))
	}
	for ledgerType, mainType := range ledgerTypeMainTypes {
		switch mainType {
		case LedgerMainTypeAsset, LedgerMainTypeLiability, LedgerMainTypeEquity,
			LedgerMainTypeIncome, LedgerMainTypeExpense:
		default:
			t.Errorf("%s maps to unknown main type %q", ledgerType, mainType)
		}
		if !ledgerType.Valid() {
			t.Errorf("%s classified but not Valid()", ledgerType)
		}
	}
	if LedgerType("Imaginary").Valid() {
		t.Fatal("unknown ledger type must not be Valid()")
	}
}

func TestNormalBalanceFollowsMainType(t *testing.T) {
	for ledgerType, mainType := range ledgerTypeMainTypes {
		want := NormalBalanceCredit
		if mainType == LedgerMainTypeAsset || mainType == LedgerMainTypeExpense {
			want = NormalBalanceDebit
		}
		if got := NormalBalanceFor(ledgerType); got != want {
			t.Errorf("%s (%s): expected %s normal balance, got %s", ledgerType, mainType, want, got)
		}
	}

	// Spot checks against the book-keeping conventions the table encodes.
	if NormalBalanceFor(LedgerTypeSundryDebtors) != NormalBalanceDebit {
		t.Error("debtors grow by debit")
	}
	if NormalBalanceFor(LedgerTypeSundryCreditors) != NormalBalanceCredit {
		t.Error("creditors grow by credit")
	}
	if NormalBalanceFor(LedgerTypeSalesAccounts) != NormalBalanceCredit {
		t.Error("sales grow by credit")
	}
	if NormalBalanceFor(LedgerTypePurchaseAccounts) != NormalBalanceDebit {
		t.Error("purchases grow by debit")
	}
	if NormalBalanceFor(LedgerTypeCapitalAccount) != NormalBalanceCredit {
		t.Error("capital grows by credit")
	}
}

func TestVoucherTypePrefixesAreUnique(t *testing.T) {
	seen := map[string]VoucherType{}
	for voucherType, prefix := range voucherNumberPrefixes {
		if prefix == "" {
			t.Errorf("%s has no number prefix", voucherType)
		}
		if other, dup := seen[prefix]; dup {
			t.Errorf("prefix %q shared by %s and %s", prefix, voucherType, other)
		}
		seen[prefix] = voucherType
	}
}

func TestVoucherTypeStockSign(t *testing.T) {
	if VoucherTypePurchase.StockSign() != 1 || VoucherTypeCreditNote.StockSign() != 1 {
		t.Error("purchase-side vouchers add stock")
	}
	if VoucherTypeSales.StockSign() != -1 || VoucherTypeDebitNote.StockSign() != -1 {
		t.Error("sales-side vouchers remove stock")
	}
	for _, voucherType := range []VoucherType{
		VoucherTypePayment, VoucherTypeReceipt, VoucherTypeJournal, VoucherTypeContra,
		VoucherTypeStockJournal, VoucherTypePhysicalStock,
	} {
		if voucherType.StockSign() != 0 {
			t.Errorf("%s must not imply a stock direction", voucherType)
		}
	}
}

func TestNotificationStateMachine(t *testing.T) {
	allActions := []NotificationAction{
		NotificationActionAccept, NotificationActionReject, NotificationActionReview,
		NotificationActionHold, NotificationActionIgnore,
	}

	// Terminal statuses admit nothing.
	for _, status := range []NotificationStatus{
		NotificationStatusAccepted, NotificationStatusRejected, NotificationStatusIgnored,
	} {
		if !status.Terminal() {
			t.Errorf("%s must be terminal", status)
		}
		for _, action := range allActions {
			if action.AllowedFrom(status) {
				t.Errorf("%s allowed from terminal status %s", action, status)
			}
		}
	}

	// Pending admits everything.
	for _, action := range allActions {
		if !action.AllowedFrom(NotificationStatusPending) {
			t.Errorf("%s must be allowed from Pending", action)
		}
	}

	// Reviewed and Hold are re-enterable and can still be decided, but the
	// expiry sweep's Ignore only applies to untouched pending items.
	for _, status := range []NotificationStatus{NotificationStatusReviewed, NotificationStatusHold} {
		if status.Terminal() {
			t.Errorf("%s must not be terminal", status)
		}
		for _, action := range []NotificationAction{
			NotificationActionAccept, NotificationActionReject,
			NotificationActionReview, NotificationActionHold,
		} {
			if !action.AllowedFrom(status) {
				t.Errorf("%s must be allowed from %s", action, status)
			}
		}
		if NotificationActionIgnore.AllowedFrom(status) {
			t.Errorf("Ignore must not be allowed from %s", status)
		}
	}
}

func TestNotificationActionTargets(t *testing.T) {
	targets := map[NotificationAction]NotificationStatus{
		NotificationActionAccept: NotificationStatusAccepted,
		NotificationActionReject: NotificationStatusRejected,
		NotificationActionReview: NotificationStatusReviewed,
		NotificationActionHold:   NotificationStatusHold,
		NotificationActionIgnore: NotificationStatusIgnored,
	}
	for action, want := range targets {
		if got := action.TargetStatus(); got != want {
			t.Errorf("%s: expected target %s, got %s", action, want, got)
		}
		if !action.Valid() {
			t.Errorf("%s must be Valid()", action)
		}
	}
	if NotificationAction("Approve").Valid() {
		t.Fatal("unknown action must not be Valid()")
	}
	if NotificationAction("Approve").TargetStatus() != "" {
		t.Fatal("unknown action must have no target status")
	}
}

func TestVoucherTypeUnmarshalRejectsUnknown(t *testing.T) {
	var voucherType VoucherType
	if err := voucherType.UnmarshalJSON([]byte(`"Invoice"`)); err == nil {
		t.Fatal("expected an error for an unknown voucher type")
	}
	if err := voucherType.UnmarshalJSON([]byte(`"Sales"`)); err != nil {
		t.Fatalf("unexpected error for a known voucher type: %v", err)
	}
	if voucherType != VoucherTypeSales {
		t.Fatalf("expected Sales, got %s", voucherType)
	}
}
