package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidationErrorsCollectEverything(t *testing.T) {
	validationErrors := &ValidationErrors{}
	if validationErrors.OrNil() != nil {
		t.Fatal("empty collector must flatten to nil")
	}

	validationErrors.Add("entries", "a voucher needs at least two entries")
	validationErrors.Add("entries[0]", "ledger %d not found", 42)
	validationErrors.Add("voucher_date", "voucher date is required")

	err := validationErrors.OrNil()
	if err == nil {
		t.Fatal("non-empty collector must surface as an error")
	}

	var got *ValidationErrors
	if !errors.As(err, &got) {
		t.Fatalf("expected *ValidationErrors via errors.As, got %T", err)
	}
	if len(got.Errors) != 3 {
		t.Fatalf("expected all 3 violations, got %d", len(got.Errors))
	}
	if !strings.Contains(err.Error(), "ledger 42 not found") {
		t.Fatalf("message lost formatting: %q", err.Error())
	}
}

func TestTypedErrorsDiscriminateThroughWrapping(t *testing.T) {
	conflictErr := fmt.Errorf("transition failed: %w",
		NewConflictError("voucher_notification", "status changed concurrently, expected %s", NotificationStatusPending))
	notFoundErr := fmt.Errorf("lookup failed: %w", NewNotFoundError("ledger", 7))

	var conflict *ConflictError
	if !errors.As(conflictErr, &conflict) {
		t.Fatal("ConflictError must survive wrapping")
	}
	if conflict.Resource != "voucher_notification" {
		t.Fatalf("expected resource voucher_notification, got %q", conflict.Resource)
	}

	var notFound *NotFoundError
	if !errors.As(notFoundErr, &notFound) {
		t.Fatal("NotFoundError must survive wrapping")
	}
	if notFound.ID != "7" {
		t.Fatalf("expected id 7, got %q", notFound.ID)
	}

	if errors.As(notFoundErr, &conflict) {
		t.Fatal("a NotFoundError must not match as a ConflictError")
	}
}

func TestVoucherEntrySignedAmount(t *testing.T) {
	debit := VoucherEntry{Debit: decimal.NewFromInt(500)}
	credit := VoucherEntry{Credit: decimal.NewFromInt(500)}

	if !debit.SignedAmount(NormalBalanceDebit).Equal(decimal.NewFromInt(500)) {
		t.Error("a debit grows a debit-normal ledger")
	}
	if !debit.SignedAmount(NormalBalanceCredit).Equal(decimal.NewFromInt(-500)) {
		t.Error("a debit shrinks a credit-normal ledger")
	}
	if !credit.SignedAmount(NormalBalanceCredit).Equal(decimal.NewFromInt(500)) {
		t.Error("a credit grows a credit-normal ledger")
	}
	if !credit.SignedAmount(NormalBalanceDebit).Equal(decimal.NewFromInt(-500)) {
		t.Error("a credit shrinks a debit-normal ledger")
	}
}
