package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RoundingPolicyNearestUnit rounds the voucher total to the nearest whole
// currency unit; the remainder posts to the round-off ledger.
// RoundingPolicyNearestPaisa rounds to two decimals, so the round-off entry
// only absorbs sub-paisa residue from tax splits.
const (
	RoundingPolicyNearestUnit  = "NEAREST_UNIT"
	RoundingPolicyNearestPaisa = "NEAREST_PAISA"
)

// VoucherRoundingPolicy selects how posted voucher totals are rounded.
//
// Set via env:
// - ROUNDING_POLICY=NEAREST_UNIT (default) | NEAREST_PAISA
func VoucherRoundingPolicy() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("ROUNDING_POLICY")))
	switch v {
	case RoundingPolicyNearestPaisa:
		return RoundingPolicyNearestPaisa
	default:
		return RoundingPolicyNearestUnit
	}
}

// NotificationTokenTTL is the approval-token validity window for voucher
// notifications. Expired pending notifications are swept to Ignored.
//
// Set via env:
// - NOTIFICATION_TOKEN_TTL_DAYS=7 (default)
func NotificationTokenTTL() time.Duration {
	days, err := strconv.Atoi(strings.TrimSpace(os.Getenv("NOTIFICATION_TOKEN_TTL_DAYS")))
	if err != nil || days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// AllowNegativeStock controls whether a posting may drive a stock item's
// balance below zero. Trading businesses that bill ahead of goods receipt
// keep it on; strict inventory shops turn it off.
//
// Set via env:
// - ALLOW_NEGATIVE_STOCK=true (default) | false
func AllowNegativeStock() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_NEGATIVE_STOCK")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictVoucherImmutability enables fintech-grade guardrails:
// posted vouchers cannot be edited; corrections go through a counter (void) voucher.
//
// Set via env:
// - STRICT_VOUCHER_IMMUTABLE=true
//
// Off only makes sense for local fixture loading; production keeps it on.
func StrictVoucherImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_VOUCHER_IMMUTABLE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
