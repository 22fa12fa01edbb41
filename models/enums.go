package models

import (
	"errors"
	"strconv"
)

type LedgerMainType string

const (
	LedgerMainTypeAsset     LedgerMainType = "Asset"
	LedgerMainTypeLiability LedgerMainType = "Liability"
	LedgerMainTypeEquity    LedgerMainType = "Equity"
	LedgerMainTypeIncome    LedgerMainType = "Income"
	LedgerMainTypeExpense   LedgerMainType = "Expense"
)

// convert enum to send response
func (t LedgerMainType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

// convert input to enum type
func (t *LedgerMainType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("ledger main type must be string")
	}
	switch str {
	case "Asset":
		*t = LedgerMainTypeAsset
	case "Liability":
		*t = LedgerMainTypeLiability
	case "Equity":
		*t = LedgerMainTypeEquity
	case "Income":
		*t = LedgerMainTypeIncome
	case "Expense":
		*t = LedgerMainTypeExpense
	default:
		return errors.New("invalid ledger main type")
	}
	return nil
}

type LedgerType string

const (
	LedgerTypeFixedAssets        LedgerType = "FixedAssets"
	LedgerTypeInvestments        LedgerType = "Investments"
	LedgerTypeCurrentAssets      LedgerType = "CurrentAssets"
	LedgerTypeStockInHand        LedgerType = "StockInHand"
	LedgerTypeDeposits           LedgerType = "Deposits"
	LedgerTypeLoansAndAdvances   LedgerType = "LoansAndAdvances"
	LedgerTypeSundryDebtors      LedgerType = "SundryDebtors"
	LedgerTypeCashInHand         LedgerType = "CashInHand"
	LedgerTypeBankAccounts       LedgerType = "BankAccounts"
	LedgerTypeBranchDivisions    LedgerType = "BranchDivisions"
	LedgerTypeMiscExpensesAsset  LedgerType = "MiscExpensesAsset"
	LedgerTypeLoansLiability     LedgerType = "LoansLiability"
	LedgerTypeBankOdAccounts     LedgerType = "BankOdAccounts"
	LedgerTypeSecuredLoans       LedgerType = "SecuredLoans"
	LedgerTypeUnsecuredLoans     LedgerType = "UnsecuredLoans"
	LedgerTypeCurrentLiabilities LedgerType = "CurrentLiabilities"
	LedgerTypeDutiesAndTaxes     LedgerType = "DutiesAndTaxes"
	LedgerTypeProvisions         LedgerType = "Provisions"
	LedgerTypeSundryCreditors    LedgerType = "SundryCreditors"
	LedgerTypeSuspenseAccount    LedgerType = "SuspenseAccount"
	LedgerTypeCapitalAccount     LedgerType = "CapitalAccount"
	LedgerTypeReservesAndSurplus LedgerType = "ReservesAndSurplus"
	LedgerTypeRetainedEarnings   LedgerType = "RetainedEarnings"
	LedgerTypeSalesAccounts      LedgerType = "SalesAccounts"
	LedgerTypeDirectIncomes      LedgerType = "DirectIncomes"
	LedgerTypeIndirectIncomes    LedgerType = "IndirectIncomes"
	LedgerTypePurchaseAccounts   LedgerType = "PurchaseAccounts"
	LedgerTypeDirectExpenses     LedgerType = "DirectExpenses"
	LedgerTypeIndirectExpenses   LedgerType = "IndirectExpenses"
)

// ledgerTypeMainTypes classifies every ledger type; a type missing here is
// not a valid LedgerType.
var ledgerTypeMainTypes = map[LedgerType]LedgerMainType{
	LedgerTypeFixedAssets:        LedgerMainTypeAsset,
	LedgerTypeInvestments:        LedgerMainTypeAsset,
	LedgerTypeCurrentAssets:      LedgerMainTypeAsset,
	LedgerTypeStockInHand:        LedgerMainTypeAsset,
	LedgerTypeDeposits:           LedgerMainTypeAsset,
	LedgerTypeLoansAndAdvances:   LedgerMainTypeAsset,
	LedgerTypeSundryDebtors:      LedgerMainTypeAsset,
	LedgerTypeCashInHand:         LedgerMainTypeAsset,
	LedgerTypeBankAccounts:       LedgerMainTypeAsset,
	LedgerTypeBranchDivisions:    LedgerMainTypeAsset,
	LedgerTypeMiscExpensesAsset:  LedgerMainTypeAsset,
	LedgerTypeLoansLiability:     LedgerMainTypeLiability,
	LedgerTypeBankOdAccounts:     LedgerMainTypeLiability,
	LedgerTypeSecuredLoans:       LedgerMainTypeLiability,
	LedgerTypeUnsecuredLoans:     LedgerMainTypeLiability,
	LedgerTypeCurrentLiabilities: LedgerMainTypeLiability,
	LedgerTypeDutiesAndTaxes:     LedgerMainTypeLiability,
	LedgerTypeProvisions:         LedgerMainTypeLiability,
	LedgerTypeSundryCreditors:    LedgerMainTypeLiability,
	LedgerTypeSuspenseAccount:    LedgerMainTypeLiability,
	LedgerTypeCapitalAccount:     LedgerMainTypeEquity,
	LedgerTypeReservesAndSurplus: LedgerMainTypeEquity,
	LedgerTypeRetainedEarnings:   LedgerMainTypeEquity,
	LedgerTypeSalesAccounts:      LedgerMainTypeIncome,
	LedgerTypeDirectIncomes:      LedgerMainTypeIncome,
	LedgerTypeIndirectIncomes:    LedgerMainTypeIncome,
	LedgerTypePurchaseAccounts:   LedgerMainTypeExpense,
	LedgerTypeDirectExpenses:     LedgerMainTypeExpense,
	LedgerTypeIndirectExpenses:   LedgerMainTypeExpense,
}

func (t LedgerType) MainType() LedgerMainType {
	return ledgerTypeMainTypes[t]
}

func (t LedgerType) Valid() bool {
	_, ok := ledgerTypeMainTypes[t]
	return ok
}

func (t LedgerType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *LedgerType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("ledgerType must be string")
	}
	lt := LedgerType(str)
	if _, ok := ledgerTypeMainTypes[lt]; !ok {
		return errors.New("invalid ledgerType")
	}
	*t = lt
	return nil
}

type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

func (t NormalBalance) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *NormalBalance) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("normalBalance must be string")
	}
	switch str {
	case "DEBIT":
		*t = NormalBalanceDebit
	case "CREDIT":
		*t = NormalBalanceCredit
	default:
		return errors.New("invalid normalBalance")
	}
	return nil
}

// NormalBalanceFor returns the side that increases a ledger of this type.
// Asset and Expense ledgers grow by debit; Liability, Equity and Income
// ledgers grow by credit.
func NormalBalanceFor(t LedgerType) NormalBalance {
	switch ledgerTypeMainTypes[t] {
	case LedgerMainTypeAsset, LedgerMainTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

type VoucherType string

const (
	VoucherTypeSales         VoucherType = "Sales"
	VoucherTypePurchase      VoucherType = "Purchase"
	VoucherTypePayment       VoucherType = "Payment"
	VoucherTypeReceipt       VoucherType = "Receipt"
	VoucherTypeJournal       VoucherType = "Journal"
	VoucherTypeContra        VoucherType = "Contra"
	VoucherTypeDebitNote     VoucherType = "DebitNote"
	VoucherTypeCreditNote    VoucherType = "CreditNote"
	VoucherTypeStockJournal  VoucherType = "StockJournal"
	VoucherTypePhysicalStock VoucherType = "PhysicalStock"
)

var voucherNumberPrefixes = map[VoucherType]string{
	VoucherTypeSales:         "INV",
	VoucherTypePurchase:      "PUR",
	VoucherTypePayment:       "PAY",
	VoucherTypeReceipt:       "RCP",
	VoucherTypeJournal:       "JRN",
	VoucherTypeContra:        "CTR",
	VoucherTypeDebitNote:     "DBN",
	VoucherTypeCreditNote:    "CRN",
	VoucherTypeStockJournal:  "STJ",
	VoucherTypePhysicalStock: "PHY",
}

func (t VoucherType) NumberPrefix() string {
	return voucherNumberPrefixes[t]
}

func (t VoucherType) Valid() bool {
	_, ok := voucherNumberPrefixes[t]
	return ok
}

// StockSign is the inventory movement direction for entries carrying a stock
// item. Purchase-side vouchers add stock, sales-side vouchers remove it.
// Stock journals and physical stock counts carry the sign on the entry
// quantity itself, so they return 0.
func (t VoucherType) StockSign() int {
	switch t {
	case VoucherTypePurchase, VoucherTypeCreditNote:
		return 1
	case VoucherTypeSales, VoucherTypeDebitNote:
		return -1
	default:
		return 0
	}
}

func (t VoucherType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *VoucherType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("voucherType must be string")
	}
	vt := VoucherType(str)
	if _, ok := voucherNumberPrefixes[vt]; !ok {
		return errors.New("invalid voucherType")
	}
	*t = vt
	return nil
}

// RoundingPolicy controls how a voucher's agreed total is rounded before the
// round-off line is computed. NearestUnit is the trade default in India.
type RoundingPolicy string

const (
	RoundingPolicyNearestUnit       RoundingPolicy = "NearestUnit"
	RoundingPolicyNearestTwoDecimal RoundingPolicy = "NearestTwoDecimal"
)

func (p RoundingPolicy) Valid() bool {
	switch p {
	case RoundingPolicyNearestUnit, RoundingPolicyNearestTwoDecimal:
		return true
	}
	return false
}

func (p RoundingPolicy) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(p))), nil
}

func (p *RoundingPolicy) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("rounding policy must be string")
	}
	switch str {
	case "NearestUnit":
		*p = RoundingPolicyNearestUnit
	case "NearestTwoDecimal":
		*p = RoundingPolicyNearestTwoDecimal
	default:
		return errors.New("invalid rounding policy")
	}
	return nil
}

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "Pending"
	NotificationStatusAccepted NotificationStatus = "Accepted"
	NotificationStatusRejected NotificationStatus = "Rejected"
	NotificationStatusReviewed NotificationStatus = "Reviewed"
	NotificationStatusHold     NotificationStatus = "Hold"
	NotificationStatusIgnored  NotificationStatus = "Ignored"
)

// Terminal reports whether no further action can move the notification.
func (s NotificationStatus) Terminal() bool {
	switch s {
	case NotificationStatusAccepted, NotificationStatusRejected, NotificationStatusIgnored:
		return true
	}
	return false
}

func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusAccepted, NotificationStatusRejected,
		NotificationStatusReviewed, NotificationStatusHold, NotificationStatusIgnored:
		return true
	}
	return false
}

func (s NotificationStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *NotificationStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("notification status must be string")
	}
	switch str {
	case "Pending":
		*s = NotificationStatusPending
	case "Accepted":
		*s = NotificationStatusAccepted
	case "Rejected":
		*s = NotificationStatusRejected
	case "Reviewed":
		*s = NotificationStatusReviewed
	case "Hold":
		*s = NotificationStatusHold
	case "Ignored":
		*s = NotificationStatusIgnored
	default:
		return errors.New("invalid notification status")
	}
	return nil
}

type NotificationAction string

const (
	NotificationActionAccept NotificationAction = "Accept"
	NotificationActionReject NotificationAction = "Reject"
	NotificationActionReview NotificationAction = "Review"
	NotificationActionHold   NotificationAction = "Hold"
	NotificationActionIgnore NotificationAction = "Ignore"
)

// notificationActionSources is the approval state machine: an action is legal
// only when the stored status is one of its source states. Accepted, Rejected
// and Ignored have no outgoing actions. Ignore applies only to untouched
// pending items (the expiry sweep uses it); a reviewed or held notification
// must be explicitly rejected instead.
var notificationActionSources = map[NotificationAction][]NotificationStatus{
	NotificationActionAccept: {NotificationStatusPending, NotificationStatusReviewed, NotificationStatusHold},
	NotificationActionReject: {NotificationStatusPending, NotificationStatusReviewed, NotificationStatusHold},
	NotificationActionReview: {NotificationStatusPending, NotificationStatusReviewed, NotificationStatusHold},
	NotificationActionHold:   {NotificationStatusPending, NotificationStatusReviewed, NotificationStatusHold},
	NotificationActionIgnore: {NotificationStatusPending},
}

// TargetStatus is the status an action moves the notification into.
func (a NotificationAction) TargetStatus() NotificationStatus {
	switch a {
	case NotificationActionAccept:
		return NotificationStatusAccepted
	case NotificationActionReject:
		return NotificationStatusRejected
	case NotificationActionReview:
		return NotificationStatusReviewed
	case NotificationActionHold:
		return NotificationStatusHold
	case NotificationActionIgnore:
		return NotificationStatusIgnored
	}
	return ""
}

func (a NotificationAction) AllowedFrom(s NotificationStatus) bool {
	for _, src := range notificationActionSources[a] {
		if src == s {
			return true
		}
	}
	return false
}

func (a NotificationAction) Valid() bool {
	_, ok := notificationActionSources[a]
	return ok
}

func (a NotificationAction) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(a))), nil
}

func (a *NotificationAction) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("notification action must be string")
	}
	switch str {
	case "Accept":
		*a = NotificationActionAccept
	case "Reject":
		*a = NotificationActionReject
	case "Review":
		*a = NotificationActionReview
	case "Hold":
		*a = NotificationActionHold
	case "Ignore":
		*a = NotificationActionIgnore
	default:
		return errors.New("invalid notification action")
	}
	return nil
}

type OutboxMessageAction string

const (
	OutboxMessageActionCreate OutboxMessageAction = "C"
	OutboxMessageActionUpdate OutboxMessageAction = "U"
	OutboxMessageActionDelete OutboxMessageAction = "D"
)

func (a OutboxMessageAction) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(a))), nil
}

func (a *OutboxMessageAction) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("outbox message action must be string")
	}
	switch str {
	case "C":
		*a = OutboxMessageActionCreate
	case "U":
		*a = OutboxMessageActionUpdate
	case "D":
		*a = OutboxMessageActionDelete
	default:
		return errors.New("invalid outbox message action")
	}
	return nil
}

// EventReferenceType tags outbox rows with the aggregate they describe.
type EventReferenceType string

const (
	EventReferenceTypeVoucher      EventReferenceType = "VCH"
	EventReferenceTypeNotification EventReferenceType = "NTF"
)

func (t EventReferenceType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *EventReferenceType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("event reference type must be string")
	}
	switch str {
	case "VCH":
		*t = EventReferenceTypeVoucher
	case "NTF":
		*t = EventReferenceTypeNotification
	default:
		return errors.New("invalid event reference type")
	}
	return nil
}

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCustom UserRole = "C"
)

func (p UserRole) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(p))), nil
}

func (p *UserRole) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("user role must be string")
	}
	switch str {
	case "A":
		*p = UserRoleAdmin
	case "O":
		*p = UserRoleOwner
	case "C":
		*p = UserRoleCustom
	default:
		return errors.New("invalid user role")
	}
	return nil
}

func (p UserRole) Valid() bool {
	switch p {
	case UserRoleAdmin, UserRoleOwner, UserRoleCustom:
		return true
	}
	return false
}

func (p UserRole) Name() string {
	switch p {
	case UserRoleAdmin:
		return "Admin"
	case UserRoleOwner:
		return "Owner"
	default:
		return "Custom"
	}
}
