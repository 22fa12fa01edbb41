package workflow

// Standardized reasons for voucher reversals.
// These are human-readable strings stored in Voucher.reversal_reason.
const (
	ReversalReasonUserVoid             = "Voided by user"
	ReversalReasonDataEntryError       = "Data entry error"
	ReversalReasonDuplicatePosting     = "Duplicate posting"
	ReversalReasonCounterpartyRejected = "Counterparty rejected"
	ReversalReasonAdminCorrection      = "Admin correction"
)

// ReversalReasons lists the standard reasons clients can offer when voiding
// a voucher. Free-text reasons are still accepted; an empty reason defaults
// to ReversalReasonUserVoid.
func ReversalReasons() []string {
	return []string{
		ReversalReasonUserVoid,
		ReversalReasonDataEntryError,
		ReversalReasonDuplicatePosting,
		ReversalReasonCounterpartyRejected,
		ReversalReasonAdminCorrection,
	}
}
