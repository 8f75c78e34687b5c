package domain

// Order statuses. An order is terminal once it reaches completed or
// refund_required.
const (
	OrderStatusPaymentConfirmed   = "payment_confirmed"
	OrderStatusComplianceChecking = "compliance_checking"
	OrderStatusExecuting          = "executing"
	OrderStatusCompleted          = "completed"
	OrderStatusFailed             = "failed"
	OrderStatusRefundRequired     = "refund_required"
)

// Refund progress for a failed settlement.
const (
	RefundStatusNone      = "none"
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

// Ledger transaction statuses. History is append-only: a resubmission adds a
// new record instead of rewriting an old one.
const (
	LedgerTxStatusSubmitted = "submitted"
	LedgerTxStatusConfirmed = "confirmed"
	LedgerTxStatusFailed    = "failed"
)

// Investor categories.
const (
	CategoryRetail        = "retail"
	CategoryAccredited    = "accredited"
	CategoryInstitutional = "institutional"
	CategoryFounder       = "founder"
)

// Identity verification statuses, owned by the external KYC workflow.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
	VerificationExpired  = "expired"
)

// Compliance check names. These double as decision reason codes: a denied
// decision carries the name of the first failing check.
const (
	CheckIdentityApproved      = "identityApproved"
	CheckNotExpired            = "notExpired"
	CheckNotFrozenBeyondLimit  = "notFrozenBeyondLimit"
	CheckWithinInvestmentLimit = "withinInvestmentLimit"
	CheckLedgerNotPaused       = "ledgerNotPaused"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Token registry statuses.
const (
	TokenStatusActive   = "active"
	TokenStatusDisabled = "disabled"
)

// DefaultCurrency is the settlement currency for the sandbox platform.
const DefaultCurrency = "INR"

// IsTerminalOrderStatus reports whether no further settlement activity may
// touch an order in the given status.
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusRefundRequired
}
