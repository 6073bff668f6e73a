// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"
	KeyAuthForbidden    = "auth.forbidden"

	// Payments
	KeyPaymentNotFound      = "payment.not_found"
	KeyPaymentInvalidAmount = "payment.invalid_amount"
	KeyPaymentUpstream      = "payment.upstream_failed"

	// Milestones
	KeyMilestoneNotFound         = "milestone.not_found"
	KeyMilestoneEvidenceAttached = "milestone.evidence_attached"
	KeyMilestoneIncomplete       = "milestone.incomplete_evidence"
	KeyMilestoneWrongKind        = "milestone.invalid_type"
	KeyMilestoneInvalidState     = "milestone.invalid_state"
	KeyMilestoneConflict         = "milestone.concurrent_modification"

	// Verification
	KeyVerificationTimeout  = "verification.timeout"
	KeyVerificationFailed   = "verification.failed"
	KeyVerificationReviewed = "verification.reviewed"

	// Payouts
	KeyPayoutMissingDestination = "payout.missing_destination"
	KeyPayoutUpstream           = "payout.upstream_failed"
	KeyPayoutAccountSaved       = "payout.account_saved"

	// Webhooks
	KeyWebhookInvalidSignature = "webhook.invalid_signature"

	// Admin
	KeyAdminAccessDenied = "admin.access_denied"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Generic
	KeyNotFound      = "common.not_found"
	KeyRateLimited   = "common.rate_limited"
	KeyInternalError = "common.internal_error"
)
