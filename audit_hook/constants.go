package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountOpened = "account.opened"

	// Conversation actions
	ActionChatCreated = "chat.created"
	ActionChatDeleted = "chat.deleted"

	// Turn actions
	ActionTurnRejected = "turn.rejected"
	ActionTurnFailed   = "turn.failed"
	ActionTurnSettled  = "turn.settled"
	ActionTurnUnbilled = "turn.unbilled"

	// Payment actions
	ActionTopUpStarted         = "topup.started"
	ActionTransactionSettled   = "transaction.settled"
	ActionNotificationRejected = "notification.rejected"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceChat         = "chat"
	ResourceTurn         = "turn"
	ResourceTransaction  = "transaction"
	ResourceNotification = "notification"
)

// Category constants for audit events.
const (
	CategoryAccess       = "access"
	CategoryConversation = "conversation"
	CategoryBilling      = "billing"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
