package types

// AuthorizeRequest is the body accepted by the storefront authorize route.
type AuthorizeRequest struct {
	CartID         string `json:"cart_id" validate:"required_without=SessionID"`
	SessionID      string `json:"session_id" validate:"required_without=CartID"`
	CustomerWallet string `json:"customer_wallet" validate:"required"`
	TokenType      string `json:"token_type"`
}

// Webhook event types understood by the provider
const (
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransactionFinalized = "transaction.finalized"
	EventTransactionFailed    = "transaction.failed"
)

// WebhookEvent is a chain notification relayed by an external watcher.
type WebhookEvent struct {
	Type      string `json:"type" validate:"required"`
	SessionID string `json:"session_id"`
	Signature string `json:"signature" validate:"required"`
	// Amount is in minor units of the session currency.
	Amount    int64  `json:"amount" validate:"gte=0"`
	Mint      string `json:"mint"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// WebhookPayload is the raw delivery handed over by the host.
type WebhookPayload struct {
	Data    []byte
	Headers map[string]string
}

// WebhookAction is the outcome a host applies for a webhook.
type WebhookAction string

const (
	ActionAuthorized   WebhookAction = "authorized"
	ActionCaptured     WebhookAction = "captured"
	ActionFailed       WebhookAction = "failed"
	ActionNotSupported WebhookAction = "not_supported"
)

// WebhookActionResult tells the host what to do with a session.
type WebhookActionResult struct {
	Action           WebhookAction `json:"action"`
	SessionID        string        `json:"sessionId,omitempty"`
	AmountMinorUnits int64         `json:"amount,omitempty"`
	Reference        string        `json:"reference,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

// PaymentStatusResult is returned by the get-status operation.
type PaymentStatusResult struct {
	Status PaymentStatus `json:"status"`
	// Confirmation is the live re-check of the transaction reference; empty when there is none.
	Confirmation string `json:"confirmation,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// InitiateRequest is the body accepted by the storefront session route.
type InitiateRequest struct {
	CartID       string `json:"cart_id" validate:"required"`
	CustomerID   string `json:"customer_id"`
	Amount       int64  `json:"amount" validate:"gt=0"`
	CurrencyCode string `json:"currency_code" validate:"required"`
}
