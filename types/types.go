package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Network represents supported Solana clusters
type Network string

const (
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

// TokenType selects the settlement asset
type TokenType string

const (
	TokenUSDC TokenType = "USDC"
	TokenUSDT TokenType = "USDT"
)

// StablecoinDecimals is the decimal count of both supported SPL stablecoins.
const StablecoinDecimals = 6

// PaymentStatus is the state of a payment session
type PaymentStatus string

const (
	StatusPending              PaymentStatus = "pending"
	StatusAuthorized           PaymentStatus = "authorized"
	StatusCaptured             PaymentStatus = "captured"
	StatusCanceled             PaymentStatus = "canceled"
	StatusError                PaymentStatus = "error"
	StatusRequiresManualRefund PaymentStatus = "requires_manual_refund"
	StatusRefunded             PaymentStatus = "refunded"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:              {StatusAuthorized, StatusError, StatusCanceled},
	StatusAuthorized:           {StatusCaptured, StatusCanceled, StatusRefunded, StatusRequiresManualRefund},
	StatusCaptured:             {StatusCanceled, StatusRefunded, StatusRequiresManualRefund},
	StatusRequiresManualRefund: {StatusRefunded},
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s PaymentStatus) String() string {
	return string(s)
}

// SessionMetadata carries host platform identifiers alongside a session.
type SessionMetadata struct {
	CartID     string `json:"cartId,omitempty" yaml:"cartId,omitempty"`
	CustomerID string `json:"customerId,omitempty" yaml:"customerId,omitempty"`
}

// RefundRecord is created only when a refund is attempted.
type RefundRecord struct {
	AmountMinorUnits int64         `json:"amountMinorUnits"`
	TokenUnits       uint64        `json:"tokenUnits,omitempty"`
	Reference        string        `json:"reference,omitempty"`
	Status           PaymentStatus `json:"status"`
	Note             string        `json:"note,omitempty"`
	Error            string        `json:"error,omitempty"`
	At               time.Time     `json:"at"`
}

// PaymentSession is one checkout attempt.
type PaymentSession struct {
	ID     string        `json:"id"`
	Status PaymentStatus `json:"status"`

	AmountMinorUnits int64     `json:"amountMinorUnits"`
	CurrencyCode     string    `json:"currencyCode"`
	TokenType        TokenType `json:"tokenType"`
	Network          Network   `json:"network"`

	// Resolved from configuration at initiate.
	MerchantWallets map[TokenType]string `json:"merchantWallets"`
	Mints           map[TokenType]string `json:"mints"`

	CustomerWallet       string `json:"customerWallet,omitempty"`
	TransactionReference string `json:"transactionReference,omitempty"`
	TokenUnits           uint64 `json:"tokenUnits,omitempty"`
	Verified             bool   `json:"verified"`
	Error                string `json:"error,omitempty"`

	Refund   *RefundRecord   `json:"refund,omitempty"`
	Metadata SessionMetadata `json:"metadata"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *PaymentSession) Clone() *PaymentSession {
	if s == nil {
		return nil
	}
	out := *s
	out.MerchantWallets = cloneTokenMap(s.MerchantWallets)
	out.Mints = cloneTokenMap(s.Mints)
	if s.Refund != nil {
		r := *s.Refund
		out.Refund = &r
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

func cloneTokenMap(m map[TokenType]string) map[TokenType]string {
	if m == nil {
		return nil
	}
	out := make(map[TokenType]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TransferRequest is an ephemeral instruction to move tokens; never persisted.
type TransferRequest struct {
	From             string
	To               string
	Token            TokenType
	AmountMinorUnits int64
}

// TransactionRecord is the ledger's view of a submitted transaction.
type TransactionRecord struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	// ExecutionError is nil when the transaction executed without on-chain error.
	ExecutionError any
	// Raw is the wire-format transaction, used for instruction-level checks.
	Raw []byte
}

// Failed reports whether the record carries an execution error.
func (r *TransactionRecord) Failed() bool {
	return r != nil && r.ExecutionError != nil
}

// ConfirmationPolicy bounds confirmation polling.
type ConfirmationPolicy struct {
	InitialInterval time.Duration `yaml:"initialInterval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"maxInterval" validate:"gte=0"`
	MaxElapsed      time.Duration `yaml:"maxElapsed" validate:"gte=0"`
}

// DefaultConfirmationPolicy returns the polling bounds used when none are configured.
func DefaultConfirmationPolicy() ConfirmationPolicy {
	return ConfirmationPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
		MaxElapsed:      60 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfirmationPolicy.
func (p ConfirmationPolicy) WithDefaults() ConfirmationPolicy {
	d := DefaultConfirmationPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	return p
}

// ProviderConfig contains everything the provider needs at process start.
type ProviderConfig struct {
	Network            Network              `yaml:"network" validate:"required,oneof=solana-mainnet solana-devnet"`
	RPCUrl             string               `yaml:"rpcUrl" validate:"omitempty,url"`
	MerchantUSDCWallet string               `yaml:"merchantUsdcWallet"`
	MerchantUSDTWallet string               `yaml:"merchantUsdtWallet"`
	MerchantPrivateKey string               `yaml:"merchantPrivateKey"`
	MerchantKeyFile    string               `yaml:"merchantKeypairFile"`
	PublishableKey     string               `yaml:"publishableKey"`
	WebhookSecret      string               `yaml:"webhookSecret"`
	MintOverrides      map[TokenType]string `yaml:"mintOverrides"`
	RPCTimeout         time.Duration        `yaml:"rpcTimeout" validate:"gte=0"`
	Confirmation       ConfirmationPolicy   `yaml:"confirmation"`
	StrictVerification bool                 `yaml:"strictVerification"`
}

// MerchantWallet returns the configured merchant wallet for a token.
func (c *ProviderConfig) MerchantWallet(token TokenType) string {
	switch token {
	case TokenUSDC:
		return c.MerchantUSDCWallet
	case TokenUSDT:
		return c.MerchantUSDTWallet
	default:
		return ""
	}
}

// Error codes
const (
	ErrInputValidation     = "INPUT_VALIDATION"
	ErrMissingWallet       = "MISSING_WALLET"
	ErrUnsupportedCurrency = "UNSUPPORTED_CURRENCY"
	ErrUnsupportedToken    = "UNSUPPORTED_TOKEN"
	ErrInvalidAddress      = "INVALID_ADDRESS"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrSubmissionError     = "SUBMISSION_ERROR"
	ErrSigningError        = "SIGNING_ERROR"
	ErrConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrInvalidState        = "INVALID_STATE"
	ErrSessionNotFound     = "SESSION_NOT_FOUND"
	ErrSessionDeleted      = "SESSION_DELETED"
	ErrConfigError         = "CONFIG_ERROR"
	ErrWebhookError        = "WEBHOOK_ERROR"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
)

// PaymentError is the error type returned across the provider.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewError builds a PaymentError with a formatted message.
func NewError(code, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code string, err error, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the PaymentError code carried by err, or "".
func CodeOf(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given PaymentError code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// NormalizeToken parses a client supplied token type; empty means USDC.
func NormalizeToken(raw string) (TokenType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(TokenUSDC):
		return TokenUSDC, nil
	case string(TokenUSDT):
		return TokenUSDT, nil
	default:
		return "", NewError(ErrUnsupportedToken, "unsupported token type: %s", raw)
	}
}

func (t TokenType) String() string {
	return string(t)
}
