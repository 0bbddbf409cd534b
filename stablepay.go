// Package stablepay settles checkout payments in USDC and USDT on Solana
// behind a payment-provider contract.
package stablepay

import (
	"context"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/metrics"
	"github.com/vitwit/stablepay/session"
	"github.com/vitwit/stablepay/settlement"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
	"github.com/vitwit/stablepay/verification"
)

// ProviderIdentifier is the id the host registers the provider under.
const ProviderIdentifier = "solana-usdc-usdt"

// WebhookSignatureHeader carries the hex HMAC-SHA256 of a webhook body.
const WebhookSignatureHeader = "x-stablepay-signature"

// Provider is the payment-provider contract backed by the Solana settlement pipeline
type Provider struct {
	config *types.ProviderConfig

	ledger    clients.Ledger
	mints     *types.MintRegistry
	submitter *settlement.Submitter
	verifier  *verification.Verifier
	machine   *session.Machine

	store   session.Store
	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
	policy  *types.ConfirmationPolicy
	now     func() time.Time
}

// New validates cfg and builds the ledger, transfer pipeline and state
// machine once for the life of the process.
func New(cfg *types.ProviderConfig, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrConfigError, "provider config is required")
	}

	p := &Provider{
		config:  cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := utils.Validator().Struct(cfg); err != nil {
		return nil, types.WrapError(types.ErrConfigError, err, "invalid provider config")
	}

	mints, err := types.NewMintRegistry(cfg.Network, cfg.MintOverrides)
	if err != nil {
		return nil, err
	}
	p.mints = mints

	var key solana.PrivateKey
	if cfg.MerchantPrivateKey != "" || cfg.MerchantKeyFile != "" {
		key, err = utils.LoadMerchantKey(cfg.MerchantPrivateKey, cfg.MerchantKeyFile)
		if err != nil {
			return nil, err
		}
	} else {
		p.logger.Warn("no merchant key configured; transfers will fail with SIGNING_ERROR", map[string]any{
			"network": cfg.Network.String(),
		})
	}

	wallets, err := merchantWallets(cfg, key)
	if err != nil {
		return nil, err
	}

	if p.ledger == nil {
		rpcTimeout := cfg.RPCTimeout
		if p.timeout > 0 {
			rpcTimeout = p.timeout
		}
		ledger, err := clients.NewSolanaLedger(cfg.Network, cfg.RPCUrl, rpcTimeout)
		if err != nil {
			return nil, err
		}
		p.ledger = ledger
	} else if p.ledger.Network() != cfg.Network {
		return nil, types.NewError(types.ErrConfigError, "ledger network %s does not match configured network %s",
			p.ledger.Network(), cfg.Network)
	}

	policy := cfg.Confirmation
	if p.policy != nil {
		policy = *p.policy
	}

	p.submitter = settlement.NewSubmitter(p.ledger, key,
		settlement.WithSubmitterLogger(p.logger),
		settlement.WithSubmitterMetrics(p.metrics),
	)
	p.verifier = verification.NewVerifier(p.ledger,
		verification.WithStrictMatch(cfg.StrictVerification),
		verification.WithLogger(p.logger),
	)
	p.machine = session.NewMachine(
		session.Config{
			Network:         cfg.Network,
			MerchantWallets: wallets,
			Mints:           mints,
			Confirmation:    policy,
		},
		p.store,
		settlement.NewTransferBuilder(p.ledger, mints),
		p.submitter,
		p.verifier,
		session.WithLogger(p.logger),
		session.WithMetrics(p.metrics),
		session.WithClock(p.now),
	)

	p.logger.Info("stablepay provider ready", map[string]any{
		"network":  cfg.Network.String(),
		"merchant": p.submitter.MerchantPublicKey().String(),
		"strict":   cfg.StrictVerification,
	})
	return p, nil
}

// merchantWallets resolves the receiving wallet per token. An unset wallet
// defaults to the signing key; a set one must belong to it.
func merchantWallets(cfg *types.ProviderConfig, key solana.PrivateKey) (map[types.TokenType]string, error) {
	out := make(map[types.TokenType]string, 2)
	for _, token := range []types.TokenType{types.TokenUSDC, types.TokenUSDT} {
		wallet := strings.TrimSpace(cfg.MerchantWallet(token))
		if wallet == "" {
			if key != nil {
				out[token] = key.PublicKey().String()
			}
			continue
		}
		if err := utils.ValidateSolanaAddress(wallet); err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "invalid merchant %s wallet", token)
		}
		if key != nil && wallet != key.PublicKey().String() {
			return nil, types.NewError(types.ErrConfigError,
				"merchant %s wallet %s is not controlled by the configured key %s", token, wallet, key.PublicKey())
		}
		out[token] = wallet
	}
	return out, nil
}

// Identifier returns the provider id
func (p *Provider) Identifier() string {
	return ProviderIdentifier
}

// Network returns the configured cluster
func (p *Provider) Network() types.Network {
	return p.config.Network
}

// PublishableKey returns the key storefront clients must present.
func (p *Provider) PublishableKey() string {
	return p.config.PublishableKey
}

// InitiatePayment creates a pending session for a USD amount.
func (p *Provider) InitiatePayment(ctx context.Context, in session.InitiateInput) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Initiate(ctx, in)
	p.track("initiate", start, err)
	return s, err
}

// AuthorizePayment transfers the session amount and waits for confirmation.
// A payment that fails on chain is not an error: the returned session is in
// status error with the reason attached.
func (p *Provider) AuthorizePayment(ctx context.Context, sessionID, customerWallet, tokenType string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Authorize(ctx, sessionID, customerWallet, tokenType)
	p.track("authorize", start, err)
	return s, err
}

func (p *Provider) CapturePayment(ctx context.Context, sessionID string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Capture(ctx, sessionID)
	p.track("capture", start, err)
	return s, err
}

// CancelPayment marks the session canceled. It never reverses a transfer.
func (p *Provider) CancelPayment(ctx context.Context, sessionID string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Cancel(ctx, sessionID)
	p.track("cancel", start, err)
	return s, err
}

// RefundPayment sends amount back to the customer, or leaves the session in
// requires_manual_refund when that cannot be done automatically.
func (p *Provider) RefundPayment(ctx context.Context, sessionID string, amount int64) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Refund(ctx, sessionID, amount)
	p.track("refund", start, err)
	return s, err
}

// ResolveManualRefund closes a session an operator refunded out of band.
func (p *Provider) ResolveManualRefund(ctx context.Context, sessionID, reference string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.ResolveManualRefund(ctx, sessionID, reference)
	p.track("resolve_manual_refund", start, err)
	return s, err
}

func (p *Provider) RetrievePayment(ctx context.Context, sessionID string) (*types.PaymentSession, error) {
	return p.machine.Retrieve(ctx, sessionID)
}

func (p *Provider) UpdatePayment(ctx context.Context, sessionID string, amount int64, currencyCode string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.UpdateAmount(ctx, sessionID, amount, currencyCode)
	p.track("update", start, err)
	return s, err
}

func (p *Provider) DeletePayment(ctx context.Context, sessionID string) (*types.PaymentSession, error) {
	start := p.now()
	s, err := p.machine.Delete(ctx, sessionID)
	p.track("delete", start, err)
	return s, err
}

// GetPaymentStatus returns the stored status and a live check of the
// session's transaction, if any.
func (p *Provider) GetPaymentStatus(ctx context.Context, sessionID string) (*types.PaymentStatusResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := p.now()
	res, err := p.machine.Status(ctx, sessionID)
	p.track("status", start, err)
	return res, err
}

// GetWebhookActionAndData authenticates a chain notification and maps it to
// the action the host should take. Sessions are not modified.
func (p *Provider) GetWebhookActionAndData(payload types.WebhookPayload) (*types.WebhookActionResult, error) {
	if secret := p.config.WebhookSecret; secret != "" {
		sig := header(payload.Headers, WebhookSignatureHeader)
		if sig == "" {
			return nil, types.NewError(types.ErrWebhookError, "missing %s header", WebhookSignatureHeader)
		}
		if !utils.VerifyWebhookSignature(secret, payload.Data, sig) {
			p.metrics.IncCounter(metrics.EventWebhookRejected, metrics.Labels(p.config.Network.String(), ""))
			return nil, types.NewError(types.ErrWebhookError, "webhook signature mismatch")
		}
	}

	event, err := utils.ParseWebhookEvent(payload.Data)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateTransactionSignature(event.Signature); err != nil {
		return nil, types.WrapError(types.ErrWebhookError, err, "invalid webhook event")
	}

	result := &types.WebhookActionResult{
		Action:           types.ActionNotSupported,
		SessionID:        event.SessionID,
		AmountMinorUnits: event.Amount,
		Reference:        event.Signature,
	}

	if event.Mint != "" && !p.knownMint(event.Mint) {
		result.Reason = "unknown mint " + event.Mint
		return result, nil
	}

	switch event.Type {
	case types.EventTransactionConfirmed:
		result.Action = types.ActionAuthorized
	case types.EventTransactionFinalized:
		result.Action = types.ActionCaptured
	case types.EventTransactionFailed:
		result.Action = types.ActionFailed
		result.Reason = event.Error
	default:
		result.Reason = "unsupported event type " + event.Type
	}

	p.metrics.IncCounter("webhook_"+string(result.Action), metrics.Labels(p.config.Network.String(), ""))
	p.logger.Debug("webhook mapped", map[string]any{
		"type":      event.Type,
		"action":    string(result.Action),
		"session":   event.SessionID,
		"reference": event.Signature,
	})
	return result, nil
}

func (p *Provider) knownMint(mint string) bool {
	for _, m := range p.mints.Mints(p.config.Network) {
		if m == mint {
			return true
		}
	}
	return false
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Close releases the ledger connection
func (p *Provider) Close() {
	p.ledger.Close()
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Provider) track(op string, start time.Time, err error) {
	labels := metrics.Labels(p.config.Network.String(), "")
	p.metrics.ObserveLatency(op, p.now().Sub(start), labels)
	if err != nil {
		p.metrics.IncCounter(op+"_error", labels)
		p.logger.Warn("provider operation failed", map[string]any{
			"operation": op,
			"code":      types.CodeOf(err),
			"error":     err.Error(),
		})
	}
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":    Version,
		"provider":           ProviderIdentifier,
		"supported_networks": []string{string(types.NetworkSolanaMainnet), string(types.NetworkSolanaDevnet)},
		"supported_tokens":   []string{string(types.TokenUSDC), string(types.TokenUSDT)},
		"supported_standards": []string{
			"spl",
		},
	}
}
