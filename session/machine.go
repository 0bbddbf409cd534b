package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/metrics"
	"github.com/vitwit/stablepay/settlement"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
	"github.com/vitwit/stablepay/verification"
)

const idPrefix = "solana-payment-"

// Failure reasons recorded on sessions.
const (
	ReasonVerificationFailed  = "Transaction verification failed"
	NoteMissingCustomerWallet = "Customer wallet address not found. Please process manual refund."
	NoteAutomaticRefundFailed = "Automatic refund failed. Please process manual refund."
)

// Config is the per-process settlement configuration the machine reads.
type Config struct {
	Network         types.Network
	MerchantWallets map[types.TokenType]string
	Mints           *types.MintRegistry
	Confirmation    types.ConfirmationPolicy
}

// InitiateInput is what the host supplies when a checkout starts.
type InitiateInput struct {
	AmountMinorUnits int64
	CurrencyCode     string
	Metadata         types.SessionMetadata
}

// Machine drives payment sessions through their lifecycle. It does not
// serialize concurrent calls for the same session; hosts call it
// single-flight per session.
type Machine struct {
	cfg      Config
	store    Store
	builder  *settlement.TransferBuilder
	settler  settlement.Settler
	verifier *verification.Verifier

	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
	newID   func() string
}

type Option func(*Machine)

func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Machine) {
		m.metrics = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator replaces the uuid based session id suffix
func WithIDGenerator(gen func() string) Option {
	return func(m *Machine) {
		m.newID = gen
	}
}

// NewMachine wires the settlement pipeline to a store. A nil store means an
// in-memory one.
func NewMachine(
	cfg Config,
	store Store,
	builder *settlement.TransferBuilder,
	settler settlement.Settler,
	verifier *verification.Verifier,
	opts ...Option,
) *Machine {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.Mints == nil {
		cfg.Mints = types.DefaultMintRegistry()
	}
	cfg.Confirmation = cfg.Confirmation.WithDefaults()

	m := &Machine{
		cfg:      cfg,
		store:    store,
		builder:  builder,
		settler:  settler,
		verifier: verifier,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate validates the currency before anything else and creates a pending
// session. No ledger call is made.
func (m *Machine) Initiate(ctx context.Context, in InitiateInput) (*types.PaymentSession, error) {
	if err := utils.ValidateCurrency(in.CurrencyCode); err != nil {
		m.count(metrics.EventInitiateRejected, "")
		return nil, err
	}
	if err := utils.ValidateAmount(in.AmountMinorUnits); err != nil {
		return nil, err
	}

	now := m.now()
	s := &types.PaymentSession{
		ID:               idPrefix + m.newID(),
		Status:           types.StatusPending,
		AmountMinorUnits: in.AmountMinorUnits,
		CurrencyCode:     in.CurrencyCode,
		TokenType:        types.TokenUSDC,
		Network:          m.cfg.Network,
		MerchantWallets:  map[types.TokenType]string{},
		Mints:            m.cfg.Mints.Mints(m.cfg.Network),
		Metadata:         in.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for token, wallet := range m.cfg.MerchantWallets {
		if wallet != "" {
			s.MerchantWallets[token] = wallet
		}
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	m.count(metrics.EventInitiated, "")
	m.logger.Info("payment session initiated", map[string]any{
		"session": s.ID,
		"amount":  s.AmountMinorUnits,
		"network": s.Network.String(),
	})
	return s.Clone(), nil
}

// Authorize moves funds for a pending session and waits for confirmation.
// Input problems leave the session pending and are returned as errors. Once a
// transfer is attempted the outcome is recorded on the session, which is
// returned without an error whether it became authorized or error.
func (m *Machine) Authorize(ctx context.Context, id, customerWallet string, tokenType string) (*types.PaymentSession, error) {
	s, err := m.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != types.StatusPending {
		return nil, types.NewError(types.ErrInvalidState, "cannot authorize session %s in status %s", id, s.Status)
	}
	if s.TransactionReference != "" {
		return nil, types.NewError(types.ErrInvalidState, "session %s already has transfer %s; initiate a new session to retry", id, s.TransactionReference)
	}

	if customerWallet == "" {
		return nil, types.NewError(types.ErrMissingWallet, "customer wallet address is missing")
	}
	token, err := types.NormalizeToken(tokenType)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateSolanaAddress(customerWallet); err != nil {
		return nil, err
	}
	merchant := s.MerchantWallets[token]
	if merchant == "" {
		return nil, types.NewError(types.ErrConfigError, "no merchant wallet configured for %s", token)
	}

	start := m.now()
	req := types.TransferRequest{
		From:             merchant,
		To:               customerWallet,
		Token:            token,
		AmountMinorUnits: s.AmountMinorUnits,
	}
	submitted, res, pipeErr := m.execute(ctx, req)
	m.metrics.ObserveLatency(metrics.OpAuthorize, m.now().Sub(start), metrics.Labels(m.cfg.Network.String(), ""))

	// The chain may have moved funds even if ctx is gone; record regardless.
	out, err := m.update(context.WithoutCancel(ctx), id, func(s *types.PaymentSession) error {
		if s.Status != types.StatusPending {
			return types.NewError(types.ErrInvalidState, "session %s changed to %s during authorization", id, s.Status)
		}
		s.CustomerWallet = customerWallet
		s.TokenType = token
		if submitted != nil {
			s.TransactionReference = submitted.Reference
			s.TokenUnits = submitted.TokenUnits
		}

		switch {
		case pipeErr != nil:
			s.Status = types.StatusError
			s.Verified = false
			s.Error = pipeErr.Error()
		case res.Outcome == verification.Verified:
			s.Status = types.StatusAuthorized
			s.Verified = true
			s.Error = ""
		default:
			s.Status = types.StatusError
			s.Verified = false
			s.Error = ReasonVerificationFailed
		}
		return nil
	})
	log := logger.With(m.logger, map[string]any{"session": id, "token": token.String()})
	if err != nil {
		log.Error("failed to record authorization outcome", map[string]any{
			"reference": referenceOf(submitted),
			"error":     err.Error(),
		})
		return nil, err
	}

	fields := map[string]any{"reference": out.TransactionReference}
	switch {
	case out.Status == types.StatusAuthorized:
		m.count(metrics.EventAuthorized, token)
		log.Info("payment authorized", fields)
	case pipeErr != nil:
		m.count(metrics.EventAuthorizeFailed, token)
		fields["code"] = types.CodeOf(pipeErr)
		fields["error"] = out.Error
		log.Error("payment authorization failed", fields)
	default:
		m.count(metrics.EventAuthorizeFailed, token)
		fields["code"] = types.ErrVerificationFailed
		fields["reason"] = res.Reason
		log.Error("payment transaction failed verification", fields)
	}
	return out, nil
}

func referenceOf(r *settlement.SubmitResult) string {
	if r == nil {
		return ""
	}
	return r.Reference
}

// Capture is a pure transition: settlement is final at authorization.
func (m *Machine) Capture(ctx context.Context, id string) (*types.PaymentSession, error) {
	out, err := m.update(ctx, id, func(s *types.PaymentSession) error {
		if s.Status != types.StatusAuthorized {
			return types.NewError(types.ErrInvalidState, "cannot capture session %s in status %s", id, s.Status)
		}
		s.Status = types.StatusCaptured
		s.Error = ""
		return nil
	})
	if err == nil {
		m.count(metrics.EventCaptured, out.TokenType)
	}
	return out, err
}

// Cancel only changes local state. A transfer already broadcast stays on chain
// and its reference is kept.
func (m *Machine) Cancel(ctx context.Context, id string) (*types.PaymentSession, error) {
	out, err := m.update(ctx, id, func(s *types.PaymentSession) error {
		if s.Status.IsTerminal() {
			return types.NewError(types.ErrInvalidState, "session %s is already %s", id, s.Status)
		}
		if !s.Status.CanTransitionTo(types.StatusCanceled) {
			return types.NewError(types.ErrInvalidState, "cannot cancel session %s in status %s", id, s.Status)
		}
		s.Status = types.StatusCanceled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.TransactionReference != "" {
		m.logger.Warn("session canceled after broadcast; the on-chain transfer is not reversed", map[string]any{
			"session":   id,
			"reference": out.TransactionReference,
			"amount":    out.AmountMinorUnits,
		})
	}
	m.count(metrics.EventCanceled, out.TokenType)
	return out, nil
}

// Refund sends amount back to the customer. Every pipeline failure degrades to
// requires_manual_refund with the reason attached; only invalid input or
// state is returned as an error.
func (m *Machine) Refund(ctx context.Context, id string, amount int64) (*types.PaymentSession, error) {
	if err := utils.ValidateAmount(amount); err != nil {
		return nil, err
	}
	s, err := m.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if amount > s.AmountMinorUnits {
		return nil, types.NewError(types.ErrInputValidation, "refund amount %d exceeds payment amount %d", amount, s.AmountMinorUnits)
	}
	if s.Status != types.StatusAuthorized && s.Status != types.StatusCaptured {
		return nil, types.NewError(types.ErrInvalidState, "cannot refund session %s in status %s", id, s.Status)
	}

	if s.CustomerWallet == "" {
		return m.manualRefund(ctx, id, &types.RefundRecord{
			AmountMinorUnits: amount,
			Note:             NoteMissingCustomerWallet,
		})
	}

	merchant := s.MerchantWallets[s.TokenType]
	if merchant == "" {
		return m.manualRefund(ctx, id, &types.RefundRecord{
			AmountMinorUnits: amount,
			Note:             NoteAutomaticRefundFailed,
			Error:            types.NewError(types.ErrConfigError, "no merchant wallet configured for %s", s.TokenType).Error(),
		})
	}

	start := m.now()
	submitted, res, pipeErr := m.execute(ctx, types.TransferRequest{
		From:             merchant,
		To:               s.CustomerWallet,
		Token:            s.TokenType,
		AmountMinorUnits: amount,
	})
	m.metrics.ObserveLatency(metrics.OpRefund, m.now().Sub(start), metrics.Labels(m.cfg.Network.String(), ""))

	refund := &types.RefundRecord{AmountMinorUnits: amount}
	if submitted != nil {
		refund.Reference = submitted.Reference
		refund.TokenUnits = submitted.TokenUnits
	}

	recordCtx := context.WithoutCancel(ctx)
	switch {
	case pipeErr != nil:
		refund.Note = NoteAutomaticRefundFailed
		refund.Error = pipeErr.Error()
		return m.manualRefund(recordCtx, id, refund)
	case res.Outcome != verification.Verified:
		refund.Note = NoteAutomaticRefundFailed
		refund.Error = ReasonVerificationFailed
		if res.Reason != "" {
			refund.Error += ": " + res.Reason
		}
		return m.manualRefund(recordCtx, id, refund)
	}

	out, err := m.update(recordCtx, id, func(s *types.PaymentSession) error {
		if s.Status != types.StatusAuthorized && s.Status != types.StatusCaptured {
			return types.NewError(types.ErrInvalidState, "session %s changed to %s during refund", id, s.Status)
		}
		refund.Status = types.StatusRefunded
		refund.At = m.now()
		s.Refund = refund
		s.Status = types.StatusRefunded
		s.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.count(metrics.EventRefunded, out.TokenType)
	m.logger.Info("payment refunded", map[string]any{
		"session":   id,
		"reference": refund.Reference,
		"amount":    amount,
	})
	return out, nil
}

func (m *Machine) manualRefund(ctx context.Context, id string, refund *types.RefundRecord) (*types.PaymentSession, error) {
	out, err := m.update(ctx, id, func(s *types.PaymentSession) error {
		if !s.Status.CanTransitionTo(types.StatusRequiresManualRefund) {
			return types.NewError(types.ErrInvalidState, "cannot refund session %s in status %s", id, s.Status)
		}
		refund.Status = types.StatusRequiresManualRefund
		refund.At = m.now()
		s.Refund = refund
		s.Status = types.StatusRequiresManualRefund
		s.Error = refund.Note
		if refund.Error != "" {
			s.Error = refund.Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.count(metrics.EventRefundManual, out.TokenType)
	m.logger.Warn("refund requires manual processing", map[string]any{
		"session":   id,
		"amount":    refund.AmountMinorUnits,
		"reference": refund.Reference,
		"note":      refund.Note,
		"error":     refund.Error,
	})
	return out, nil
}

// ResolveManualRefund records an operator-processed refund and closes the session.
func (m *Machine) ResolveManualRefund(ctx context.Context, id, reference string) (*types.PaymentSession, error) {
	if reference == "" {
		return nil, types.NewError(types.ErrInputValidation, "refund reference is required")
	}
	out, err := m.update(ctx, id, func(s *types.PaymentSession) error {
		if s.Status != types.StatusRequiresManualRefund {
			return types.NewError(types.ErrInvalidState, "session %s does not await a manual refund (status %s)", id, s.Status)
		}
		if s.Refund == nil {
			s.Refund = &types.RefundRecord{AmountMinorUnits: s.AmountMinorUnits}
		}
		s.Refund.Reference = reference
		s.Refund.Status = types.StatusRefunded
		s.Refund.At = m.now()
		s.Status = types.StatusRefunded
		s.Error = ""
		return nil
	})
	if err == nil {
		m.count(metrics.EventRefundResolved, out.TokenType)
	}
	return out, err
}

// Retrieve returns a snapshot. Deleted sessions are still readable.
func (m *Machine) Retrieve(ctx context.Context, id string) (*types.PaymentSession, error) {
	return m.store.Get(ctx, id)
}

// UpdateAmount changes amount and currency of a pending session. The
// currency is stored as given.
func (m *Machine) UpdateAmount(ctx context.Context, id string, amount int64, currencyCode string) (*types.PaymentSession, error) {
	if err := utils.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return m.update(ctx, id, func(s *types.PaymentSession) error {
		if s.Status != types.StatusPending {
			return types.NewError(types.ErrInvalidState, "cannot update session %s in status %s", id, s.Status)
		}
		s.AmountMinorUnits = amount
		if currencyCode != "" {
			s.CurrencyCode = currencyCode
		}
		return nil
	})
}

// Delete marks the session deleted. Nothing is erased.
func (m *Machine) Delete(ctx context.Context, id string) (*types.PaymentSession, error) {
	out, err := m.update(ctx, id, func(s *types.PaymentSession) error {
		at := m.now()
		s.Deleted = true
		s.DeletedAt = &at
		return nil
	})
	if err == nil {
		m.logger.Info("payment session deleted", map[string]any{"session": id, "status": out.Status.String()})
	}
	return out, err
}

// Status reports the stored status and, when the session carries a
// reference, a single fresh verification of it. The session is not changed.
func (m *Machine) Status(ctx context.Context, id string) (*types.PaymentStatusResult, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &types.PaymentStatusResult{Status: s.Status}
	if s.TransactionReference == "" || m.verifier == nil {
		return out, nil
	}

	res, err := m.verifier.Verify(ctx, s.TransactionReference, nil)
	if err != nil {
		out.Confirmation = "unknown"
		out.Reason = err.Error()
		return out, nil
	}
	out.Confirmation = string(res.Outcome)
	out.Reason = res.Reason
	return out, nil
}

// execute builds, submits and confirms one transfer. A non-nil SubmitResult
// means the transfer reached the network, even when an error is returned.
func (m *Machine) execute(ctx context.Context, req types.TransferRequest) (*settlement.SubmitResult, *verification.VerificationResult, error) {
	transfer, err := m.builder.Build(req)
	if err != nil {
		return nil, nil, err
	}

	submitted, err := m.settler.Submit(ctx, transfer)
	if err != nil {
		return submitted, nil, err
	}

	expect := &verification.Expectation{
		Mint:        transfer.Mint,
		Source:      transfer.Source,
		Destination: transfer.Destination,
		Amount:      transfer.TokenUnits,
		Decimals:    transfer.Decimals,
	}
	res, err := verification.WaitForConfirmation(ctx, m.verifier, submitted.Reference, expect, m.cfg.Confirmation)
	if err != nil {
		return submitted, nil, err
	}
	return submitted, res, nil
}

func (m *Machine) mutable(ctx context.Context, id string) (*types.PaymentSession, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Deleted {
		return nil, types.NewError(types.ErrSessionDeleted, "session %s has been deleted", id)
	}
	return s, nil
}

func (m *Machine) update(ctx context.Context, id string, fn func(*types.PaymentSession) error) (*types.PaymentSession, error) {
	return m.store.Update(ctx, id, func(s *types.PaymentSession) error {
		if s.Deleted {
			return types.NewError(types.ErrSessionDeleted, "session %s has been deleted", id)
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = m.now()
		return nil
	})
}

func (m *Machine) count(event string, token types.TokenType) {
	m.metrics.IncCounter(event, metrics.Labels(m.cfg.Network.String(), token.String()))
}
