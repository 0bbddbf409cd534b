package settlement

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/metrics"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
)

// Settler signs and broadcasts a transfer. Once the transfer is signed its
// SubmitResult is returned even when broadcasting fails: the network may
// still have seen it.
type Settler interface {
	Submit(ctx context.Context, transfer *UnsignedTransfer) (*SubmitResult, error)
}

// SubmitResult describes a signed transfer handed to the ledger
type SubmitResult struct {
	Reference   string
	TokenUnits  uint64
	Checkpoint  solana.Hash
	SubmittedAt time.Time
}

// Submitter signs with the merchant key only and submits through the ledger.
// It never resubmits.
type Submitter struct {
	ledger  clients.Ledger
	key     solana.PrivateKey
	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

var _ Settler = (*Submitter)(nil)

type SubmitterOption func(*Submitter)

func WithSubmitterLogger(l logger.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = l
	}
}

func WithSubmitterMetrics(r metrics.Recorder) SubmitterOption {
	return func(s *Submitter) {
		s.metrics = r
	}
}

// NewSubmitter creates a submitter. A nil or malformed key is reported on Submit.
func NewSubmitter(ledger clients.Ledger, key solana.PrivateKey, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		ledger:  ledger,
		key:     key,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit anchors transfer to the latest checkpoint, signs it and broadcasts it
func (s *Submitter) Submit(ctx context.Context, transfer *UnsignedTransfer) (*SubmitResult, error) {
	if transfer == nil || transfer.Transaction == nil {
		return nil, types.NewError(types.ErrInputValidation, "nothing to submit")
	}
	if len(transfer.Transaction.Signatures) > 0 {
		return nil, types.NewError(types.ErrSubmissionError, "transfer has already been signed; build a new one")
	}

	if err := s.checkKey(transfer.Owner); err != nil {
		s.logger.Error("merchant key cannot sign transfer", map[string]any{
			"owner": transfer.Owner.String(),
			"error": err.Error(),
		})
		return nil, err
	}

	network := s.ledger.Network().String()
	start := s.now()

	checkpoint, err := s.ledger.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	tx := transfer.Transaction
	tx.Message.RecentBlockhash = checkpoint

	merchant := s.key.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(merchant) {
			return &s.key
		}
		return nil
	}); err != nil {
		return nil, types.WrapError(types.ErrSigningError, err, "failed to sign transfer")
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, types.WrapError(types.ErrSigningError, err, "failed to serialize signed transfer")
	}

	attempted := &SubmitResult{
		Reference:   tx.Signatures[0].String(),
		TokenUnits:  transfer.TokenUnits,
		Checkpoint:  checkpoint,
		SubmittedAt: s.now(),
	}

	sig, err := s.ledger.Submit(ctx, raw)
	if err != nil {
		s.metrics.IncCounter(metrics.EventSubmissionFailed, metrics.Labels(network, transfer.Request.Token.String()))
		s.logger.Error("transfer submission failed", map[string]any{
			"network":   network,
			"reference": attempted.Reference,
			"from":      transfer.Request.From,
			"to":        transfer.Request.To,
			"amount":    utils.FormatTokenAmount(transfer.TokenUnits, int32(transfer.Decimals)),
			"error":     err.Error(),
		})
		return attempted, err
	}

	s.metrics.IncCounter(metrics.EventSubmitted, metrics.Labels(network, transfer.Request.Token.String()))
	s.metrics.ObserveLatency(metrics.OpSubmit, s.now().Sub(start), metrics.Labels(network, ""))
	s.logger.Info("transfer submitted", map[string]any{
		"network":   network,
		"reference": sig.String(),
		"amount":    utils.FormatTokenAmount(transfer.TokenUnits, int32(transfer.Decimals)),
		"to":        transfer.Request.To,
	})

	attempted.Reference = sig.String()
	return attempted, nil
}

func (s *Submitter) checkKey(owner solana.PublicKey) error {
	if len(s.key) == 0 {
		return types.NewError(types.ErrSigningError, "merchant private key is not configured")
	}
	if err := s.key.Validate(); err != nil {
		return types.WrapError(types.ErrSigningError, err, "malformed merchant private key")
	}
	if !s.key.PublicKey().Equals(owner) {
		return types.NewError(types.ErrSigningError, "%s: merchant key %s does not own source wallet %s",
			clients.ErrSourceOwnerMismatch, s.key.PublicKey(), owner)
	}
	return nil
}

// MerchantPublicKey returns the signer's public key, or the zero key when unset
func (s *Submitter) MerchantPublicKey() solana.PublicKey {
	if len(s.key) == 0 || s.key.Validate() != nil {
		return solana.PublicKey{}
	}
	return s.key.PublicKey()
}
