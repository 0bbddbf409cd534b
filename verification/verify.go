package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/types"
)

// Outcome is the verdict for one transaction reference
type Outcome string

const (
	Verified        Outcome = "verified"
	NotYetConfirmed Outcome = "not_yet_confirmed"
	Failed          Outcome = "failed"
)

// Expectation describes the transfer a reference is supposed to carry.
type Expectation struct {
	Mint        solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
	Decimals    uint8
}

// VerificationResult reports the outcome and, for Failed, why.
type VerificationResult struct {
	Outcome Outcome
	Reason  string
	Record  *types.TransactionRecord
}

// Verifier checks submitted transactions against the ledger. It keeps no
// cache; every call re-fetches.
type Verifier struct {
	ledger clients.Ledger
	strict bool
	logger logger.Logger
}

type Option func(*Verifier)

// WithStrictMatch makes Verify decode the transaction and require a
// TransferChecked matching the Expectation.
func WithStrictMatch(strict bool) Option {
	return func(v *Verifier) {
		v.strict = strict
	}
}

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// NewVerifier creates a verifier over ledger
func NewVerifier(ledger clients.Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		ledger: ledger,
		logger: logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Strict reports whether instruction-level matching is enabled
func (v *Verifier) Strict() bool {
	return v.strict
}

// Verify fetches ref once. A missing record is NotYetConfirmed; a record
// with an execution error is Failed. Lookup failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, ref string, expect *Expectation) (*VerificationResult, error) {
	record, found, err := v.ledger.FetchTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		return &VerificationResult{Outcome: NotYetConfirmed}, nil
	}

	if record.Failed() {
		return &VerificationResult{
			Outcome: Failed,
			Reason:  fmt.Sprintf("%s: %v", clients.ErrTransactionExecutionFailed, record.ExecutionError),
			Record:  record,
		}, nil
	}

	if v.strict && expect != nil {
		if reason := matchTransfer(record.Raw, expect); reason != "" {
			v.logger.Warn("transaction does not match expected transfer", map[string]any{
				"reference": ref,
				"reason":    reason,
			})
			return &VerificationResult{Outcome: Failed, Reason: reason, Record: record}, nil
		}
	}

	return &VerificationResult{Outcome: Verified, Record: record}, nil
}

// matchTransfer returns "" when raw contains a TransferChecked that matches
// expect, or the first mismatch reason otherwise.
func matchTransfer(raw []byte, expect *Expectation) string {
	if len(raw) == 0 {
		return clients.ErrTransactionMissing
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return fmt.Sprintf("%s: %v", clients.ErrInvalidTransactionEncoding, err)
	}

	keys := tx.Message.AccountKeys
	reason := clients.ErrTransferCheckedNotFound

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}

		metas := make([]*solana.AccountMeta, 0, len(inst.Accounts))
		for _, idx := range inst.Accounts {
			if int(idx) >= len(keys) {
				metas = nil
				break
			}
			metas = append(metas, &solana.AccountMeta{PublicKey: keys[idx]})
		}
		if len(metas) < 4 {
			continue
		}

		decoded, err := token.DecodeInstruction(metas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*token.TransferChecked)
		if !ok {
			reason = clients.ErrNotATransferCheckedInstruction
			continue
		}

		if r := compareTransfer(transfer, expect); r != "" {
			reason = r
			continue
		}
		return ""
	}

	return reason
}

func compareTransfer(t *token.TransferChecked, expect *Expectation) string {
	switch {
	case !t.GetMintAccount().PublicKey.Equals(expect.Mint):
		return clients.ErrMintMismatch
	case !t.GetDestinationAccount().PublicKey.Equals(expect.Destination):
		return clients.ErrTransferToIncorrectATA
	case !expect.Source.IsZero() && !t.GetSourceAccount().PublicKey.Equals(expect.Source):
		return clients.ErrTransferFromIncorrectATA
	case t.Amount == nil || *t.Amount != expect.Amount:
		return clients.ErrAmountMismatch
	case t.Decimals == nil || *t.Decimals != expect.Decimals:
		return clients.ErrDecimalsMismatch
	}
	return ""
}

var errNotYetConfirmed = errors.New("transaction not yet confirmed")

func newBackOff(ctx context.Context, policy types.ConfirmationPolicy) backoff.BackOff {
	return backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.InitialInterval),
		backoff.WithMaxInterval(policy.MaxInterval),
		backoff.WithMaxElapsedTime(policy.MaxElapsed),
	), ctx)
}

// WaitForConfirmation polls Verify with bounded exponential backoff until the
// reference is Verified or Failed. Network errors are retried within the same
// ceiling. Running out of time, or ctx ending, yields CONFIRMATION_TIMEOUT.
func WaitForConfirmation(
	ctx context.Context,
	v *Verifier,
	ref string,
	expect *Expectation,
	policy types.ConfirmationPolicy,
) (*VerificationResult, error) {
	policy = policy.WithDefaults()
	start := time.Now()

	b := newBackOff(ctx, policy)

	attempts := 0
	op := func() (*VerificationResult, error) {
		attempts++
		res, err := v.Verify(ctx, ref, expect)
		if err != nil {
			if types.IsCode(err, types.ErrNetworkError) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if res.Outcome == NotYetConfirmed {
			return res, errNotYetConfirmed
		}
		return res, nil
	}

	notify := func(err error, next time.Duration) {
		v.logger.Debug("waiting for confirmation", map[string]any{
			"reference": ref,
			"attempt":   attempts,
			"next":      next.String(),
			"reason":    err.Error(),
		})
	}

	res, err := backoff.RetryNotifyWithData(op, b, notify)
	if err == nil {
		return res, nil
	}

	if errors.Is(err, errNotYetConfirmed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		types.IsCode(err, types.ErrNetworkError) {
		return nil, types.WrapError(types.ErrConfirmationTimeout, err,
			"confirmation timeout: transaction %s not confirmed after %d checks in %s",
			ref, attempts, time.Since(start).Round(time.Millisecond))
	}

	return nil, err
}
