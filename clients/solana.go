package clients

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/stablepay/types"
)

// DefaultRPCTimeout bounds a single RPC round trip.
const DefaultRPCTimeout = 15 * time.Second

// SolanaLedger talks to a Solana JSON-RPC endpoint
type SolanaLedger struct {
	network types.Network
	rpcURL  string
	client  *rpc.Client
	timeout time.Duration
}

var _ Ledger = (*SolanaLedger)(nil)

// NewSolanaLedger creates a ledger for network. An empty rpcURL selects the
// network's public endpoint and a non-positive timeout selects DefaultRPCTimeout.
func NewSolanaLedger(network types.Network, rpcURL string, timeout time.Duration) (*SolanaLedger, error) {
	if !network.IsSolana() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "network %s is not a Solana network", network)
	}
	if rpcURL == "" {
		rpcURL = network.DefaultRPCURL()
	}
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}

	return &SolanaLedger{
		network: network,
		rpcURL:  rpcURL,
		client:  rpc.New(rpcURL),
		timeout: timeout,
	}, nil
}

// LatestCheckpoint fetches the latest blockhash at confirmed commitment
func (l *SolanaLedger) LatestCheckpoint(ctx context.Context) (solana.Hash, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.client.GetLatestBlockhash(rpcCtx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, types.WrapError(types.ErrNetworkError, err, "failed to fetch latest blockhash from %s", l.rpcURL)
	}
	if out == nil || out.Value == nil || out.Value.Blockhash.IsZero() {
		return solana.Hash{}, types.NewError(types.ErrNetworkError, "empty blockhash response from %s", l.rpcURL)
	}

	return out.Value.Blockhash, nil
}

// Submit broadcasts raw with preflight enabled
func (l *SolanaLedger) Submit(ctx context.Context, raw []byte) (solana.Signature, error) {
	if len(raw) == 0 {
		return solana.Signature{}, types.NewError(types.ErrSubmissionError, "empty transaction")
	}

	rpcCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	sig, err := l.client.SendRawTransactionWithOpts(rpcCtx, raw, rpc.TransactionOpts{
		Encoding:            solana.EncodingBase64,
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, types.WrapError(types.ErrSubmissionError, err, "transaction rejected: %s", RPCErrorDetail(err))
	}

	return sig, nil
}

// FetchTransaction looks up ref at confirmed commitment
func (l *SolanaLedger) FetchTransaction(ctx context.Context, ref string) (*types.TransactionRecord, bool, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return nil, false, types.WrapError(types.ErrInputValidation, err, "invalid transaction reference %q", ref)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.client.GetTransaction(rpcCtx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: rpc.NewTransactionVersion(0),
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(types.ErrNetworkError, err, "failed to fetch transaction %s", ref)
	}

	record := &types.TransactionRecord{
		Signature: ref,
		Slot:      out.Slot,
	}
	if out.BlockTime != nil {
		t := out.BlockTime.Time()
		record.BlockTime = &t
	}
	if out.Meta != nil {
		record.ExecutionError = out.Meta.Err
	}
	if out.Transaction != nil {
		record.Raw = out.Transaction.GetBinary()
	}

	return record, true, nil
}

// DeriveAssociatedTokenAddress derives the token account owned by owner for mint
func (l *SolanaLedger) DeriveAssociatedTokenAddress(owner, mint string) (solana.PublicKey, error) {
	return DeriveAssociatedTokenAddress(owner, mint)
}

// DeriveAssociatedTokenAddress is the pure derivation shared by every Ledger.
func DeriveAssociatedTokenAddress(owner, mint string) (solana.PublicKey, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return solana.PublicKey{}, types.WrapError(types.ErrInvalidAddress, err, "invalid owner address %q", owner)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return solana.PublicKey{}, types.WrapError(types.ErrInvalidAddress, err, "invalid mint address %q", mint)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return solana.PublicKey{}, types.WrapError(types.ErrInvalidAddress, err, "cannot derive token account for %s", owner)
	}
	return ata, nil
}

func (l *SolanaLedger) Network() types.Network { return l.network }

func (l *SolanaLedger) RPCURL() string { return l.rpcURL }

func (l *SolanaLedger) Close() {
	_ = l.client.Close()
}
