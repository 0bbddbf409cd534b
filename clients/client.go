package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/stablepay/types"
)

// Ledger is the chain access used by the settlement pipeline. A single
// instance is constructed per process and shared read-only.
type Ledger interface {
	// LatestCheckpoint returns a recent blockhash that bounds a transaction's lifetime.
	LatestCheckpoint(ctx context.Context) (solana.Hash, error)
	// Submit broadcasts a signed wire-format transaction. It is never retried.
	Submit(ctx context.Context, raw []byte) (solana.Signature, error)
	// FetchTransaction reports found=false when the reference is not yet visible.
	FetchTransaction(ctx context.Context, ref string) (record *types.TransactionRecord, found bool, err error)
	DeriveAssociatedTokenAddress(owner, mint string) (solana.PublicKey, error)
	Network() types.Network
	Close()
}
