// Package clienttest provides an in-memory clients.Ledger for tests.
package clienttest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/types"
)

// AfterSubmit decides what the ledger reports for a freshly submitted transaction.
type AfterSubmit int

const (
	// Confirm makes the transaction visible with no execution error.
	Confirm AfterSubmit = iota
	// Fail makes the transaction visible with an execution error.
	Fail
	// Pending leaves the transaction invisible.
	Pending
)

// FetchResult is one scripted answer for FetchTransaction
type FetchResult struct {
	Record *types.TransactionRecord
	Found  bool
	Err    error
}

// Ledger is a scriptable fake. The zero value is not usable; use New.
type Ledger struct {
	mu sync.Mutex

	network    types.Network
	checkpoint solana.Hash

	CheckpointErr error
	SubmitErr     error
	After         AfterSubmit

	submitted [][]byte
	attempted [][]byte
	records   map[string]*types.TransactionRecord
	scripts   map[string][]FetchResult
	fetchErr  error
	calls     map[string]int
}

var _ clients.Ledger = (*Ledger)(nil)

// New returns a ledger on network that confirms every submission.
func New(network types.Network) *Ledger {
	return &Ledger{
		network:    network,
		checkpoint: solana.HashFromBytes([]byte("stablepay-test-recent-blockhash!")),
		records:    map[string]*types.TransactionRecord{},
		scripts:    map[string][]FetchResult{},
		calls:      map[string]int{},
	}
}

func (l *Ledger) LatestCheckpoint(ctx context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["LatestCheckpoint"]++
	if l.CheckpointErr != nil {
		return solana.Hash{}, l.CheckpointErr
	}
	return l.checkpoint, nil
}

func (l *Ledger) Submit(ctx context.Context, raw []byte) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["Submit"]++
	l.attempted = append(l.attempted, raw)
	if l.SubmitErr != nil {
		return solana.Signature{}, l.SubmitErr
	}

	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, types.WrapError(types.ErrSubmissionError, err, "cannot decode transaction")
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, types.NewError(types.ErrSubmissionError, "%s", clients.ErrTransactionSignerMissingSignatures)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, types.WrapError(types.ErrSubmissionError, err, "%s", clients.ErrTransactionSignerMissingSignatures)
	}

	sig := tx.Signatures[0]
	l.submitted = append(l.submitted, raw)

	switch l.After {
	case Confirm:
		l.records[sig.String()] = &types.TransactionRecord{Signature: sig.String(), Slot: 1, Raw: raw}
	case Fail:
		l.records[sig.String()] = &types.TransactionRecord{
			Signature:      sig.String(),
			Slot:           1,
			Raw:            raw,
			ExecutionError: map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 1}}},
		}
	}
	return sig, nil
}

func (l *Ledger) FetchTransaction(ctx context.Context, ref string) (*types.TransactionRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["FetchTransaction"]++

	if err := ctx.Err(); err != nil {
		return nil, false, types.WrapError(types.ErrNetworkError, err, "request aborted")
	}
	if script := l.scripts[ref]; len(script) > 0 {
		next := script[0]
		l.scripts[ref] = script[1:]
		return next.Record, next.Found, next.Err
	}
	if l.fetchErr != nil {
		return nil, false, l.fetchErr
	}
	rec, ok := l.records[ref]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (l *Ledger) DeriveAssociatedTokenAddress(owner, mint string) (solana.PublicKey, error) {
	l.mu.Lock()
	l.calls["DeriveAssociatedTokenAddress"]++
	l.mu.Unlock()
	return clients.DeriveAssociatedTokenAddress(owner, mint)
}

func (l *Ledger) Network() types.Network { return l.network }

func (l *Ledger) Close() {}

// Checkpoint returns the blockhash handed to submitters
func (l *Ledger) Checkpoint() solana.Hash {
	return l.checkpoint
}

// SetRecord makes ref visible with rec
func (l *Ledger) SetRecord(ref string, rec *types.TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[ref] = rec
}

// Script queues answers for ref that take precedence over stored records.
func (l *Ledger) Script(ref string, results ...FetchResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[ref] = append(l.scripts[ref], results...)
}

// FailFetches makes every unscripted FetchTransaction return err.
func (l *Ledger) FailFetches(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchErr = err
}

// Submitted returns the raw transactions accepted so far
func (l *Ledger) Submitted() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.submitted))
	copy(out, l.submitted)
	return out
}

// LastAttempt returns the first signature of the most recent transaction
// handed to Submit, accepted or not, or "" when there was none.
func (l *Ledger) LastAttempt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.attempted) == 0 {
		return ""
	}
	tx, err := solana.TransactionFromBytes(l.attempted[len(l.attempted)-1])
	if err != nil || len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0].String()
}

// Calls returns how many times method was invoked
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// TotalCalls counts every ledger interaction
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}
