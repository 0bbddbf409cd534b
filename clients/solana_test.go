package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/stablepay/types"
)

type rpcReply struct {
	result any
	err    *jsonrpc.RPCError
	status int
	delay  time.Duration
}

type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) rpcReply
	calls    map[string]int
	params   map[string]json.RawMessage
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	t.Helper()
	node := &fakeNode{
		handlers: map[string]func(json.RawMessage) rpcReply{},
		calls:    map[string]int{},
		params:   map[string]json.RawMessage{},
	}
	srv := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(srv.Close)
	return node, srv
}

func (n *fakeNode) on(method string, h func(params json.RawMessage) rpcReply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) param(method string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return string(n.params[method])
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.params[req.Method] = req.Params
	h := n.handlers[req.Method]
	n.mu.Unlock()

	if h == nil {
		http.Error(w, "no handler", http.StatusInternalServerError)
		return
	}
	reply := h(req.Params)
	if reply.delay > 0 {
		time.Sleep(reply.delay)
	}
	if reply.status != 0 {
		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte("upstream unavailable"))
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if reply.err != nil {
		resp["error"] = reply.err
	} else {
		resp["result"] = reply.result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func randomKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func signedTransfer(t *testing.T) (*solana.Transaction, []byte) {
	t.Helper()
	owner := randomKey(t)
	mint := randomKey(t).PublicKey()
	src, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	require.NoError(t, err)
	dst, _, err := solana.FindAssociatedTokenAddress(randomKey(t).PublicKey(), mint)
	require.NoError(t, err)

	ix := token.NewTransferCheckedInstruction(1_000_000, 6, src, mint, dst, owner.PublicKey(), nil).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.HashFromBytes(make([]byte, 32)), solana.TransactionPayer(owner.PublicKey()))
	require.NoError(t, err)
	tx.Message.RecentBlockhash = solana.HashFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner.PublicKey()) {
			return &owner
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return tx, raw
}

func TestNewSolanaLedger(t *testing.T) {
	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, "", 0)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultDevnetRPC, l.RPCURL())
	assert.Equal(t, DefaultRPCTimeout, l.timeout)
	assert.Equal(t, types.NetworkSolanaDevnet, l.Network())
	l.Close()

	_, err = NewSolanaLedger(types.Network("polygon"), "", 0)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
}

func TestSolanaLedger_LatestCheckpoint(t *testing.T) {
	node, srv := newFakeNode(t)
	want := solana.HashFromBytes([]byte("abcdefghijklmnopqrstuvwxyz012345"))
	node.on("getLatestBlockhash", func(json.RawMessage) rpcReply {
		return rpcReply{result: map[string]any{
			"context": map[string]any{"slot": 10},
			"value":   map[string]any{"blockhash": want.String(), "lastValidBlockHeight": 200},
		}}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	got, err := l.LatestCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, node.count("getLatestBlockhash"))
	assert.Contains(t, node.param("getLatestBlockhash"), "confirmed")
}

func TestSolanaLedger_LatestCheckpointNetworkError(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("getLatestBlockhash", func(json.RawMessage) rpcReply {
		return rpcReply{status: http.StatusBadGateway}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	_, err = l.LatestCheckpoint(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNetworkError))
	assert.Equal(t, 1, node.count("getLatestBlockhash"), "checkpoint fetch must not retry")
}

func TestSolanaLedger_LatestCheckpointTimeout(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("getLatestBlockhash", func(json.RawMessage) rpcReply {
		return rpcReply{delay: 300 * time.Millisecond, result: nil}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = l.LatestCheckpoint(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNetworkError))
}

func TestSolanaLedger_Submit(t *testing.T) {
	node, srv := newFakeNode(t)
	tx, raw := signedTransfer(t)
	node.on("sendTransaction", func(params json.RawMessage) rpcReply {
		var args []json.RawMessage
		var encoded string
		if assert.NoError(t, json.Unmarshal(params, &args)) && assert.NotEmpty(t, args) {
			assert.NoError(t, json.Unmarshal(args[0], &encoded))
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		assert.NoError(t, err)
		assert.Equal(t, raw, decoded)
		return rpcReply{result: tx.Signatures[0].String()}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	sig, err := l.Submit(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.NotContains(t, node.param("sendTransaction"), "skipPreflight\":true")
}

func TestSolanaLedger_SubmitRejected(t *testing.T) {
	node, srv := newFakeNode(t)
	_, raw := signedTransfer(t)
	node.on("sendTransaction", func(json.RawMessage) rpcReply {
		return rpcReply{err: &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.",
		}}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	_, err = l.Submit(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSubmissionError))
	assert.Contains(t, err.Error(), "no record of a prior credit")

	var rpcErr *jsonrpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32002, rpcErr.Code)
	assert.Equal(t, 1, node.count("sendTransaction"), "submission must never be retried")
}

func TestSolanaLedger_SubmitEmpty(t *testing.T) {
	node, srv := newFakeNode(t)
	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	_, err = l.Submit(context.Background(), nil)
	assert.True(t, types.IsCode(err, types.ErrSubmissionError))
	assert.Equal(t, 0, node.count("sendTransaction"))
}

func TestSolanaLedger_FetchTransaction(t *testing.T) {
	node, srv := newFakeNode(t)
	tx, raw := signedTransfer(t)
	sig := tx.Signatures[0]

	node.on("getTransaction", func(json.RawMessage) rpcReply {
		return rpcReply{result: map[string]any{
			"slot":        321,
			"blockTime":   1700000000,
			"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
			"meta":        map[string]any{"err": nil, "fee": 5000},
			"version":     0,
		}}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	record, found, err := l.FetchTransaction(context.Background(), sig.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(321), record.Slot)
	assert.Equal(t, sig.String(), record.Signature)
	require.NotNil(t, record.BlockTime)
	assert.Equal(t, int64(1700000000), record.BlockTime.Unix())
	assert.False(t, record.Failed())
	assert.Equal(t, raw, record.Raw)

	params := node.param("getTransaction")
	assert.Contains(t, params, "base64")
	assert.Contains(t, params, "confirmed")
	assert.Contains(t, params, "maxSupportedTransactionVersion")
}

func TestSolanaLedger_FetchTransactionExecutionError(t *testing.T) {
	node, srv := newFakeNode(t)
	tx, raw := signedTransfer(t)

	node.on("getTransaction", func(json.RawMessage) rpcReply {
		return rpcReply{result: map[string]any{
			"slot":        9,
			"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
			"meta": map[string]any{
				"err": map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 1}}},
			},
		}}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	record, found, err := l.FetchTransaction(context.Background(), tx.Signatures[0].String())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, record.Failed())
	assert.Nil(t, record.BlockTime)
}

func TestSolanaLedger_FetchTransactionAbsent(t *testing.T) {
	node, srv := newFakeNode(t)
	tx, _ := signedTransfer(t)
	node.on("getTransaction", func(json.RawMessage) rpcReply {
		return rpcReply{result: nil}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	record, found, err := l.FetchTransaction(context.Background(), tx.Signatures[0].String())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestSolanaLedger_FetchTransactionNetworkError(t *testing.T) {
	node, srv := newFakeNode(t)
	tx, _ := signedTransfer(t)
	node.on("getTransaction", func(json.RawMessage) rpcReply {
		return rpcReply{status: http.StatusServiceUnavailable}
	})

	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	_, found, err := l.FetchTransaction(context.Background(), tx.Signatures[0].String())
	require.Error(t, err)
	assert.False(t, found)
	assert.True(t, types.IsCode(err, types.ErrNetworkError))
}

func TestSolanaLedger_FetchTransactionBadReference(t *testing.T) {
	node, srv := newFakeNode(t)
	l, err := NewSolanaLedger(types.NetworkSolanaDevnet, srv.URL, time.Second)
	require.NoError(t, err)

	_, _, err = l.FetchTransaction(context.Background(), "not-a-signature")
	assert.True(t, types.IsCode(err, types.ErrInputValidation))
	assert.Equal(t, 0, node.count("getTransaction"))
}

func TestDeriveAssociatedTokenAddress(t *testing.T) {
	owner := randomKey(t).PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	got, err := DeriveAssociatedTokenAddress(owner.String(), mint.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DeriveAssociatedTokenAddress("ABC", mint.String())
	assert.True(t, types.IsCode(err, types.ErrInvalidAddress))

	_, err = DeriveAssociatedTokenAddress(owner.String(), "0OIl")
	assert.True(t, types.IsCode(err, types.ErrInvalidAddress))
}

func TestRPCErrorDetail(t *testing.T) {
	assert.Equal(t, "", RPCErrorDetail(nil))
	assert.Equal(t, "boom", RPCErrorDetail(errors.New("boom")))
	assert.Equal(t, "rpc error -32002: failed", RPCErrorDetail(&jsonrpc.RPCError{Code: -32002, Message: "failed"}))
}
