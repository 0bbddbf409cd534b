package clients

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const (
	// -----------------------------
	// TRANSACTION STRUCTURE
	// -----------------------------
	ErrInvalidTransactionEncoding = "invalid_transaction_encoding"
	ErrTransactionMissing         = "transaction_body_missing"
	ErrTransactionExecutionFailed = "transaction_execution_failed"

	// -----------------------------
	// TRANSFER CHECKS
	// -----------------------------
	ErrNotATransferCheckedInstruction = "instruction_not_transfer_checked"
	ErrTransferCheckedNotFound        = "transfer_checked_instruction_not_found"
	ErrMintMismatch                   = "transfer_mint_mismatch"
	ErrTransferToIncorrectATA         = "transfer_to_incorrect_ata"
	ErrTransferFromIncorrectATA       = "transfer_from_incorrect_ata"
	ErrAmountMismatch                 = "transfer_amount_mismatch"
	ErrDecimalsMismatch               = "transfer_decimals_mismatch"

	// -----------------------------
	// SETTLEMENT ERRORS
	// -----------------------------
	ErrTransactionSignerMissingSignatures = "transaction_signer_missing_signatures"
	ErrSourceOwnerMismatch                = "transaction_source_owner_mismatch"
)

// RPCErrorDetail renders a JSON-RPC error payload as returned by the node.
// Other errors are rendered with their own message.
func RPCErrorDetail(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Data != nil {
			return fmt.Sprintf("rpc error %d: %s (data: %v)", rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		return fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
