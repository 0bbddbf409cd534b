package settlement

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
)

// UnsignedTransfer is a single TransferChecked transaction ready for signing.
type UnsignedTransfer struct {
	Transaction *solana.Transaction
	Request     types.TransferRequest

	Mint        solana.PublicKey
	Owner       solana.PublicKey
	Source      solana.PublicKey // owner's token account
	Destination solana.PublicKey // recipient's token account
	TokenUnits  uint64
	Decimals    uint8
}

// TransferBuilder assembles stablecoin transfers for one network
type TransferBuilder struct {
	ledger  clients.Ledger
	mints   *types.MintRegistry
	network types.Network
}

// NewTransferBuilder creates a builder on the ledger's network
func NewTransferBuilder(ledger clients.Ledger, mints *types.MintRegistry) *TransferBuilder {
	if mints == nil {
		mints = types.DefaultMintRegistry()
	}
	return &TransferBuilder{
		ledger:  ledger,
		mints:   mints,
		network: ledger.Network(),
	}
}

// Build resolves the mint and both token accounts and constructs the
// transfer. The blockhash is left zero; the submitter anchors it.
func (b *TransferBuilder) Build(req types.TransferRequest) (*UnsignedTransfer, error) {
	if err := utils.ValidateAmount(req.AmountMinorUnits); err != nil {
		return nil, err
	}

	mintAddr, err := b.mints.Mint(b.network, req.Token)
	if err != nil {
		return nil, err
	}

	owner, err := solana.PublicKeyFromBase58(req.From)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid source wallet %q", req.From)
	}
	recipient, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid destination wallet %q", req.To)
	}
	mint, err := solana.PublicKeyFromBase58(mintAddr)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid %s mint %q", req.Token, mintAddr)
	}

	source, err := b.ledger.DeriveAssociatedTokenAddress(owner.String(), mint.String())
	if err != nil {
		return nil, err
	}
	destination, err := b.ledger.DeriveAssociatedTokenAddress(recipient.String(), mint.String())
	if err != nil {
		return nil, err
	}

	units, err := utils.ToTokenUnits(req.AmountMinorUnits, types.StablecoinDecimals)
	if err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, types.NewError(types.ErrInputValidation, "amount %d converts to zero token units", req.AmountMinorUnits)
	}

	ix, err := token.NewTransferCheckedInstruction(
		units,
		types.StablecoinDecimals,
		source,
		mint,
		destination,
		owner,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "failed to build transfer instruction")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.Hash{},
		solana.TransactionPayer(owner),
	)
	if err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "failed to assemble transaction")
	}

	return &UnsignedTransfer{
		Transaction: tx,
		Request:     req,
		Mint:        mint,
		Owner:       owner,
		Source:      source,
		Destination: destination,
		TokenUnits:  units,
		Decimals:    types.StablecoinDecimals,
	}, nil
}

// Network returns the network transfers are built for
func (b *TransferBuilder) Network() types.Network {
	return b.network
}
