package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/vitwit/stablepay/types"
)

const (
	solanaAddressLength   = 32
	solanaSignatureLength = 64
)

var hundred = decimal.NewFromInt(100)

// ToTokenUnits converts a USD minor-unit amount into token base units:
// round(amountMinorUnits / 100 * 10^decimals).
func ToTokenUnits(amountMinorUnits int64, decimals int32) (uint64, error) {
	if amountMinorUnits <= 0 {
		return 0, types.NewError(types.ErrInputValidation, "amount must be positive, got %d", amountMinorUnits)
	}
	if decimals < 0 {
		return 0, types.NewError(types.ErrInputValidation, "decimals cannot be negative")
	}

	units := decimal.NewFromInt(amountMinorUnits).
		Div(hundred).
		Shift(decimals).
		Round(0)

	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, types.NewError(types.ErrInputValidation, "amount %d overflows token units", amountMinorUnits)
	}
	return bi.Uint64(), nil
}

// FormatTokenAmount renders token base units as a decimal string
func FormatTokenAmount(units uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals).StringFixed(decimals)
}

// ValidateCurrency accepts only USD, case-insensitively
func ValidateCurrency(code string) error {
	if !strings.EqualFold(strings.TrimSpace(code), "usd") {
		return types.NewError(types.ErrUnsupportedCurrency, "unsupported currency %q: only USD is supported", code)
	}
	return nil
}

// ValidateAmount checks a minor-unit amount is positive
func ValidateAmount(amountMinorUnits int64) error {
	if amountMinorUnits <= 0 {
		return types.NewError(types.ErrInputValidation, "amount must be positive, got %d", amountMinorUnits)
	}
	return nil
}

// ValidateSolanaAddress checks that address is base58 encoding of a 32 byte key
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return types.NewError(types.ErrInvalidAddress, "address cannot be empty")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return types.WrapError(types.ErrInvalidAddress, err, "address %q is not valid base58", address)
	}
	if len(raw) != solanaAddressLength {
		return types.NewError(types.ErrInvalidAddress, "address %q decodes to %d bytes, expected %d", address, len(raw), solanaAddressLength)
	}
	return nil
}

// ValidateTransactionSignature checks a base58 transaction signature
func ValidateTransactionSignature(sig string) error {
	if sig == "" {
		return fmt.Errorf("transaction signature cannot be empty")
	}
	raw, err := base58.Decode(sig)
	if err != nil {
		return fmt.Errorf("transaction signature must be valid base58: %w", err)
	}
	if len(raw) != solanaSignatureLength {
		return fmt.Errorf("transaction signature has invalid length %d", len(raw))
	}
	return nil
}
