package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/stablepay/types"
)

// LoadMerchantKey loads the merchant signing key from a base58 secret or,
// when that is empty, from a solana-keygen JSON file.
func LoadMerchantKey(base58Key, keyFile string) (solana.PrivateKey, error) {
	base58Key = strings.TrimSpace(base58Key)

	switch {
	case base58Key != "":
		key, err := solana.PrivateKeyFromBase58(base58Key)
		if err != nil {
			return nil, types.WrapError(types.ErrSigningError, err, "malformed merchant private key")
		}
		return key, nil

	case keyFile != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(keyFile)
		if err != nil {
			return nil, types.WrapError(types.ErrSigningError, err, "cannot read merchant keypair file %s", keyFile)
		}
		return key, nil

	default:
		return nil, types.NewError(types.ErrSigningError, "merchant private key is not configured")
	}
}

// SignWebhookPayload returns the hex HMAC-SHA256 of body under secret
func SignWebhookPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares signature with the HMAC of body in constant time.
// A "sha256=" prefix on signature is accepted.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignWebhookPayload(secret, body))
	return hmac.Equal(got, want)
}
