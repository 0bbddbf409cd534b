package types

import "fmt"

const (
	// DefaultMainnetRPC and DefaultDevnetRPC are the public cluster endpoints.
	DefaultMainnetRPC = "https://api.mainnet-beta.solana.com"
	DefaultDevnetRPC  = "https://api.devnet.solana.com"
)

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet
}

func (n Network) String() string {
	return string(n)
}

// DefaultRPCURL returns the public endpoint for the network.
func (n Network) DefaultRPCURL() string {
	if n == NetworkSolanaMainnet {
		return DefaultMainnetRPC
	}
	return DefaultDevnetRPC
}

// ParseNetwork accepts both the canonical names and the short
// "mainnet"/"devnet" forms used by host configuration.
func ParseNetwork(raw string) (Network, error) {
	switch raw {
	case "mainnet", "mainnet-beta", string(NetworkSolanaMainnet):
		return NetworkSolanaMainnet, nil
	case "", "devnet", string(NetworkSolanaDevnet):
		return NetworkSolanaDevnet, nil
	default:
		return "", NewError(ErrUnsupportedNetwork, "unsupported network: %s", raw)
	}
}

var defaultMints = map[Network]map[TokenType]string{
	NetworkSolanaMainnet: {
		TokenUSDC: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		TokenUSDT: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	},
	NetworkSolanaDevnet: {
		TokenUSDC: "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr",
		TokenUSDT: "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr",
	},
}

// MintRegistry maps token types to mint addresses per network.
// It is immutable once constructed.
type MintRegistry struct {
	mints map[Network]map[TokenType]string
}

// NewMintRegistry returns the default registry with the given overrides
// applied to network.
func NewMintRegistry(network Network, overrides map[TokenType]string) (*MintRegistry, error) {
	mints := make(map[Network]map[TokenType]string, len(defaultMints))
	for n, byToken := range defaultMints {
		mints[n] = cloneTokenMap(byToken)
	}

	for token, mint := range overrides {
		if token != TokenUSDC && token != TokenUSDT {
			return nil, NewError(ErrUnsupportedToken, "mint override for unsupported token %q", token)
		}
		if mint == "" {
			return nil, NewError(ErrConfigError, "empty mint override for %s", token)
		}
		if _, ok := mints[network]; !ok {
			return nil, NewError(ErrUnsupportedNetwork, "unsupported network: %s", network)
		}
		mints[network][token] = mint
	}

	return &MintRegistry{mints: mints}, nil
}

// DefaultMintRegistry returns the registry without overrides.
func DefaultMintRegistry() *MintRegistry {
	r, _ := NewMintRegistry(NetworkSolanaDevnet, nil)
	return r
}

// Mint looks up the mint address for a token on a network.
func (r *MintRegistry) Mint(network Network, token TokenType) (string, error) {
	byToken, ok := r.mints[network]
	if !ok {
		return "", NewError(ErrUnsupportedNetwork, "unsupported network: %s", network)
	}
	mint, ok := byToken[token]
	if !ok {
		return "", NewError(ErrUnsupportedToken, "unsupported token type: %s", token)
	}
	return mint, nil
}

// Mints returns a copy of every mint configured for network.
func (r *MintRegistry) Mints(network Network) map[TokenType]string {
	return cloneTokenMap(r.mints[network])
}

func (r *MintRegistry) String() string {
	return fmt.Sprintf("MintRegistry(%d networks)", len(r.mints))
}
