package domain

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Chain identifies the network a token lives on.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainSolana   Chain = "solana"
	ChainPolygon  Chain = "polygon"
	ChainArbitrum Chain = "arbitrum"
	ChainBase     Chain = "base"
)

// Token identifies a fungible asset on a specific chain.
type Token struct {
	Chain   Chain
	Symbol  string
	Address string // mint address on Solana, contract address elsewhere
}

// Key returns the canonical cache/sort key for the token.
// Used wherever deterministic ordering by token identity is required.
func (t Token) Key() string {
	return string(t.Chain) + ":" + t.Address
}

func (t Token) String() string {
	if t.Symbol != "" {
		return fmt.Sprintf("%s (%s)", t.Symbol, t.Key())
	}
	return t.Key()
}

// ValidateAddress checks the token address for the token's chain.
// Solana addresses must be base58, 32 bytes, and a valid curve point;
// EVM-style chains are checked for the 0x-prefixed 20-byte hex shape.
func (t Token) ValidateAddress() error {
	if t.Address == "" {
		return fmt.Errorf("token %s: empty address", t.Symbol)
	}
	if t.Chain == ChainSolana {
		decoded, err := base58.Decode(t.Address)
		if err != nil {
			return fmt.Errorf("token %s: decode solana address: %w", t.Symbol, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("token %s: solana address must be 32 bytes, got %d", t.Symbol, len(decoded))
		}
		if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
			return fmt.Errorf("token %s: solana address not on curve", t.Symbol)
		}
		return nil
	}
	return validateEVMAddress(t)
}

func validateEVMAddress(t Token) error {
	addr := t.Address
	if len(addr) != 42 || addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return fmt.Errorf("token %s: malformed address %q for chain %s", t.Symbol, addr, t.Chain)
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return fmt.Errorf("token %s: non-hex character in address %q", t.Symbol, addr)
		}
	}
	return nil
}
