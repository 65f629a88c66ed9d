package solana

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that s looks like a Solana wallet address:
// base58 alphabet and a 32-byte decoded public key.
func ValidateAddress(s string) error {
	if len(s) < 32 || len(s) > 44 {
		return fmt.Errorf("%w: bad length %d", ErrInvalidAddress, len(s))
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: decoded to %d bytes", ErrInvalidAddress, len(raw))
	}

	return nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports int64) float64 {
	return float64(lamports) / 1e9
}

// SOLToLamports converts SOL to lamports.
func SOLToLamports(sol float64) int64 {
	return int64(sol * 1e9)
}

// ShortAddr returns a shortened address for display.
func ShortAddr(addr string, n int) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) < n*2+3 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}
