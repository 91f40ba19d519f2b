package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// =============================================================================
// IDENTIFIER GENERATOR
// =============================================================================

const (
	BalancePrefix = "BAL"
	BalanceDigits = 8

	DefaultMaxAttempts = 16
)

var balanceIDSpace = int64(100_000_000) // 10^BalanceDigits

// BalanceLookup is the single read the generator needs.
type BalanceLookup interface {
	BalanceExists(ctx context.Context, id BalanceID) (bool, error)
}

// Generator allocates balance identifiers of the form BAL + 8 digits.
// It samples uniformly, checks the store and retries on collision, up to
// MaxAttempts.
type Generator struct {
	// Rand returns a uniform integer in [0, n).
	Rand        func(n int64) (int64, error)
	MaxAttempts int
}

func NewGenerator() *Generator {
	return &Generator{Rand: cryptoRand, MaxAttempts: DefaultMaxAttempts}
}

// Generate returns an identifier not yet used in lookup.
func (g *Generator) Generate(ctx context.Context, lookup BalanceLookup) (BalanceID, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	rnd := g.Rand
	if rnd == nil {
		rnd = cryptoRand
	}

	for i := 0; i < attempts; i++ {
		n, err := rnd(balanceIDSpace)
		if err != nil {
			return "", fmt.Errorf("sample balance id: %w", err)
		}
		id := FormatBalanceID(n)

		exists, err := lookup.BalanceExists(ctx, id)
		if err != nil {
			return "", asPersistence("check balance id", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free balance id after %d attempts", ErrGenerationExhausted, attempts)
}

// FormatBalanceID renders n as a balance identifier.
func FormatBalanceID(n int64) BalanceID {
	return BalanceID(fmt.Sprintf("%s%0*d", BalancePrefix, BalanceDigits, n))
}

// IsBalanceID reports whether s has the identifier shape.
func IsBalanceID(s string) bool {
	if len(s) != len(BalancePrefix)+BalanceDigits || !strings.HasPrefix(s, BalancePrefix) {
		return false
	}
	for _, r := range s[len(BalancePrefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DisplayNumber formats an identifier for humans: BAL-00412345.
func DisplayNumber(id BalanceID) string {
	s := string(id)
	if !IsBalanceID(s) {
		return s
	}
	return s[:len(BalancePrefix)] + "-" + s[len(BalancePrefix):]
}

func cryptoRand(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}
