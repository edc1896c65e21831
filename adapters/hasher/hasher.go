// Package hasher provides admin token hashing implementations.
package hasher

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/usagemeter/ports"
)

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash generates a bcrypt hash from plaintext, suitable for the config file.
func (h *Bcrypt) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare checks if plaintext matches hash. An empty hash never matches.
func (h *Bcrypt) Compare(hash, plaintext string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Ensure interface compliance.
var _ ports.Hasher = (*Bcrypt)(nil)

// Fake provides a no-op hasher for testing (NOT FOR PRODUCTION).
type Fake struct{}

// Hash returns the plaintext unchanged.
func (Fake) Hash(plaintext string) (string, error) {
	return plaintext, nil
}

// Compare does simple equality check.
func (Fake) Compare(hash, plaintext string) bool {
	return hash != "" && hash == plaintext
}

// Ensure interface compliance.
var _ ports.Hasher = Fake{}
