package dispatch

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const defaultCodeLength = 6

// generateCode returns a uniformly random numeric code of length digits.
func generateCode(length int) (string, error) {
	if length <= 0 {
		length = defaultCodeLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
