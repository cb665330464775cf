package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	defaultCodeLength = 6
	maxCodeLength     = 18
)

// GenerateNumericCode draws uniformly from [0, 10^length) and keeps leading zeros.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 || length > maxCodeLength {
		return "", fmt.Errorf("code length must be within [1,%d], got %d", maxCodeLength, length)
	}

	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}
