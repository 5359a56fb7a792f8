package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm names a 32-byte digest function usable for block hashes.
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	SHA256d   Algorithm = "sha256d"
	SHA3_256  Algorithm = "sha3-256"
	Keccak256 Algorithm = "keccak256"
)

// DefaultAlgorithm is the digest used when none is configured.
const DefaultAlgorithm = SHA256

func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return DefaultAlgorithm, nil
	}
	switch a {
	case SHA256, SHA256d, SHA3_256, Keccak256:
		return a, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", s)
	}
}

func (a Algorithm) String() string { return string(a) }

// Sum returns the digest of data. Unknown algorithms fall back to SHA-256.
func (a Algorithm) Sum(data []byte) [32]byte {
	switch a {
	case SHA256d:
		return DoubleSha256(data)
	case SHA3_256:
		return sha3.Sum256(data)
	case Keccak256:
		var out [32]byte
		h := sha3.NewLegacyKeccak256()
		_, _ = h.Write(data)
		copy(out[:], h.Sum(nil))
		return out
	default:
		return Sha256(data)
	}
}

// SumHex returns the lowercase hex form of Sum.
func (a Algorithm) SumHex(data []byte) string {
	return Hex32(a.Sum(data))
}

func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func DoubleSha256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

func Hex32(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
