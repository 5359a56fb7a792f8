package blockchain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
)

// Hasher maps block fields to a lowercase hex digest.
type Hasher struct {
	alg vcrypto.Algorithm
}

func NewHasher(alg vcrypto.Algorithm) Hasher {
	if alg == "" {
		alg = vcrypto.DefaultAlgorithm
	}
	return Hasher{alg: alg}
}

func (h Hasher) Algorithm() vcrypto.Algorithm {
	if h.alg == "" {
		return vcrypto.DefaultAlgorithm
	}
	return h.alg
}

// Calculate hashes the concatenation index ‖ previousHash ‖ timestamp ‖
// compact JSON of data ‖ nonce, integers in decimal.
func (h Hasher) Calculate(index uint64, previousHash string, timestamp int64, data json.RawMessage, nonce uint64) string {
	return h.Algorithm().SumHex(preimage(index, previousHash, timestamp, data, nonce))
}

// Sum recomputes the digest of b's fields. b.Hash is ignored.
func (h Hasher) Sum(b Block) string {
	return h.Calculate(b.Index, b.PreviousHash, b.Timestamp, b.Data, b.Nonce)
}

// CalculateHash hashes block fields with the default algorithm.
func CalculateHash(index uint64, previousHash string, timestamp int64, data json.RawMessage, nonce uint64) string {
	return NewHasher(vcrypto.DefaultAlgorithm).Calculate(index, previousHash, timestamp, data, nonce)
}

// MeetsDifficulty reports whether hash starts with difficulty '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

func preimage(index uint64, previousHash string, timestamp int64, data json.RawMessage, nonce uint64) []byte {
	payload := canonicalData(data)

	buf := make([]byte, 0, 20+len(previousHash)+20+len(payload)+20)
	buf = strconv.AppendUint(buf, index, 10)
	buf = append(buf, previousHash...)
	buf = strconv.AppendInt(buf, timestamp, 10)
	buf = append(buf, payload...)
	buf = strconv.AppendUint(buf, nonce, 10)
	return buf
}

// canonicalData compacts the payload and applies the HTML escaping that
// encoding/json writers use, so raw and re-encoded forms of the same payload
// hash to the same bytes.
func canonicalData(data json.RawMessage) []byte {
	if len(data) == 0 {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return data
	}
	var out bytes.Buffer
	json.HTMLEscape(&out, compact.Bytes())
	return out.Bytes()
}
