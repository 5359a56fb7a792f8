package blockchain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDifficulty = 2

func newTestValidator() *Validator {
	return NewValidator(NewHasher(""), testDifficulty, nil)
}

// mineNext builds and seals the successor of prev the slow, obvious way.
func mineNext(t *testing.T, v *Validator, prev Block, ts int64, data string) Block {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)

	b := NextCandidate(v.Hasher(), prev, ts, payload)
	for nonce := uint64(0); ; nonce++ {
		h := v.Hasher().Calculate(b.Index, b.PreviousHash, b.Timestamp, b.Data, nonce)
		if MeetsDifficulty(h, v.Difficulty()) {
			return b.WithSeal(nonce, h)
		}
	}
}

func buildChain(t *testing.T, v *Validator, n int) []Block {
	t.Helper()
	blocks := []Block{Genesis()}
	for i := 1; i < n; i++ {
		blocks = append(blocks, mineNext(t, v, blocks[i-1], int64(1700000000000+i), string(rune('a'+i-1))))
	}
	return blocks
}
