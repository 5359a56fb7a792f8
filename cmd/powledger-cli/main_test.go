package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/consensus"
)

func TestPayloadFromFlag(t *testing.T) {
	p, err := payloadFromFlag("hello", false)
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, string(p))

	p, err = payloadFromFlag(`{"a":1}`, true)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(p))

	_, err = payloadFromFlag(`{`, true)
	assert.Error(t, err)
	_, err = payloadFromFlag(`null`, true)
	assert.Error(t, err)
}

func TestVerifyLocal(t *testing.T) {
	h := blockchain.NewHasher("")
	pow := consensus.NewPoW(h, 1, nil)
	genesis := blockchain.Genesis()
	b, err := pow.Seal(context.Background(), blockchain.NextCandidate(h, genesis, genesis.Timestamp+1, json.RawMessage(`"x"`)))
	require.NoError(t, err)

	blocks := []blockchain.Block{genesis, b}
	assert.NoError(t, verifyLocal(blocks, "sha256", 1))
	assert.Error(t, verifyLocal(blocks, "md5", 1))

	forged := b.Clone()
	forged.Data = json.RawMessage(`"y"`)
	assert.Error(t, verifyLocal([]blockchain.Block{genesis, forged}, "sha256", 1))
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "0123456789abcdef…", short("0123456789abcdef0123"))
}
