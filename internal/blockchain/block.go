package blockchain

import (
	"encoding/json"
)

// GenesisPreviousHash is the previousHash sentinel carried by the genesis block.
const GenesisPreviousHash = "0"

// Block is an immutable ledger entry. Values are produced by the block
// factory (build, mine, freeze) or decoded from external input and are
// never modified after being appended to a Chain.
type Block struct {
	Index        uint64          `json:"index"`
	PreviousHash string          `json:"previousHash"`
	Timestamp    int64           `json:"timestamp"` // epoch millis
	Data         json.RawMessage `json:"data"`
	Hash         string          `json:"hash"`
	Nonce        uint64          `json:"nonce"`
}

// Genesis returns the fixed, unmined first block.
func Genesis() Block {
	return Block{
		Index:        0,
		PreviousHash: GenesisPreviousHash,
		Timestamp:    1517945563986,
		Data:         json.RawMessage(`"Genesis Block"`),
		Hash:         "006534932c2b7154836da6afc367695e6337db8a921823784c14378abed4f7d7",
		Nonce:        0,
	}
}

// NextCandidate builds the unmined successor of prev. Hash holds the
// pre-mining digest and is stale as soon as the nonce changes.
func NextCandidate(h Hasher, prev Block, timestamp int64, data json.RawMessage) Block {
	b := Block{
		Index:        prev.Index + 1,
		PreviousHash: prev.Hash,
		Timestamp:    timestamp,
		Data:         cloneRaw(data),
		Nonce:        0,
	}
	b.Hash = h.Sum(b)
	return b
}

// WithSeal returns a copy of b carrying the given nonce and hash.
func (b Block) WithSeal(nonce uint64, hash string) Block {
	out := b.Clone()
	out.Nonce = nonce
	out.Hash = hash
	return out
}

// Clone returns a copy that shares no memory with b.
func (b Block) Clone() Block {
	b.Data = cloneRaw(b.Data)
	return b
}

func (b Block) IsGenesis() bool { return b.Index == 0 }

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
