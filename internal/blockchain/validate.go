package blockchain

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
)

// Validator applies the acceptance rules for candidate blocks and chains.
type Validator struct {
	hasher     Hasher
	difficulty int
	log        *zap.Logger
}

func NewValidator(hasher Hasher, difficulty int, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	if difficulty < 0 {
		difficulty = 0
	}
	return &Validator{hasher: hasher, difficulty: difficulty, log: log}
}

func (v *Validator) Hasher() Hasher  { return v.hasher }
func (v *Validator) Difficulty() int { return v.difficulty }

// ValidateStructure checks that every field of b carries a value of the
// expected kind. It does not look at any other block.
func (v *Validator) ValidateStructure(b Block) error {
	if !vcrypto.IsHexDigest(b.Hash) {
		return reject(CheckStructure, b.Index, "hash %q is not a hex digest", b.Hash)
	}
	if b.PreviousHash != GenesisPreviousHash && !vcrypto.IsHexDigest(b.PreviousHash) {
		return reject(CheckStructure, b.Index, "previousHash %q is not a hex digest", b.PreviousHash)
	}
	data := bytes.TrimSpace(b.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return reject(CheckStructure, b.Index, "data is missing")
	}
	if !json.Valid(data) {
		return reject(CheckStructure, b.Index, "data is not valid JSON")
	}
	return nil
}

func (v *Validator) IsValidStructure(b Block) bool {
	if err := v.ValidateStructure(b); err != nil {
		v.logRejection(err)
		return false
	}
	return true
}

// ValidateBlock checks candidate against predecessor and returns the first
// failure as a *RejectionError: structure, index, previousHash, recomputed
// hash, proof of work. Later checks do not run once one fails.
func (v *Validator) ValidateBlock(candidate, predecessor Block) error {
	if err := v.ValidateStructure(candidate); err != nil {
		return err
	}
	if candidate.Index != predecessor.Index+1 {
		return reject(CheckIndex, candidate.Index, "expected index %d, got %d", predecessor.Index+1, candidate.Index)
	}
	if candidate.PreviousHash != predecessor.Hash {
		return reject(CheckPreviousHash, candidate.Index, "expected previousHash %s, got %s", predecessor.Hash, candidate.PreviousHash)
	}
	if expected := v.hasher.Sum(candidate); candidate.Hash != expected {
		return reject(CheckHash, candidate.Index, "expected hash %s, got %s", expected, candidate.Hash)
	}
	if !MeetsDifficulty(candidate.Hash, v.difficulty) {
		return reject(CheckProofOfWork, candidate.Index, "hash %s has fewer than %d leading zeros", candidate.Hash, v.difficulty)
	}
	return nil
}

// IsValidBlock is ValidateBlock reduced to a boolean. Failures are logged.
func (v *Validator) IsValidBlock(candidate, predecessor Block) bool {
	if err := v.ValidateBlock(candidate, predecessor); err != nil {
		v.logRejection(err)
		return false
	}
	return true
}

// ValidateChain checks a whole chain. An empty chain is valid. The genesis
// block only has to be well formed; every later block is checked against
// its predecessor and the first failure is returned.
func (v *Validator) ValidateChain(blocks []Block) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := v.validateGenesis(blocks[0]); err != nil {
		return errors.Wrap(err, "chain position 0")
	}
	for i := 1; i < len(blocks); i++ {
		if err := v.ValidateBlock(blocks[i], blocks[i-1]); err != nil {
			return errors.Wrapf(err, "chain position %d", i)
		}
	}
	return nil
}

func (v *Validator) IsChainValid(blocks []Block) bool {
	if err := v.ValidateChain(blocks); err != nil {
		v.logRejection(err)
		return false
	}
	return true
}

func (v *Validator) validateGenesis(g Block) error {
	if err := v.ValidateStructure(g); err != nil {
		return err
	}
	if !g.IsGenesis() {
		return reject(CheckIndex, g.Index, "genesis must have index 0")
	}
	if g.PreviousHash != GenesisPreviousHash {
		return reject(CheckPreviousHash, g.Index, "genesis previousHash must be %q", GenesisPreviousHash)
	}
	return nil
}

func (v *Validator) logRejection(err error) {
	fields := []zap.Field{zap.Error(err)}
	var rej *RejectionError
	if errors.As(err, &rej) {
		fields = append(fields,
			zap.String("check", rej.Check.String()),
			zap.Uint64("index", rej.Index),
		)
	}
	v.log.Warn("block rejected", fields...)
}

var requiredFields = []string{"index", "previousHash", "timestamp", "data", "hash", "nonce"}

// ValidateRawStructure checks an untrusted JSON block before it is decoded:
// every field must be present with the right JSON type. The index reported
// in the error is 0 when the index itself is unreadable.
func ValidateRawStructure(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return reject(CheckStructure, 0, "block is not a JSON object")
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return reject(CheckStructure, 0, "missing field %q", name)
		}
	}

	index, ok := rawUint(fields["index"])
	if !ok {
		return reject(CheckStructure, 0, "index must be a non-negative integer")
	}
	if _, ok := rawInt(fields["timestamp"]); !ok {
		return reject(CheckStructure, index, "timestamp must be an integer")
	}
	if _, ok := rawUint(fields["nonce"]); !ok {
		return reject(CheckStructure, index, "nonce must be a non-negative integer")
	}
	for _, name := range []string{"previousHash", "hash"} {
		var s string
		if err := json.Unmarshal(fields[name], &s); err != nil {
			return reject(CheckStructure, index, "%s must be a string", name)
		}
	}
	data := bytes.TrimSpace(fields["data"])
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return reject(CheckStructure, index, "data is missing")
	}
	return nil
}

// DecodeBlock validates the raw structure and decodes the block.
func DecodeBlock(raw []byte) (Block, error) {
	if err := ValidateRawStructure(raw); err != nil {
		return Block{}, err
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, reject(CheckStructure, 0, "decode: %v", err)
	}
	return b, nil
}

func rawUint(r json.RawMessage) (uint64, bool) {
	n, err := strconv.ParseUint(string(bytes.TrimSpace(r)), 10, 64)
	return n, err == nil
}

func rawInt(r json.RawMessage) (int64, bool) {
	n, err := strconv.ParseInt(string(bytes.TrimSpace(r)), 10, 64)
	return n, err == nil
}
