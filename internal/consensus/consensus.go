package consensus

import (
	"context"
	"errors"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
)

// Engine seals candidate blocks and checks seals produced elsewhere.
type Engine interface {
	// Seal searches for a nonce that satisfies the engine's rule and returns
	// the sealed copy of b. It blocks until found or ctx is done.
	Seal(ctx context.Context, b blockchain.Block) (blockchain.Block, error)
	VerifySeal(b blockchain.Block) error
	Difficulty() int
}

var ErrSealAborted = errors.New("seal aborted")
