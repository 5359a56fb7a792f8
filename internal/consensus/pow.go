package consensus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
)

// ctxPollInterval is how many nonces are tried between context checks.
const ctxPollInterval = 1 << 12

// PoW seals blocks by searching for a hash with Difficulty leading '0'
// hex characters. Expected cost is 16^difficulty hash evaluations.
type PoW struct {
	hasher     blockchain.Hasher
	difficulty int
	log        *zap.Logger
}

func NewPoW(hasher blockchain.Hasher, difficulty int, log *zap.Logger) *PoW {
	if log == nil {
		log = zap.NewNop()
	}
	if difficulty < 0 {
		difficulty = 0
	}
	return &PoW{hasher: hasher, difficulty: difficulty, log: log}
}

func (p *PoW) Difficulty() int { return p.difficulty }

// Seal starts at nonce 0 and increments until the hash meets the
// difficulty. With difficulty 0 the first attempt always succeeds.
func (p *PoW) Seal(ctx context.Context, b blockchain.Block) (blockchain.Block, error) {
	start := time.Now()

	for nonce := uint64(0); ; nonce++ {
		if nonce%ctxPollInterval == 0 && nonce > 0 {
			if err := ctx.Err(); err != nil {
				p.log.Info("mining aborted",
					zap.Uint64("index", b.Index),
					zap.Uint64("attempts", nonce),
					zap.Duration("elapsed", time.Since(start)),
				)
				return blockchain.Block{}, fmt.Errorf("%w after %d attempts: %w", ErrSealAborted, nonce, err)
			}
		}

		hash := p.hasher.Calculate(b.Index, b.PreviousHash, b.Timestamp, b.Data, nonce)
		if blockchain.MeetsDifficulty(hash, p.difficulty) {
			p.log.Debug("block mined",
				zap.Uint64("index", b.Index),
				zap.Uint64("nonce", nonce),
				zap.String("hash", hash),
				zap.Duration("elapsed", time.Since(start)),
			)
			return b.WithSeal(nonce, hash), nil
		}
	}
}

func (p *PoW) VerifySeal(b blockchain.Block) error {
	if expected := p.hasher.Sum(b); expected != b.Hash {
		return fmt.Errorf("%w: expected %s, got %s", blockchain.ErrHashMismatch, expected, b.Hash)
	}
	if !blockchain.MeetsDifficulty(b.Hash, p.difficulty) {
		return fmt.Errorf("%w: need %d leading zeros in %s", blockchain.ErrProofOfWork, p.difficulty, b.Hash)
	}
	return nil
}
