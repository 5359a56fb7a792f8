package blockchain

import (
	"sync"
)

// Chain is the append-only block store. Append validates against the
// current tip and commits under a single write lock, so two writers can
// never both extend the same tip.
type Chain struct {
	mu sync.RWMutex

	blocks    []Block
	validator *Validator
}

// New returns a chain holding only the genesis block.
func New(validator *Validator) *Chain {
	return &Chain{
		blocks:    []Block{Genesis()},
		validator: validator,
	}
}

func (c *Chain) Validator() *Validator { return c.validator }

// Tip returns the last accepted block.
func (c *Chain) Tip() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].Clone()
}

// Height is the index of the tip.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].Index
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Blocks returns a copy of the full chain, genesis first.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.Clone()
	}
	return out
}

// Block returns the block at index i.
func (c *Chain) Block(i uint64) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[i].Clone(), true
}

// Append adds candidate if it is a valid successor of the tip and returns
// the new chain length. On rejection the chain is unchanged and the error
// is a *RejectionError naming the failed check.
func (c *Chain) Append(candidate Block) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	if err := c.validator.ValidateBlock(candidate, tip); err != nil {
		return len(c.blocks), err
	}
	c.blocks = append(c.blocks, candidate.Clone())
	return len(c.blocks), nil
}

// Verify re-validates a snapshot of the whole chain.
func (c *Chain) Verify() error {
	return c.validator.ValidateChain(c.Blocks())
}
