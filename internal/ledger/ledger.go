// Package ledger turns caller payloads into accepted blocks. A single
// worker goroutine owns mining so that proof-of-work never runs on the
// caller's goroutine and only one block is being built at a time.
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/consensus"
)

type Service struct {
	chain  *blockchain.Chain
	engine consensus.Engine
	log    *zap.Logger
	now    func() time.Time

	jobs chan job

	subMu   sync.Mutex
	subs    map[uint64]chan blockchain.Block
	nextSub uint64
}

type job struct {
	ctx     context.Context
	payload json.RawMessage
	started chan struct{} // closed when the worker takes the job
	reply   chan result
}

type result struct {
	block blockchain.Block
	err   error
}

type Option func(*Service)

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithQueueSize sets how many mining requests may wait for the worker.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.jobs = make(chan job, n)
		}
	}
}

func New(chain *blockchain.Chain, engine consensus.Engine, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		chain:  chain,
		engine: engine,
		log:    log,
		now:    time.Now,
		jobs:   make(chan job, 16),
		subs:   make(map[uint64]chan blockchain.Block),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Chain() *blockchain.Chain { return s.chain }

// Run is the mining worker. It processes CreateBlock requests one at a
// time until ctx is done. CreateBlock blocks while no worker is running.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("mining worker started", zap.Int("difficulty", s.engine.Difficulty()))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("mining worker stopped")
			return nil
		case j := <-s.jobs:
			close(j.started)
			b, err := s.build(j.ctx, j.payload)
			j.reply <- result{block: b, err: err}
		}
	}
}

// CreateBlock builds a successor of the current tip carrying payload,
// mines it and appends it. It returns the accepted block, the
// *blockchain.RejectionError from the store, or a context error.
//
// Once the worker has taken the job, CreateBlock waits for its outcome even
// after ctx is done: sealing stops soon after cancellation, and a block that
// was committed anyway is reported as accepted.
func (s *Service) CreateBlock(ctx context.Context, payload json.RawMessage) (blockchain.Block, error) {
	j := job{ctx: ctx, payload: payload, started: make(chan struct{}), reply: make(chan result, 1)}

	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return blockchain.Block{}, errors.Wrap(ctx.Err(), "waiting for mining worker")
	}

	select {
	case r := <-j.reply:
		return r.block, r.err
	case <-ctx.Done():
	}

	select {
	case <-j.started:
		// build checks ctx first, so a job taken after this point never commits.
		r := <-j.reply
		return r.block, r.err
	default:
		return blockchain.Block{}, errors.Wrap(ctx.Err(), "waiting for mined block")
	}
}

func (s *Service) build(ctx context.Context, payload json.RawMessage) (blockchain.Block, error) {
	if err := ctx.Err(); err != nil {
		return blockchain.Block{}, errors.Wrap(err, "request abandoned before mining")
	}

	validator := s.chain.Validator()
	tip := s.chain.Tip()
	candidate := blockchain.NextCandidate(validator.Hasher(), tip, s.now().UnixMilli(), payload)

	// Reject malformed payloads before paying for proof-of-work.
	if err := validator.ValidateStructure(candidate); err != nil {
		return blockchain.Block{}, err
	}

	sealed, err := s.engine.Seal(ctx, candidate)
	if err != nil {
		return blockchain.Block{}, err
	}
	return s.commit(sealed, "mined")
}

// Submit accepts an externally built block in JSON form. The raw
// structure is checked before decoding, then the block goes through the
// same Append as mined blocks.
func (s *Service) Submit(raw []byte) (blockchain.Block, error) {
	b, err := blockchain.DecodeBlock(raw)
	if err != nil {
		s.log.Warn("submitted block rejected", zap.Error(err))
		return blockchain.Block{}, err
	}
	return s.commit(b, "submitted")
}

func (s *Service) commit(b blockchain.Block, source string) (blockchain.Block, error) {
	n, err := s.chain.Append(b)
	if err != nil {
		fields := []zap.Field{zap.String("source", source), zap.Error(err)}
		if check, ok := blockchain.CheckOf(err); ok {
			fields = append(fields, zap.String("check", check.String()))
		}
		s.log.Warn("block rejected", fields...)
		return blockchain.Block{}, err
	}

	s.log.Info("block accepted",
		zap.String("source", source),
		zap.Uint64("index", b.Index),
		zap.String("hash", b.Hash),
		zap.Uint64("nonce", b.Nonce),
		zap.Int("length", n),
	)
	s.publish(b)
	return b, nil
}
