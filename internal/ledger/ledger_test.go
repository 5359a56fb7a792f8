package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/consensus"
)

func newService(t *testing.T, difficulty int, opts ...Option) *Service {
	t.Helper()
	h := blockchain.NewHasher("")
	chain := blockchain.New(blockchain.NewValidator(h, difficulty, nil))
	s := New(chain, consensus.NewPoW(h, difficulty, nil), nil, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestCreateBlockExtendsGenesis(t *testing.T) {
	s := newService(t, 2)
	genesis := s.Chain().Tip()

	b, err := s.CreateBlock(context.Background(), payload(t, "a"))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Chain().Len())
	assert.Equal(t, uint64(1), b.Index)
	assert.Equal(t, genesis.Hash, b.PreviousHash)
	assert.Equal(t, "00", b.Hash[:2])
	assert.Equal(t, b, s.Chain().Tip())
}

func TestCreateBlockUsesClock(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	s := newService(t, 1, WithClock(func() time.Time { return at }))

	b, err := s.CreateBlock(context.Background(), payload(t, map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), b.Timestamp)
	assert.JSONEq(t, `{"n":1}`, string(b.Data))
}

func TestCreateBlockDifficultyZero(t *testing.T) {
	s := newService(t, 0)

	b, err := s.CreateBlock(context.Background(), payload(t, "a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.Nonce)
}

func TestChainBuiltByCreateBlockIsValid(t *testing.T) {
	s := newService(t, 2)
	v := s.Chain().Validator()

	for i := 0; i < 5; i++ {
		_, err := s.CreateBlock(context.Background(), payload(t, i))
		require.NoError(t, err)
	}

	blocks := s.Chain().Blocks()
	require.Len(t, blocks, 6)
	assert.True(t, v.IsChainValid(blocks))
	for i, b := range blocks {
		assert.Equal(t, uint64(i), b.Index)
		if i == 0 {
			continue
		}
		assert.Equal(t, v.Hasher().Sum(b), b.Hash)
		assert.True(t, blockchain.MeetsDifficulty(b.Hash, 2))
	}
}

func TestCreateBlockRejectsMissingPayload(t *testing.T) {
	s := newService(t, 2)

	for _, p := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("{")} {
		_, err := s.CreateBlock(context.Background(), p)
		require.Error(t, err)
		assert.ErrorIs(t, err, blockchain.ErrStructure)
	}
	assert.Equal(t, 1, s.Chain().Len())
}

func TestCreateBlockCancelled(t *testing.T) {
	h := blockchain.NewHasher("")
	chain := blockchain.New(blockchain.NewValidator(h, 64, nil))
	s := New(chain, consensus.NewPoW(h, 64, nil), nil)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = s.Run(runCtx) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.CreateBlock(ctx, json.RawMessage(`"never"`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, chain.Len())
}

// stallingEngine seals with difficulty 0 but only after release is closed,
// regardless of the caller's context.
type stallingEngine struct {
	*consensus.PoW
	sealing chan struct{}
	release chan struct{}
}

func (e *stallingEngine) Seal(_ context.Context, b blockchain.Block) (blockchain.Block, error) {
	close(e.sealing)
	<-e.release
	return e.PoW.Seal(context.Background(), b)
}

func TestCreateBlockReportsBlockCommittedAfterDeadline(t *testing.T) {
	h := blockchain.NewHasher("")
	chain := blockchain.New(blockchain.NewValidator(h, 0, nil))
	eng := &stallingEngine{PoW: consensus.NewPoW(h, 0, nil), sealing: make(chan struct{}), release: make(chan struct{})}
	s := New(chain, eng, nil)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = s.Run(runCtx) }()

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		b   blockchain.Block
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		b, err := s.CreateBlock(ctx, json.RawMessage(`"late"`))
		done <- outcome{b, err}
	}()

	<-eng.sealing
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(eng.release)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, uint64(1), out.b.Index)
	assert.Equal(t, out.b, chain.Tip())
}

func TestCreateBlockWithoutWorkerHonoursContext(t *testing.T) {
	h := blockchain.NewHasher("")
	s := New(blockchain.New(blockchain.NewValidator(h, 1, nil)), consensus.NewPoW(h, 1, nil), nil, WithQueueSize(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateBlock(ctx, json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmit(t *testing.T) {
	s := newService(t, 2)
	h := s.Chain().Validator().Hasher()
	pow := consensus.NewPoW(h, 2, nil)

	candidate := blockchain.NextCandidate(h, s.Chain().Tip(), 1700000000000, json.RawMessage(`"external"`))
	sealed, err := pow.Seal(context.Background(), candidate)
	require.NoError(t, err)
	raw, err := json.Marshal(sealed)
	require.NoError(t, err)

	got, err := s.Submit(raw)
	require.NoError(t, err)
	assert.Equal(t, sealed, got)
	assert.Equal(t, 2, s.Chain().Len())

	// Same block again no longer extends the tip.
	_, err = s.Submit(raw)
	check, ok := blockchain.CheckOf(err)
	require.True(t, ok)
	assert.Equal(t, blockchain.CheckIndex, check)

	_, err = s.Submit([]byte(`{"index":"2"}`))
	assert.ErrorIs(t, err, blockchain.ErrStructure)
	assert.Equal(t, 2, s.Chain().Len())
}

func TestSubscribe(t *testing.T) {
	s := newService(t, 1)
	ch, cancel := s.Subscribe(4)
	assert.Equal(t, 1, s.Subscribers())

	b, err := s.CreateBlock(context.Background(), payload(t, "feed"))
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, b, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no block published")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, s.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscriberLagDropsBlocks(t *testing.T) {
	s := newService(t, 0)
	ch, cancel := s.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := s.CreateBlock(context.Background(), payload(t, i))
		require.NoError(t, err)
	}

	got := <-ch
	assert.Equal(t, uint64(1), got.Index)
	assert.Len(t, ch, 0)
	assert.Equal(t, 4, s.Chain().Len())
}
