package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iapi "github.com/VeltarosLabs/powledger/internal/api"
	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/consensus"
	"github.com/VeltarosLabs/powledger/internal/ledger"
	"github.com/VeltarosLabs/powledger/pkg/api"
	"github.com/VeltarosLabs/powledger/pkg/version"
)

func newNode(t *testing.T, key string) (*api.Client, *ledger.Service) {
	t.Helper()
	h := blockchain.NewHasher("")
	chain := blockchain.New(blockchain.NewValidator(h, 1, nil))
	svc := ledger.New(chain, consensus.NewPoW(h, 1, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	srv := iapi.NewServer(svc, nil, iapi.Options{APIKey: key, MineRate: 100, MineBurst: 100})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	cl, err := api.New(ts.URL+"/", api.WithAPIKey(key), api.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return cl, svc
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := api.New("  ")
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	cl, svc := newNode(t, "k")
	ctx := context.Background()

	h, err := cl.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.OK)

	v, err := cl.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.Version, v.Version)

	mined, err := cl.MineBlock(ctx, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mined.Index)

	latest, err := cl.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, mined, latest)

	byIndex, err := cl.Block(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, mined, byIndex)

	blocks, err := cl.Blocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.True(t, svc.Chain().Validator().IsChainValid(blocks))

	st, err := cl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Height)
	assert.Equal(t, mined.Hash, st.TipHash)

	vr, err := cl.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, vr.Valid)
}

func TestClientSubmitBlock(t *testing.T) {
	cl, svc := newNode(t, "")
	ctx := context.Background()

	v := svc.Chain().Validator()
	c := blockchain.NextCandidate(v.Hasher(), svc.Chain().Tip(), 1700000000000, json.RawMessage(`"ext"`))
	b, err := consensus.NewPoW(v.Hasher(), v.Difficulty(), nil).Seal(ctx, c)
	require.NoError(t, err)

	got, err := cl.SubmitBlock(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = cl.SubmitBlock(ctx, b)
	var se *api.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "index", se.Body.Reason)
	assert.Contains(t, se.Error(), "(index)")
}

func TestClientStatusErrors(t *testing.T) {
	cl, _ := newNode(t, "k")
	ctx := context.Background()

	_, err := cl.Block(ctx, 42)
	var se *api.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)

	anon, err := api.New(cl.BaseURL())
	require.NoError(t, err)
	_, err = anon.MineBlock(ctx, json.RawMessage(`"x"`))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)
}
