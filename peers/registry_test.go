package peers

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"aenode/chain"
	"aenode/datamodel/block"
	"aenode/datamodel/tx"
	"aenode/peernet/protocol"

	"github.com/stretchr/testify/require"
)

// stubClient scripts handshake and sync responses per URI.
type stubClient struct {
	mu         sync.Mutex
	infos      map[string]*protocol.InfoResponse
	errs       map[string]error
	blocks     map[string][]*block.Block
	infoCalls  map[string]int
	sentBlocks []string
	sentTxs    []string
}

func newStubClient() *stubClient {
	return &stubClient{
		infos:     make(map[string]*protocol.InfoResponse),
		errs:      make(map[string]error),
		blocks:    make(map[string][]*block.Block),
		infoCalls: make(map[string]int),
	}
}

func (c *stubClient) setInfo(uri string, info *protocol.InfoResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[uri] = info
	delete(c.errs, uri)
}

func (c *stubClient) setErr(uri string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[uri] = err
}

func (c *stubClient) infoCallCount(uri string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoCalls[uri]
}

func (c *stubClient) GetInfo(ctx context.Context, uri string) (*protocol.InfoResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls[uri]++
	if err, ok := c.errs[uri]; ok {
		return nil, err
	}
	info, ok := c.infos[uri]
	if !ok {
		return nil, errors.New("unknown uri")
	}
	cp := *info
	return &cp, nil
}

func (c *stubClient) FetchBlocksSince(ctx context.Context, uri string, height uint64) ([]*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[uri]; ok {
		return nil, err
	}
	var out []*block.Block
	for _, b := range c.blocks[uri] {
		if b.Header.Height >= height {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *stubClient) SendBlock(ctx context.Context, uri string, b *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentBlocks = append(c.sentBlocks, uri)
	return nil
}

func (c *stubClient) SendTx(ctx context.Context, uri string, t *tx.Tx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTxs = append(c.sentTxs, uri)
	return nil
}

type fixture struct {
	registry *Registry
	client   *stubClient
	chain    *chain.Store
	nonce    *NonceProvider
	ctx      context.Context
}

func startRegistry(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st, err := chain.New(nil)
	require.NoError(t, err)

	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(42))
	}

	cli := newStubClient()
	nonce := &NonceProvider{}
	r := NewRegistry(nonce, st, cli, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	return &fixture{registry: r, client: cli, chain: st, nonce: nonce, ctx: ctx}
}

// validInfo scripts a handshake answer that passes every gate.
func (f *fixture) validInfo(nonce uint32) *protocol.InfoResponse {
	return &protocol.InfoResponse{
		Nonce:       nonce,
		GenesisHash: f.chain.GenesisBlockHash(),
		TopHash:     f.chain.LatestBlockHash(),
		Height:      f.chain.Height(),
		Identity:    protocol.ServerIdentity,
	}
}

func TestAddPeerIdempotence(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("peer-a", f.validInfo(1))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.ErrorIs(t, f.registry.AddPeer(f.ctx, "peer-a"), ErrAlreadyKnown)

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
}

func TestAddPeerSameNonceDifferentURI(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("peer-a", f.validInfo(1))
	f.client.setInfo("peer-b", f.validInfo(1))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.ErrorIs(t, f.registry.AddPeer(f.ctx, "peer-b"), ErrAlreadyKnown)
}

func TestAddPeerSelfConnection(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("myself", f.validInfo(f.nonce.Nonce()))

	require.NoError(t, f.registry.AddPeer(f.ctx, "myself"))

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Empty(t, snap, "a self-connection must not mutate the registry")
}

func TestAddPeerTransportFailure(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setErr("peer-a", errors.New("connection refused"))

	require.ErrorIs(t, f.registry.AddPeer(f.ctx, "peer-a"), ErrRequest)

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestAddPeerGenesisGate(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})

	info := f.validInfo(1)
	info.GenesisHash = []byte("some other network")
	f.client.setInfo("peer-a", info)

	require.ErrorIs(t, f.registry.AddPeer(f.ctx, "peer-a"), ErrGenesisMismatch)

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestAddPeerRoleGate(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})

	info := f.validInfo(1)
	info.Identity = "webserver"
	f.client.setInfo("peer-a", info)

	require.ErrorIs(t, f.registry.AddPeer(f.ctx, "peer-a"), ErrRoleMismatch)
}

func TestAdmissionDeclinedWhenFull(t *testing.T) {
	// P=0 forces the declined outcome.
	f := startRegistry(t, Config{MaxPeers: 2, AdmitWhenFullP: 0})
	f.client.setInfo("peer-a", f.validInfo(1))
	f.client.setInfo("peer-b", f.validInfo(2))
	f.client.setInfo("peer-c", f.validInfo(3))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-b"))

	// Declined: success without mutation
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-c"))
	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	require.NotContains(t, snap, uint32(3))
}

func TestAdmissionTrimsWhenFull(t *testing.T) {
	// P=1 forces admission once full.
	f := startRegistry(t, Config{MaxPeers: 2, AdmitWhenFullP: 1})
	f.client.setInfo("peer-a", f.validInfo(1))
	f.client.setInfo("peer-b", f.validInfo(2))
	f.client.setInfo("peer-c", f.validInfo(3))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-b"))
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-c"))

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	require.Contains(t, snap, uint32(3))

	_, hasA := snap[uint32(1)]
	_, hasB := snap[uint32(2)]
	require.True(t, hasA != hasB, "exactly one prior peer must survive the trim")
}

func TestRegistryStaysBounded(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 2, AdmitWhenFullP: 1})

	uris := []string{"p1", "p2", "p3", "p4", "p5"}
	for i, uri := range uris {
		f.client.setInfo(uri, f.validInfo(uint32(i+1)))
		require.NoError(t, f.registry.AddPeer(f.ctx, uri))

		snap, err := f.registry.Peers(f.ctx)
		require.NoError(t, err)
		require.LessOrEqual(t, len(snap), 2)
	}
}

func TestZeroMaxPeersAdmitsNobody(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 0, AdmitWhenFullP: 1})
	f.client.setInfo("peer-a", f.validInfo(1))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))

	snap, err := f.registry.Peers(f.ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestRemovePeer(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("peer-a", f.validInfo(1))

	require.ErrorIs(t, f.registry.RemovePeer(f.ctx, "peer-a"), ErrNotFound)

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.NoError(t, f.registry.RemovePeer(f.ctx, "peer-a"))

	uris, err := f.registry.PeerURIs(f.ctx)
	require.NoError(t, err)
	require.Empty(t, uris)
}

func TestScheduleAddPeer(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("peer-a", f.validInfo(7))

	f.registry.ScheduleAddPeer("peer-a", 7)

	require.Eventually(t, func() bool {
		snap, err := f.registry.Peers(f.ctx)
		return err == nil && len(snap) == 1
	}, time.Second, 10*time.Millisecond)

	// A nonce we already hold is skipped without a handshake
	calls := f.client.infoCallCount("peer-a")
	f.registry.ScheduleAddPeer("peer-elsewhere", 7)

	uris, err := f.registry.PeerURIs(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"peer-a"}, uris)
	require.Equal(t, calls, f.client.infoCallCount("peer-a"))
	require.Zero(t, f.client.infoCallCount("peer-elsewhere"))
}

func TestSyncAfterAdmission(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})

	b1 := &block.Block{Header: block.Header{Height: 1}}
	b2 := &block.Block{Header: block.Header{Height: 2}}
	bogus := &block.Block{Header: block.Header{Height: 9}}

	info := f.validInfo(1)
	info.Height = 3
	f.client.setInfo("peer-a", info)
	f.client.blocks["peer-a"] = []*block.Block{b1, b2, bogus}

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))

	// The reply races the sync running on the registry turn
	require.Eventually(t, func() bool {
		return f.chain.Height() == 3
	}, time.Second, 10*time.Millisecond, "valid blocks folded, bogus one skipped")
}

func TestIsChainSynced(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})

	// No peers: trivially synced
	synced, err := f.registry.IsChainSynced(f.ctx)
	require.NoError(t, err)
	require.True(t, synced)

	info := f.validInfo(1)
	f.client.setInfo("peer-a", info)
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))

	// Peer reports a longer chain
	ahead := f.validInfo(1)
	ahead.Height = 10
	f.client.setInfo("peer-a", ahead)

	synced, err = f.registry.IsChainSynced(f.ctx)
	require.NoError(t, err)
	require.False(t, synced)

	// Unreachable peers count as height 0
	f.client.setErr("peer-a", errors.New("connection refused"))
	synced, err = f.registry.IsChainSynced(f.ctx)
	require.NoError(t, err)
	require.True(t, synced)
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	f := startRegistry(t, Config{MaxPeers: 10, AdmitWhenFullP: 0.5})
	f.client.setInfo("peer-a", f.validInfo(1))
	f.client.setInfo("peer-b", f.validInfo(2))

	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-a"))
	require.NoError(t, f.registry.AddPeer(f.ctx, "peer-b"))

	f.registry.BroadcastBlock(f.ctx, &block.Block{Header: block.Header{Height: 1}})
	f.registry.BroadcastTx(f.ctx, &tx.Tx{From: "alice", To: "bob", Amount: 1})

	require.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return len(f.client.sentBlocks) == 2 && len(f.client.sentTxs) == 2
	}, time.Second, 10*time.Millisecond)
}
