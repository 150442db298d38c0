package server

import (
	"context"
	"net"
	"testing"

	"aenode/chain"
	"aenode/channels"
	"aenode/datamodel/block"
	"aenode/datamodel/tx"
	"aenode/peernet/client"
	"aenode/peers"

	"github.com/stretchr/testify/require"
)

type node struct {
	uri      string
	chain    *chain.Store
	nonce    *peers.NonceProvider
	registry *peers.Registry
	channels *channels.Table
	ctx      context.Context
}

// startNode brings up a full node on a loopback listener: chain store,
// registry actor and the RPC service.
func startNode(t *testing.T) *node {
	t.Helper()

	st, err := chain.New(nil)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	n := &node{
		uri:      l.Addr().String(),
		chain:    st,
		nonce:    &peers.NonceProvider{},
		channels: channels.NewTable(),
	}

	cli := client.New(n.nonce, n.uri)
	n.registry = peers.NewRegistry(n.nonce, st, cli, peers.Config{MaxPeers: 10, AdmitWhenFullP: 0.5})

	srv := New(n.nonce, st, n.registry, n.channels)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	n.ctx = ctx

	go n.registry.Run(ctx)
	go Serve(ctx, l, srv)

	return n
}

func TestInfoOverWire(t *testing.T) {
	n := startNode(t)

	caller := client.New(&peers.NonceProvider{}, "127.0.0.1:1")
	info, err := caller.GetInfo(n.ctx, n.uri)
	require.NoError(t, err)

	require.Equal(t, n.nonce.Nonce(), info.Nonce)
	require.Equal(t, "aehttpserver", info.Identity)
	require.Equal(t, n.chain.GenesisBlockHash(), info.GenesisHash)
	require.Equal(t, n.chain.LatestBlockHash(), info.TopHash)
	require.Equal(t, uint64(1), info.Height)
}

func TestAddPeerSelfConnectionOverWire(t *testing.T) {
	n := startNode(t)

	// The registry's own client shares our nonce, dialing our own URI is
	// detected and ignored.
	require.NoError(t, n.registry.AddPeer(n.ctx, n.uri))

	snap, err := n.registry.Peers(n.ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestPushAndFetchBlocksOverWire(t *testing.T) {
	n := startNode(t)
	caller := client.New(&peers.NonceProvider{}, "127.0.0.1:1")

	b1 := &block.Block{Header: block.Header{Height: 1, PrevHash: n.chain.LatestBlockHash()}}
	require.NoError(t, caller.SendBlock(n.ctx, n.uri, b1))
	require.Equal(t, uint64(2), n.chain.Height())

	// A block far ahead is not an RPC failure, the node schedules a sync
	// instead
	bogus := &block.Block{Header: block.Header{Height: 9}}
	require.NoError(t, caller.SendBlock(n.ctx, n.uri, bogus))
	require.Equal(t, uint64(2), n.chain.Height())

	got, err := caller.FetchBlocksSince(n.ctx, n.uri, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(0), got[0].Header.Height)
	require.Equal(t, uint64(1), got[1].Header.Height)
}

func TestPushTxOverWire(t *testing.T) {
	n := startNode(t)
	caller := client.New(&peers.NonceProvider{}, "127.0.0.1:1")

	require.NoError(t, caller.SendTx(n.ctx, n.uri, &tx.Tx{From: "alice", To: "bob", Amount: 5}))
	require.Error(t, caller.SendTx(n.ctx, n.uri, nil))
}

func TestChannelNegotiationOverWire(t *testing.T) {
	n := startNode(t)
	caller := client.New(&peers.NonceProvider{}, "127.0.0.1:2345")

	require.NoError(t, caller.SendChannelInvite(n.ctx, n.uri, "alice-pub", 100, 2))

	invites := n.channels.Invites()
	require.Len(t, invites, 1)
	require.Equal(t, uint64(100), invites["alice-pub"].LockAmount)
	require.Equal(t, "127.0.0.1:2345", invites["alice-pub"].URI)

	// Proposing against a channel that is not open fails
	proposal := tx.Tx{From: "alice", To: "bob", Amount: 3}
	require.Error(t, caller.SendChannelProposal(n.ctx, n.uri, "alice-addr", &proposal))

	// Open the channel locally, then the proposal lands in the pending slot
	n.channels.OpenChannel("alice-addr", tx.Tx{From: "alice", To: "bob", Amount: 100}, "127.0.0.1:2345")
	require.NoError(t, caller.SendChannelProposal(n.ctx, n.uri, "alice-addr", &proposal))

	pending, err := n.channels.PeekPendingTx("alice-addr")
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, uint64(3), pending.Amount)
}
