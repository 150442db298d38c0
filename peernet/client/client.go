// Package client implements the outbound peer calls over CBOR-RPC.
// Connections are dialed per call, peers are cheap to reach and nothing
// here is latency critical.
package client

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"aenode/datamodel/block"
	"aenode/datamodel/tx"
	"aenode/net/cborcodec"
	"aenode/peernet/protocol"
	"aenode/peers"
)

const defaultCallTimeout = 5 * time.Second

var errMalformedInfo = errors.New("malformed info response")

type Client struct {
	nonce   *peers.NonceProvider
	uri     string // our own advertized URI, sent with info requests
	timeout time.Duration
}

func New(nonce *peers.NonceProvider, uri string) *Client {
	return &Client{
		nonce:   nonce,
		uri:     uri,
		timeout: defaultCallTimeout,
	}
}

func (c *Client) call(ctx context.Context, uri, method string, args, reply any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", uri)
	if err != nil {
		return err
	}

	rpcc := rpc.NewClientWithCodec(cborcodec.NewClientCodec(conn))
	defer rpcc.Close()

	call := rpcc.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

func (c *Client) GetInfo(ctx context.Context, uri string) (*protocol.InfoResponse, error) {
	req := &protocol.InfoRequest{Nonce: c.nonce.Nonce(), URI: c.uri}
	res := &protocol.InfoResponse{}
	if err := c.call(ctx, uri, "Server.Info", req, res); err != nil {
		return nil, err
	}
	// A response missing the identity fields cannot be classified any
	// further, treat it like a failed exchange.
	if res.Nonce == 0 || res.Identity == "" {
		return nil, errMalformedInfo
	}
	return res, nil
}

func (c *Client) FetchBlocksSince(ctx context.Context, uri string, height uint64) ([]*block.Block, error) {
	req := &protocol.BlocksSinceRequest{Height: height}
	res := &protocol.BlocksSinceResponse{}
	if err := c.call(ctx, uri, "Server.BlocksSince", req, res); err != nil {
		return nil, err
	}
	return res.Blocks, nil
}

func (c *Client) SendBlock(ctx context.Context, uri string, b *block.Block) error {
	req := &protocol.PushBlockRequest{Block: b}
	return c.call(ctx, uri, "Server.PushBlock", req, &protocol.PushBlockResponse{})
}

func (c *Client) SendTx(ctx context.Context, uri string, t *tx.Tx) error {
	req := &protocol.PushTxRequest{Tx: t}
	return c.call(ctx, uri, "Server.PushTx", req, &protocol.PushTxResponse{})
}

// SendChannelInvite asks the node at uri to record a channel invitation
// from us.
func (c *Client) SendChannelInvite(ctx context.Context, uri, pubkey string, lockAmount, fee uint64) error {
	req := &protocol.ChannelInviteRequest{
		PubKey:     pubkey,
		URI:        c.uri,
		LockAmount: lockAmount,
		Fee:        fee,
	}
	return c.call(ctx, uri, "Server.ChannelInvite", req, &protocol.ChannelInviteResponse{})
}

// SendChannelProposal parks t as the pending transaction of our channel
// on the counterparty at uri.
func (c *Client) SendChannelProposal(ctx context.Context, uri, address string, t *tx.Tx) error {
	req := &protocol.ChannelProposeRequest{Address: address, Tx: t}
	return c.call(ctx, uri, "Server.ChannelProposeTx", req, &protocol.ChannelProposeResponse{})
}

var _ peers.Client = (*Client)(nil)
