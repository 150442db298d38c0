// Package server is the inbound side of the peer protocol: the CBOR-RPC
// service other nodes handshake and sync against.
package server

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"aenode/chain"
	"aenode/channels"
	"aenode/datamodel/block"
	"aenode/net/cborcodec"
	"aenode/peernet/protocol"
	"aenode/peers"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	nonce    *peers.NonceProvider
	chain    block.Chain
	registry *peers.Registry
	channels *channels.Table
}

func New(nonce *peers.NonceProvider, c block.Chain, registry *peers.Registry, table *channels.Table) *Server {
	return &Server{
		nonce:    nonce,
		chain:    c,
		registry: registry,
		channels: table,
	}
}

// RPC: Info
func (s *Server) Info(req *protocol.InfoRequest, res *protocol.InfoResponse) error {
	log.Debugf("Server.Info from nonce %d", req.Nonce)

	res.Nonce = s.nonce.Nonce()
	res.GenesisHash = s.chain.GenesisBlockHash()
	res.TopHash = s.chain.LatestBlockHash()
	res.Height = s.chain.Height()
	res.Identity = protocol.ServerIdentity

	// Handshakes flow both ways: a caller that identifies itself is a
	// candidate for our own registry.
	if req.URI != "" && req.Nonce != 0 && req.Nonce != s.nonce.Nonce() {
		s.registry.ScheduleAddPeer(req.URI, req.Nonce)
	}

	return nil
}

// RPC: BlocksSince
func (s *Server) BlocksSince(req *protocol.BlocksSinceRequest, res *protocol.BlocksSinceResponse) error {
	log.Debugf("Server.BlocksSince from height %d", req.Height)
	res.Blocks = s.chain.BlocksSince(req.Height)
	return nil
}

// RPC: PushBlock
func (s *Server) PushBlock(req *protocol.PushBlockRequest, res *protocol.PushBlockResponse) error {
	if req.Block == nil {
		return errors.New("nil block")
	}

	log.Debugf("Server.PushBlock height %d", req.Block.Header.Height)

	err := s.chain.Append(req.Block)
	if errors.Is(err, chain.ErrNotSuccessor) {
		// We are behind (or already have it). Catch up from the peer set
		// instead of failing the push.
		s.registry.TriggerSync(context.Background())
		return nil
	}
	return err
}

// RPC: PushTx
func (s *Server) PushTx(req *protocol.PushTxRequest, res *protocol.PushTxResponse) error {
	if req.Tx == nil {
		return errors.New("nil tx")
	}
	// The transaction pool lives outside this subsystem, receipt is only
	// logged here.
	log.Infof("Server.PushTx from %s to %s, amount %d", req.Tx.From, req.Tx.To, req.Tx.Amount)
	return nil
}

// RPC: ChannelInvite
func (s *Server) ChannelInvite(req *protocol.ChannelInviteRequest, res *protocol.ChannelInviteResponse) error {
	if req.PubKey == "" || req.URI == "" {
		return errors.New("incomplete invite")
	}
	s.channels.AddInvite(req.PubKey, req.URI, req.LockAmount, req.Fee)
	return nil
}

// RPC: ChannelProposeTx
func (s *Server) ChannelProposeTx(req *protocol.ChannelProposeRequest, res *protocol.ChannelProposeResponse) error {
	if req.Tx == nil {
		return errors.New("nil tx")
	}
	return s.channels.ProposePendingTx(req.Address, *req.Tx)
}

// Serve accepts peer connections on l until ctx is cancelled, one codec
// goroutine per connection.
func Serve(ctx context.Context, l net.Listener, s *Server) error {
	rpcs := rpc.NewServer()
	if err := rpcs.Register(s); err != nil {
		return err
	}

	// Closing the listener unblocks Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		if err := l.Close(); err != nil {
			log.Warnf("peernet.Serve: error closing listener %s: %v", l.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("peernet.Serve: shutting down listener %s", l.Addr())
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("peernet.Serve: Accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}

		tempDelay = 0
		log.Debugf("peernet.Serve: accepted connection from %s", conn.RemoteAddr())
		go rpcs.ServeCodec(cborcodec.NewServerCodec(conn))
	}
}
