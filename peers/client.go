package peers

import (
	"context"

	"aenode/datamodel/block"
	"aenode/datamodel/tx"
	"aenode/peernet/protocol"
)

// Client is the outbound network boundary. Implementations classify any
// malformed or failed exchange as a plain error, the registry maps those
// to ErrRequest.
type Client interface {
	// GetInfo performs the handshake fetch against a peer URI.
	GetInfo(ctx context.Context, uri string) (*protocol.InfoResponse, error)

	// FetchBlocksSince returns the peer's blocks at the given height and
	// above, oldest first.
	FetchBlocksSince(ctx context.Context, uri string, height uint64) ([]*block.Block, error)

	// SendBlock pushes a block to a peer.
	SendBlock(ctx context.Context, uri string, b *block.Block) error

	// SendTx pushes a transaction to a peer.
	SendTx(ctx context.Context, uri string, t *tx.Tx) error
}
