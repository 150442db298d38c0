package peers

import (
	"context"

	"aenode/datamodel/block"
	"aenode/datamodel/tx"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// BroadcastBlock pushes b to every admitted peer. The fan-out runs
// detached, a slow or unreachable peer never stalls the caller or the
// registry mailbox.
func (r *Registry) BroadcastBlock(ctx context.Context, b *block.Block) {
	uris, err := r.PeerURIs(ctx)
	if err != nil {
		log.Warnf("BroadcastBlock: %v", err)
		return
	}

	go func() {
		g := errgroup.Group{}
		for _, uri := range uris {
			uri := uri
			g.Go(func() error {
				if err := r.client.SendBlock(ctx, uri, b); err != nil {
					log.Debugf("Block push to %s failed: %v", uri, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// BroadcastTx pushes t to every admitted peer, detached like BroadcastBlock.
func (r *Registry) BroadcastTx(ctx context.Context, t *tx.Tx) {
	uris, err := r.PeerURIs(ctx)
	if err != nil {
		log.Warnf("BroadcastTx: %v", err)
		return
	}

	go func() {
		g := errgroup.Group{}
		for _, uri := range uris {
			uri := uri
			g.Go(func() error {
				if err := r.client.SendTx(ctx, uri, t); err != nil {
					log.Debugf("Tx push to %s failed: %v", uri, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}
