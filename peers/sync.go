package peers

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// syncFromPeer fetches the blocks we are missing from one peer and folds
// them into the chain in order. Blocks the chain refuses are skipped, a
// failed fetch only logs. Always called on the registry's own turn.
func (r *Registry) syncFromPeer(ctx context.Context, uri string) {
	local := r.chain.Height()

	blocks, err := r.client.FetchBlocksSince(ctx, uri, local)
	if err != nil {
		log.Warnf("Sync fetch from %s failed: %v", uri, err)
		return
	}
	if len(blocks) == 0 {
		return
	}

	folded := 0
	for _, b := range blocks {
		if err := r.chain.Append(b); err != nil {
			log.Debugf("Skipping block %d from %s: %v", b.Header.Height, uri, err)
			continue
		}
		folded++
	}

	log.Infof("Synced with %s: %d/%d blocks folded, height %d -> %d", uri, folded, len(blocks), local, r.chain.Height())
}

// TriggerSync schedules a sync round against every admitted peer without
// blocking the caller. Concurrent triggers collapse into one round.
func (r *Registry) TriggerSync(ctx context.Context) {
	go func() {
		_, _, _ = r.syncSF.Do("sync", func() (any, error) {
			m := syncMsg{done: make(chan struct{})}
			if err := r.post(ctx, m); err != nil {
				return nil, err
			}
			select {
			case <-m.done:
			case <-ctx.Done():
			}
			return nil, nil
		})
	}()
}

func (r *Registry) handleIsSynced(ctx context.Context) bool {
	local := r.chain.Height()
	best := r.bestPeerHeight(ctx)
	return best <= local
}

// bestPeerHeight asks every admitted peer for its height concurrently and
// returns the maximum. Failures count as height 0.
func (r *Registry) bestPeerHeight(ctx context.Context) uint64 {
	var (
		mu   sync.Mutex
		best uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.peers {
		uri := p.URI
		g.Go(func() error {
			info, err := r.client.GetInfo(gctx, uri)
			if err != nil {
				log.Debugf("Height query to %s failed: %v", uri, err)
				return nil
			}
			mu.Lock()
			if info.Height > best {
				best = info.Height
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return best
}
