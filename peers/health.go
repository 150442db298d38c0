package peers

import (
	"bytes"
	"context"

	log "github.com/sirupsen/logrus"
)

// CheckPeers re-validates every admitted peer and returns how many were
// dropped. A peer that fails the info fetch or no longer shares our
// genesis is removed, survivors get their latest block hash refreshed.
// The whole sweep happens on one registry turn, callers never observe a
// half-checked set.
func (r *Registry) CheckPeers(ctx context.Context) (int, error) {
	m := checkPeersMsg{ctx: ctx, reply: make(chan int, 1)}
	if err := r.post(ctx, m); err != nil {
		return 0, err
	}
	select {
	case dropped := <-m.reply:
		return dropped, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Registry) handleCheckPeers(ctx context.Context) int {
	fresh := make(map[uint32]*Peer, len(r.peers))
	dropped := 0

	for nonce, p := range r.peers {
		info, err := r.client.GetInfo(ctx, p.URI)
		if err != nil {
			log.Infof("Dropping peer %s (nonce %d): %v", p.URI, nonce, err)
			dropped++
			continue
		}
		if !bytes.Equal(info.GenesisHash, r.chain.GenesisBlockHash()) {
			log.Infof("Dropping peer %s (nonce %d): genesis header hash not valid", p.URI, nonce)
			dropped++
			continue
		}

		latest := p.LatestBlockHash
		if !bytes.Equal(latest, info.TopHash) {
			latest = info.TopHash
		}
		fresh[nonce] = &Peer{URI: p.URI, LatestBlockHash: latest}
	}

	r.peers = fresh
	r.metrics.healthDrops.Add(float64(dropped))
	r.metrics.admitted.Set(float64(len(r.peers)))

	log.Infof("Health check done: %d peers dropped, %d kept", dropped, len(r.peers))

	return dropped
}
