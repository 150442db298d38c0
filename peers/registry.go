package peers

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	"aenode/datamodel/block"
	"aenode/peernet/protocol"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

const mailboxSize = 64

// Peer is the record kept for an admitted remote node. Records are keyed
// by the remote's own nonce, not by URI.
type Peer struct {
	URI             string
	LatestBlockHash []byte
}

type Config struct {
	// MaxPeers bounds the admitted set. Zero means no peer is ever admitted.
	MaxPeers int

	// AdmitWhenFullP is the probability of admitting a validated candidate
	// once the registry is full, trading one random existing peer for it.
	// Keeps membership turning over instead of freezing at capacity.
	AdmitWhenFullP float64

	// Rand drives eviction and full-admission rolls. Defaults to a
	// time-seeded source, tests inject a seeded one.
	Rand *rand.Rand
}

// Registry is the peer admission actor. All state lives on a single
// mailbox-drained goroutine (Run), one request per turn, FIFO. Remote
// calls made during a turn (handshake, health check, sync fetch) hold the
// mailbox for their duration.
type Registry struct {
	nonce   *NonceProvider
	chain   block.Chain
	client  Client
	cfg     Config
	rng     *rand.Rand
	mailbox chan any
	peers   map[uint32]*Peer
	syncSF  singleflight.Group
	metrics *registryMetrics
}

type addPeerMsg struct {
	ctx   context.Context
	uri   string
	reply chan error
}

type scheduleAddMsg struct {
	uri   string
	nonce uint32
}

type removePeerMsg struct {
	uri   string
	reply chan error
}

type peerURIsMsg struct {
	reply chan []string
}

type peersMsg struct {
	reply chan map[uint32]Peer
}

type isSyncedMsg struct {
	ctx   context.Context
	reply chan bool
}

type checkPeersMsg struct {
	ctx   context.Context
	reply chan int
}

type syncMsg struct {
	done chan struct{}
}

func NewRegistry(nonce *NonceProvider, chain block.Chain, client Client, cfg Config) *Registry {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Registry{
		nonce:   nonce,
		chain:   chain,
		client:  client,
		cfg:     cfg,
		rng:     rng,
		mailbox: make(chan any, mailboxSize),
		peers:   make(map[uint32]*Peer),
		metrics: newRegistryMetrics(),
	}
}

// Run drains the mailbox until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	log.Infof("Peer registry running: max peers %d, admit-when-full p=%v", r.cfg.MaxPeers, r.cfg.AdmitWhenFullP)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-r.mailbox:
			r.dispatch(ctx, m)
		}
	}
}

func (r *Registry) dispatch(runCtx context.Context, m any) {
	switch msg := m.(type) {
	case addPeerMsg:
		nonce, err := r.handleAddPeer(msg.ctx, msg.uri)
		msg.reply <- err
		// The caller already has its reply, the sync fetch still runs on
		// this turn and holds the mailbox until done.
		if nonce != 0 {
			r.syncFromPeer(runCtx, r.peers[nonce].URI)
		}
	case scheduleAddMsg:
		if _, ok := r.peers[msg.nonce]; ok {
			return
		}
		nonce, err := r.handleAddPeer(runCtx, msg.uri)
		if err != nil {
			log.Debugf("Scheduled add of %s rejected: %v", msg.uri, err)
			return
		}
		if nonce != 0 {
			r.syncFromPeer(runCtx, r.peers[nonce].URI)
		}
	case removePeerMsg:
		msg.reply <- r.handleRemovePeer(msg.uri)
	case peerURIsMsg:
		msg.reply <- r.snapshotURIs()
	case peersMsg:
		snap := make(map[uint32]Peer, len(r.peers))
		for nonce, p := range r.peers {
			snap[nonce] = *p
		}
		msg.reply <- snap
	case isSyncedMsg:
		msg.reply <- r.handleIsSynced(msg.ctx)
	case checkPeersMsg:
		msg.reply <- r.handleCheckPeers(msg.ctx)
	case syncMsg:
		for _, uri := range r.snapshotURIs() {
			r.syncFromPeer(runCtx, uri)
		}
		close(msg.done)
	default:
		log.Errorf("peers.Registry: unknown message %T", m)
	}
}

// handleAddPeer runs the handshake and the admission policy. It returns
// the admitted nonce (zero when nothing was admitted) and the rejection
// reason. A nil error with a zero nonce is a deliberate no-op: a
// self-connection or a policy-declined admission.
func (r *Registry) handleAddPeer(ctx context.Context, uri string) (uint32, error) {
	for _, p := range r.peers {
		if p.URI == uri {
			r.metrics.handshakes.WithLabelValues("already_known").Inc()
			return 0, ErrAlreadyKnown
		}
	}

	info, err := r.client.GetInfo(ctx, uri)
	if err != nil {
		log.Debugf("Handshake with %s failed: %v", uri, err)
		r.metrics.handshakes.WithLabelValues("request_error").Inc()
		return 0, ErrRequest
	}

	if info.Nonce == r.nonce.Nonce() {
		// Talked to ourselves. Not an error, nothing to admit.
		r.metrics.handshakes.WithLabelValues("self").Inc()
		return 0, nil
	}

	if !bytes.Equal(info.GenesisHash, r.chain.GenesisBlockHash()) {
		r.metrics.handshakes.WithLabelValues("genesis_mismatch").Inc()
		return 0, ErrGenesisMismatch
	}

	if info.Identity != protocol.ServerIdentity {
		r.metrics.handshakes.WithLabelValues("role_mismatch").Inc()
		return 0, ErrRoleMismatch
	}

	if _, ok := r.peers[info.Nonce]; ok {
		r.metrics.handshakes.WithLabelValues("already_known").Inc()
		return 0, ErrAlreadyKnown
	}

	if len(r.peers) >= r.cfg.MaxPeers {
		if r.cfg.MaxPeers == 0 || r.rng.Float64() >= r.cfg.AdmitWhenFullP {
			log.Debugf("Registry full, not admitting %s this time", uri)
			r.metrics.handshakes.WithLabelValues("declined").Inc()
			return 0, nil
		}
		r.evictRandomPeer()
	}

	r.peers[info.Nonce] = &Peer{
		URI:             uri,
		LatestBlockHash: info.TopHash,
	}
	r.metrics.handshakes.WithLabelValues("admitted").Inc()
	r.metrics.admitted.Set(float64(len(r.peers)))

	log.Infof("Admitted peer %s (nonce %d), %d/%d peers", uri, info.Nonce, len(r.peers), r.cfg.MaxPeers)

	return info.Nonce, nil
}

// evictRandomPeer trims one uniformly random peer to make room.
func (r *Registry) evictRandomPeer() {
	nonces := make([]uint32, 0, len(r.peers))
	for nonce := range r.peers {
		nonces = append(nonces, nonce)
	}
	victim := nonces[r.rng.Intn(len(nonces))]

	log.Infof("Evicting peer %s (nonce %d) to make room", r.peers[victim].URI, victim)
	delete(r.peers, victim)
	r.metrics.evictions.Inc()
}

func (r *Registry) handleRemovePeer(uri string) error {
	for nonce, p := range r.peers {
		if p.URI == uri {
			delete(r.peers, nonce)
			r.metrics.admitted.Set(float64(len(r.peers)))
			log.Infof("Removed peer %s (nonce %d)", uri, nonce)
			return nil
		}
	}
	return ErrNotFound
}

func (r *Registry) snapshotURIs() []string {
	uris := make([]string, 0, len(r.peers))
	for _, p := range r.peers {
		uris = append(uris, p.URI)
	}
	return uris
}

func (r *Registry) post(ctx context.Context, m any) error {
	select {
	case r.mailbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddPeer validates uri via a handshake and admits it subject to the
// admission policy. Self-connections and policy declines return nil
// without mutating the registry.
func (r *Registry) AddPeer(ctx context.Context, uri string) error {
	m := addPeerMsg{ctx: ctx, uri: uri, reply: make(chan error, 1)}
	if err := r.post(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-m.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleAddPeer is the fire-and-forget variant used by discovery. Known
// nonces are skipped without a handshake, nobody waits for a result.
func (r *Registry) ScheduleAddPeer(uri string, nonce uint32) {
	select {
	case r.mailbox <- scheduleAddMsg{uri: uri, nonce: nonce}:
	default:
		log.Warnf("Peer mailbox full, dropping scheduled add for %s", uri)
	}
}

func (r *Registry) RemovePeer(ctx context.Context, uri string) error {
	m := removePeerMsg{uri: uri, reply: make(chan error, 1)}
	if err := r.post(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-m.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) PeerURIs(ctx context.Context) ([]string, error) {
	m := peerURIsMsg{reply: make(chan []string, 1)}
	if err := r.post(ctx, m); err != nil {
		return nil, err
	}
	select {
	case uris := <-m.reply:
		return uris, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) Peers(ctx context.Context) (map[uint32]Peer, error) {
	m := peersMsg{reply: make(chan map[uint32]Peer, 1)}
	if err := r.post(ctx, m); err != nil {
		return nil, err
	}
	select {
	case snap := <-m.reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsChainSynced reports whether no admitted peer knows a longer chain
// than ours. Peers that fail to answer count as height 0.
func (r *Registry) IsChainSynced(ctx context.Context) (bool, error) {
	m := isSyncedMsg{ctx: ctx, reply: make(chan bool, 1)}
	if err := r.post(ctx, m); err != nil {
		return false, err
	}
	select {
	case synced := <-m.reply:
		return synced, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
