// Package channels holds the per-remote-address payment channel
// negotiation state: open invites, open channels with their transaction
// history, and the single pending proposal slot per channel.
package channels

import (
	"errors"
	"sync"

	"aenode/datamodel/tx"

	log "github.com/sirupsen/logrus"
)

var ErrNoSuchChannel = errors.New("no such channel")

// Invite is an outstanding channel invitation, keyed by the remote
// public key.
type Invite struct {
	LockAmount uint64
	Fee        uint64
	URI        string
}

// Channel is an open payment channel keyed by the remote address.
// TxHistory is ordered newest first. At most one pending proposal exists
// at a time, a new proposal replaces an unresolved one.
type Channel struct {
	URI       string
	TxHistory []tx.Tx
	Pending   *tx.Tx
}

// Table serializes all channel state behind its own lock, deliberately a
// separate domain from the peer registry so a slow handshake or health
// sweep never stalls channel calls.
type Table struct {
	mu       sync.Mutex
	invites  map[string]Invite
	channels map[string]*Channel
}

func NewTable() *Table {
	return &Table{
		invites:  make(map[string]Invite),
		channels: make(map[string]*Channel),
	}
}

// AddInvite records an invitation for pubkey, replacing any prior one.
func (t *Table) AddInvite(pubkey, uri string, lockAmount, fee uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.invites[pubkey] = Invite{LockAmount: lockAmount, Fee: fee, URI: uri}
	log.Debugf("Channel invite for %s via %s: lock %d, fee %d", pubkey, uri, lockAmount, fee)
}

// RemoveInvite deletes the invite whose URI matches. Removing an unknown
// URI is a no-op, reported as success either way.
func (t *Table) RemoveInvite(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pubkey, inv := range t.invites {
		if inv.URI == uri {
			delete(t.invites, pubkey)
			return
		}
	}
}

func (t *Table) Invites() map[string]Invite {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]Invite, len(t.invites))
	for pubkey, inv := range t.invites {
		snap[pubkey] = inv
	}
	return snap
}

// OpenChannel creates the channel for address with opening as its only
// history entry. Any prior channel at that address is overwritten.
func (t *Table) OpenChannel(address string, opening tx.Tx, uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.channels[address] = &Channel{
		URI:       uri,
		TxHistory: []tx.Tx{opening},
	}
	log.Infof("Channel with %s opened via %s", address, uri)
}

// CloseChannel drops all state for address. Closing an unknown address
// is silently successful.
func (t *Table) CloseChannel(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.channels, address)
	log.Infof("Channel with %s closed", address)
}

// AddChannelTx prepends a settled transaction to the channel history.
func (t *Table) AddChannelTx(address string, settled tx.Tx) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[address]
	if !ok {
		return ErrNoSuchChannel
	}
	ch.TxHistory = append([]tx.Tx{settled}, ch.TxHistory...)
	return nil
}

// ProposePendingTx parks proposal in the channel's pending slot. An
// unresolved prior proposal is overwritten.
// FIXME: overwriting silently loses the earlier proposal when both sides
// propose at once. Needs a reject-if-occupied round with the counterparty.
func (t *Table) ProposePendingTx(address string, proposal tx.Tx) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[address]
	if !ok {
		return ErrNoSuchChannel
	}
	ch.Pending = &proposal
	return nil
}

// PeekPendingTx returns the unresolved proposal, or nil.
func (t *Table) PeekPendingTx(address string) (*tx.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[address]
	if !ok {
		return nil, ErrNoSuchChannel
	}
	if ch.Pending == nil {
		return nil, nil
	}
	pending := *ch.Pending
	return &pending, nil
}

// AcceptPendingTx clears the pending slot.
// FIXME: the accepted transaction is dropped instead of being appended
// to TxHistory, settlement has to re-submit it via AddChannelTx.
func (t *Table) AcceptPendingTx(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[address]
	if !ok {
		return ErrNoSuchChannel
	}
	ch.Pending = nil
	return nil
}

// ListOpenChannels returns a snapshot of all open channels.
func (t *Table) ListOpenChannels() map[string]Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]Channel, len(t.channels))
	for address, ch := range t.channels {
		c := Channel{URI: ch.URI, TxHistory: append([]tx.Tx(nil), ch.TxHistory...)}
		if ch.Pending != nil {
			pending := *ch.Pending
			c.Pending = &pending
		}
		snap[address] = c
	}
	return snap
}
