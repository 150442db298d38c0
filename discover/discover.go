// Package discover implements multicast peer discovery. Each node
// periodically beacons a CBOR PeerAnnouncement{nonce, uri} to a UDP
// multicast group, receivers schedule an admission attempt for every
// nonce they do not already know.
package discover

import (
	"context"
	"net"

	"aenode/peernet/protocol"
	"aenode/peers"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const maxDatagramSize = 1500

type Discovery struct {
	rc     *net.UDPConn
	wc     *net.UDPConn
	nonce  *peers.NonceProvider
	uri    string
	onPeer func(uri string, nonce uint32)
}

func New(rc, wc *net.UDPConn, nonce *peers.NonceProvider, uri string, onPeer func(uri string, nonce uint32)) *Discovery {
	return &Discovery{
		rc:     rc,
		wc:     wc,
		nonce:  nonce,
		uri:    uri,
		onPeer: onPeer,
	}
}

// Announce beacons our own nonce and URI once. Run via the ticker helper.
func (d *Discovery) Announce(ctx context.Context) error {
	msg := &protocol.PeerAnnouncement{
		Nonce: d.nonce.Nonce(),
		URI:   d.uri,
	}

	raw, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}

	if _, err := d.wc.Write(raw); err != nil {
		// Transient network trouble, the next tick retries.
		log.Errorf("Failed to publish peer announcement: %v", err)
	}

	return nil
}

// Listen receives announcements until ctx is cancelled. Our own beacons
// and malformed datagrams are ignored.
func (d *Discovery) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.rc.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := d.rc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}

		msg := &protocol.PeerAnnouncement{}
		if err := cbor.Unmarshal(buf[:n], msg); err != nil {
			log.Debugf("Malformed announcement from %s: %v", from, err)
			continue
		}

		if msg.Nonce == 0 || msg.URI == "" {
			continue
		}
		if msg.Nonce == d.nonce.Nonce() {
			log.Debugf("Received our own announcement - ignoring")
			continue
		}

		log.Debugf("PeerAnnouncement: nonce %d at %s", msg.Nonce, msg.URI)
		d.onPeer(msg.URI, msg.Nonce)
	}
}
