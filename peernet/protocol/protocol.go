package protocol

import (
	"aenode/datamodel/block"
	"aenode/datamodel/tx"
)

// ServerIdentity is the role string a remote must report during the
// handshake. Anything else is rejected as a foreign service.
const ServerIdentity = "aehttpserver"

type InfoRequest struct {
	Nonce uint32 `cbor:"1,keyasint,omitempty"` // Caller node identity nonce
	URI   string `cbor:"2,keyasint,omitempty"` // Caller advertized URI, lets the callee learn us back
}

// InfoResponse is the handshake payload: everything the admission policy
// needs to accept or reject a peer.
type InfoResponse struct {
	Nonce       uint32 `cbor:"1,keyasint,omitempty"` // Responding node identity nonce
	GenesisHash []byte `cbor:"2,keyasint,omitempty"`
	TopHash     []byte `cbor:"3,keyasint,omitempty"` // Hash of the newest block
	Height      uint64 `cbor:"4,keyasint,omitempty"`
	Identity    string `cbor:"5,keyasint,omitempty"` // Must equal ServerIdentity
}

type BlocksSinceRequest struct {
	Height uint64 `cbor:"1,keyasint,omitempty"` // Return blocks at this height and above
}

type BlocksSinceResponse struct {
	Blocks []*block.Block `cbor:"1,keyasint,omitempty"` // Oldest first
}

type PushBlockRequest struct {
	Block *block.Block `cbor:"1,keyasint,omitempty"`
}

type PushBlockResponse struct{}

type PushTxRequest struct {
	Tx *tx.Tx `cbor:"1,keyasint,omitempty"`
}

type PushTxResponse struct{}

// PeerAnnouncement is the multicast discovery beacon. Receivers schedule
// an admission attempt for unknown nonces.
type PeerAnnouncement struct {
	Nonce uint32 `cbor:"1,keyasint,omitempty"`
	URI   string `cbor:"2,keyasint,omitempty"`
}

// ChannelInviteRequest asks the callee to record a payment channel
// invitation from the caller.
type ChannelInviteRequest struct {
	PubKey     string `cbor:"1,keyasint,omitempty"` // Caller public key
	URI        string `cbor:"2,keyasint,omitempty"` // Caller URI
	LockAmount uint64 `cbor:"3,keyasint,omitempty"`
	Fee        uint64 `cbor:"4,keyasint,omitempty"`
}

type ChannelInviteResponse struct{}

// ChannelProposeRequest parks a transaction in the pending slot of an
// open channel on the callee side.
type ChannelProposeRequest struct {
	Address string `cbor:"1,keyasint,omitempty"` // Caller channel address
	Tx      *tx.Tx `cbor:"2,keyasint,omitempty"`
}

type ChannelProposeResponse struct{}
