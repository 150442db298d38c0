package tx

// Tx is a value transfer between two account addresses. Signing and
// signature verification are owned by the wallet layer, the signature
// travels through this subsystem as opaque bytes.
type Tx struct {
	From      string `cbor:"1,keyasint,omitempty"`
	To        string `cbor:"2,keyasint,omitempty"`
	Amount    uint64 `cbor:"3,keyasint,omitempty"`
	Fee       uint64 `cbor:"4,keyasint,omitempty"`
	Nonce     uint64 `cbor:"5,keyasint,omitempty"`
	Payload   []byte `cbor:"6,keyasint,omitempty"`
	Signature []byte `cbor:"7,keyasint,omitempty"`
}
