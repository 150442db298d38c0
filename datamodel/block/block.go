package block

import (
	"crypto/sha256"

	"aenode/datamodel/tx"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Header identifies a block position in the chain. Height is the block's
// index counted from genesis (genesis is 0), so a chain holding blocks
// 0..N has height N+1.
type Header struct {
	Height    uint64 `cbor:"1,keyasint"`
	PrevHash  []byte `cbor:"2,keyasint,omitempty"`
	TxRoot    []byte `cbor:"3,keyasint,omitempty"`
	Timestamp int64  `cbor:"4,keyasint,omitempty"`
	Nonce     uint64 `cbor:"5,keyasint,omitempty"`
}

type Block struct {
	Header Header  `cbor:"1,keyasint"`
	Txs    []tx.Tx `cbor:"2,keyasint,omitempty"`
}

// Hash is the SHA-256 of the CBOR-encoded header.
func (b *Block) Hash() []byte {
	raw, err := cbor.Marshal(&b.Header)
	if err != nil {
		// The header is a fixed flat struct, encoding it cannot fail.
		log.Fatalf("block.Hash: failed to encode header: %v", err)
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Genesis returns the fixed genesis block every node of this network is
// seeded with. All fields are constants so the genesis hash is identical
// across nodes.
func Genesis() *Block {
	return &Block{
		Header: Header{
			Height:    0,
			Timestamp: 0,
		},
	}
}

// Chain is the minimal chain contract the peer subsystem depends on.
// The backing sequence is ordered newest-first and seeded with Genesis().
type Chain interface {
	// Height returns the number of blocks in the chain, genesis included.
	Height() uint64

	// Append adds a block on top of the chain. It returns an error when
	// the block does not extend the current head.
	Append(*Block) error

	// LatestBlockHash returns the hash of the newest block.
	LatestBlockHash() []byte

	// GenesisBlockHash returns the hash of the genesis block. The value is
	// fixed for the process lifetime.
	GenesisBlockHash() []byte

	// BlocksSince returns all blocks with Height >= height, oldest first.
	BlocksSince(height uint64) []*Block
}
