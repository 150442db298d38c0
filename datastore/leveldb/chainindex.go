package leveldb

import (
	"aenode/chain"
	"aenode/datamodel/block"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixBlock = "BLK" // Block indexed by height. Followed by 16 hex digits
)

var _ chain.Index = (*ChainIndex)(nil)

// ChainIndex persists the block sequence keyed by height.
type ChainIndex struct {
	levelDB
}

func NewChainIndex(path string) (*ChainIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &ChainIndex{
		levelDB: levelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *ChainIndex) Put(b *block.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(b)
	if err != nil {
		return err
	}

	return l.db.Put(keyFromHeight(b.Header.Height), raw, nil)
}

// Enumerate returns all stored blocks oldest first. The hex height keys
// sort lexicographically in height order, so the iterator order is the
// chain order.
func (l *ChainIndex) Enumerate() ([]*block.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*block.Block

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixBlock)), nil)
	defer iter.Release()

	for iter.Next() {
		height, err := heightFromKey(iter.Key())
		if err != nil {
			return nil, err
		}

		b := &block.Block{}
		if err := cbor.Unmarshal(iter.Value(), b); err != nil {
			return nil, err
		}

		// Compare the height just in case
		if b.Header.Height != height {
			log.Errorf("Enumerate: height mismatch: %d != %d", height, b.Header.Height)
			return nil, ErrCorrupted
		}

		results = append(results, b)
	}

	return results, iter.Error()
}
