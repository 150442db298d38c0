package chain

import (
	"errors"
	"sync"

	"aenode/datamodel/block"

	log "github.com/sirupsen/logrus"
)

var ErrNotSuccessor = errors.New("block does not extend the chain head")

// Index is the persistence contract the chain store writes through to.
// A nil Index keeps the chain in memory only.
type Index interface {
	// Put stores a block keyed by its height.
	Put(*block.Block) error

	// Enumerate returns all stored blocks ordered oldest first.
	Enumerate() ([]*block.Block, error)

	// Close releases any resources held by the Index.
	Close() error
}

// Store owns the block sequence. All access is serialized through the
// store's own lock, callers never observe a half-applied append.
type Store struct {
	mu          sync.Mutex
	blocks      []*block.Block // newest first
	genesisHash []byte
	idx         Index
}

// New creates a chain store, reloading blocks from idx when it holds any
// and seeding the fixed genesis block otherwise.
func New(idx Index) (*Store, error) {
	s := &Store{
		idx:         idx,
		genesisHash: block.Genesis().Hash(),
	}

	if idx != nil {
		stored, err := idx.Enumerate()
		if err != nil {
			return nil, err
		}
		// Reverse into newest-first order
		for _, b := range stored {
			s.blocks = append([]*block.Block{b}, s.blocks...)
		}
	}

	if len(s.blocks) == 0 {
		g := block.Genesis()
		s.blocks = []*block.Block{g}
		if idx != nil {
			if err := idx.Put(g); err != nil {
				return nil, err
			}
		}
	}

	log.Infof("Chain store ready: height %d", len(s.blocks))

	return s, nil
}

func (s *Store) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.blocks))
}

// Append prepends b as the new head.
// FIXME: only the height linkage is checked here. Header and transaction
// validation against the current head is still missing.
func (s *Store) Append(b *block.Block) error {
	if b == nil {
		return errors.New("nil block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Header.Height != uint64(len(s.blocks)) {
		return ErrNotSuccessor
	}

	s.blocks = append([]*block.Block{b}, s.blocks...)

	if s.idx != nil {
		if err := s.idx.Put(b); err != nil {
			// The in-memory chain stays authoritative, persistence catches
			// up on the next restart sync.
			log.Errorf("chain.Append: failed to persist block %d: %v", b.Header.Height, err)
		}
	}

	return nil
}

func (s *Store) LatestBlockHash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[0].Hash()
}

func (s *Store) GenesisBlockHash() []byte {
	// Computed once at construction, immutable afterwards.
	return s.genesisHash
}

func (s *Store) BlocksSince(height uint64) []*block.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*block.Block
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if s.blocks[i].Header.Height >= height {
			out = append(out, s.blocks[i])
		}
	}
	return out
}

var _ block.Chain = (*Store)(nil)
