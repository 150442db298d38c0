package peers

import (
	"crypto/rand"
	"math/big"
	"sync"

	log "github.com/sirupsen/logrus"
)

const mersenne31 = 1<<31 - 1

// NonceProvider hands out this node's identity nonce, an integer in
// [1, 2^31-1). The value is drawn lazily on first use and never changes
// for the process lifetime, remote peers use it to detect connections
// back to ourselves.
type NonceProvider struct {
	once  sync.Once
	nonce uint32
}

func (p *NonceProvider) Nonce() uint32 {
	p.once.Do(func() {
		n, err := rand.Int(rand.Reader, big.NewInt(mersenne31-1))
		if err != nil {
			log.Fatalf("Failed to draw node nonce: %v", err)
		}
		p.nonce = uint32(n.Int64()) + 1
		log.Infof("Node nonce: %d", p.nonce)
	})
	return p.nonce
}
