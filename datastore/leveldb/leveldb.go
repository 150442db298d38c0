// Package leveldb implements the persistent indexes backing the node.
package leveldb

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

var ErrCorrupted = fmt.Errorf("corrupted")

type levelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromHeight(height uint64) []byte {
	return append([]byte(keyPrefixBlock), []byte(fmt.Sprintf("%016x", height))...)
}

func heightFromKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefixBlock)+16 {
		return 0, fmt.Errorf("heightFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixBlock)]) != keyPrefixBlock {
		return 0, fmt.Errorf("heightFromKey: invalid key prefix: %s", string(key[:len(keyPrefixBlock)]))
	}
	var height uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixBlock):]), "%016x", &height); err != nil {
		return 0, err
	}
	return height, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

func (l *levelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
