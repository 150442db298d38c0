package commands

import (
	"aenode/chain"
	"aenode/config"
	"aenode/datastore/leveldb"
	"context"
	"encoding/hex"
)

// RunInfo prints the state of the local chain store.
func RunInfo(ctx context.Context, cfg *config.Config) {
	cidx, err := leveldb.NewChainIndex(cfg.DataStore.ChainPath)
	if err != nil {
		log.Fatalf("Failed to open chain index: %v", err)
	}
	defer cidx.Close()

	chainStore, err := chain.New(cidx)
	if err != nil {
		log.Fatalf("Failed to load chain: %v", err)
	}

	log.Infof("Chain height: %d", chainStore.Height())
	log.Infof("Genesis hash: %s", hex.EncodeToString(chainStore.GenesisBlockHash()))
	log.Infof("Latest hash:  %s", hex.EncodeToString(chainStore.LatestBlockHash()))
	log.Infof("Peer policy:  max %d, admit-when-full p=%v", cfg.Peers.MaxPeers, cfg.Peers.AdmitWhenFullP)
}
