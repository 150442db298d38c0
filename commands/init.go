package commands

import (
	"context"
	"aenode/config"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// RunInit writes a fresh default config file.
func RunInit(ctx context.Context, cfg *config.Config) {
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
}
