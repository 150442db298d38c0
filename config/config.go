package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the configuration of an aenode instance
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		// AdvertizedURI is the host:port other peers reach us at. When
		// empty it is derived from the listener's non-loopback addresses.
		AdvertizedURI string `json:"uri"`
	} `json:"node"`

	Network struct {
		ListenAddress   string `json:"listen"`
		AnnounceAddress string `json:"announce"` // UDP multicast group for discovery
		MetricsAddress  string `json:"metrics"`
	} `json:"network"`

	Peers struct {
		MaxPeers                int     `json:"max"`
		AdmitWhenFullP          float64 `json:"admitWhenFullP"`
		CheckIntervalSeconds    int     `json:"checkIntervalSeconds"`
		AnnounceIntervalSeconds int     `json:"announceIntervalSeconds"`
	} `json:"peers"`

	DataStore struct {
		ChainPath string `json:"chain"`
	} `json:"datastore"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.ListenAddress = ":3015"
	cfg.Network.AnnounceAddress = "224.0.0.1:3016"
	cfg.Network.MetricsAddress = ":9105"

	cfg.Peers.MaxPeers = 20
	cfg.Peers.AdmitWhenFullP = 0.5
	cfg.Peers.CheckIntervalSeconds = 30
	cfg.Peers.AnnounceIntervalSeconds = 10

	cfg.DataStore.ChainPath = "/tmp/aenode/chain"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
