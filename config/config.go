package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the bridged service configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogFile       string `toml:"LogFile"`
	Environment   string `toml:"Environment"`

	ChainID         uint64 `toml:"ChainID"`
	RelayChainID    uint64 `toml:"RelayChainID"`
	ServiceIdentity string `toml:"ServiceIdentity"`
	WrappedNative   string `toml:"WrappedNative"`

	RegistrySeed string `toml:"RegistrySeed"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s not found", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bridged-data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the topology and identity settings.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID required")
	}
	if c.RelayChainID == 0 {
		return fmt.Errorf("config: RelayChainID required")
	}
	if strings.TrimSpace(c.ServiceIdentity) == "" {
		return fmt.Errorf("config: ServiceIdentity required")
	}
	return nil
}

// IsRelay reports whether this deployment holds the hub position.
func (c *Config) IsRelay() bool { return c.ChainID == c.RelayChainID }
