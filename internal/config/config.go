// Package config loads the keeper's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kination/alkeeper/internal/runner"
	"github.com/kination/alkeeper/internal/store"
)

// Config is the standalone keeper configuration
type Config struct {
	Keeper KeeperConfig        `yaml:"keeper"`
	Runner runner.RunnerConfig `yaml:"runner"`
	Store  store.StoreConfig   `yaml:"store"`

	// Fixture is an optional sim fixture file describing the vaults
	Fixture string `yaml:"fixture"`
}

// KeeperConfig identifies the keeper
type KeeperConfig struct {
	Name string `yaml:"name"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Keeper: KeeperConfig{Name: "default"},
		Runner: runner.DefaultRunnerConfig(),
		Store:  store.DefaultStoreConfig(),
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config error: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("yaml parse error: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration and fills derived fields
func (c *Config) Validate() error {
	if c.Keeper.Name == "" {
		return errors.New("keeper.name must not be empty")
	}
	if c.Runner.Interval <= 0 {
		return fmt.Errorf("runner.interval must be positive, got %s", c.Runner.Interval)
	}
	if c.Runner.MaxRetries < 0 {
		return fmt.Errorf("runner.maxRetries must not be negative, got %d", c.Runner.MaxRetries)
	}
	if c.Runner.RetryBackoff < 0 {
		return fmt.Errorf("runner.retryBackoff must not be negative, got %s", c.Runner.RetryBackoff)
	}
	switch c.Store.Type {
	case store.StoreTypeMemory, store.StoreTypeSQLite:
	default:
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}
	if c.Store.Type == store.StoreTypeSQLite && c.Store.Path == "" {
		return errors.New("store.path is required for sqlite")
	}
	c.Store.KeeperName = c.Keeper.Name
	return nil
}
