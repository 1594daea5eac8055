package filemanager

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	ChunkCap                = 100 * 1024 // largest read requested per Load step
	DefaultStaleChunkLimit  = 3
	DefaultNotificationPath = "Files/"
)

// Config controls runtime behavior of a Manager.
type Config struct {
	ChunkCap         int64  `toml:"chunk_cap"`         // clamp applied to every Load MaxSize
	StaleChunkLimit  int    `toml:"stale_chunk_limit"` // consecutive mismatched continuations before a Load fails; 0 waits forever
	NotificationPath string `toml:"notification_path"` // path watched by the Notification subscription
}

func DefaultConfig() Config {
	return Config{
		ChunkCap:         ChunkCap,
		StaleChunkLimit:  DefaultStaleChunkLimit,
		NotificationPath: DefaultNotificationPath,
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ChunkCap <= 0 {
		return fmt.Errorf("chunk_cap must be > 0, got %d", c.ChunkCap)
	}
	if c.StaleChunkLimit < 0 {
		return fmt.Errorf("stale_chunk_limit must be >= 0, got %d", c.StaleChunkLimit)
	}
	return nil
}
