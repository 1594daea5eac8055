package backend

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dps_filemanager/src/filemanager"
)

// FilesComponent is the component whose restriction guards Save.
const FilesComponent = "Files"

type Restriction struct {
	ReadOnly    bool     `toml:"read_only"`
	MaxFileSize int64    `toml:"max_file_size"` // 0 means unlimited
	Extensions  []string `toml:"extensions"`    // allowed suffixes, empty allows all
}

type Config struct {
	Root         string                 `toml:"root"`
	MaxChunk     int64                  `toml:"max_chunk"`
	ErrorHistory int                    `toml:"error_history"`
	Restrictions map[string]Restriction `toml:"restrictions"`
}

func DefaultConfig() Config {
	return Config{
		Root:         "local/files",
		MaxChunk:     filemanager.ChunkCap,
		ErrorHistory: 32,
		Restrictions: map[string]Restriction{},
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

// WriteConfig stores cfg as TOML at path.
func WriteConfig(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if c.MaxChunk <= 0 {
		return fmt.Errorf("max_chunk must be > 0, got %d", c.MaxChunk)
	}
	if c.ErrorHistory < 0 {
		return fmt.Errorf("error_history must be >= 0, got %d", c.ErrorHistory)
	}
	return nil
}
