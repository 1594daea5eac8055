package logcfg

import (
	"fmt"
	"os"

	logs "github.com/danmuck/smplog"
)

const envConfigPath = "FILEMANAGER_LOG_CONFIG"

var candidates = []string{
	"./smplog.config.toml",
	"./local/smplog.config.toml",
}

// Load returns the logging configuration named by FILEMANAGER_LOG_CONFIG,
// then the first config file found in the working tree, otherwise defaults.
// A config named by the environment that cannot be read is reported on
// stderr since logging is not configured yet.
func Load() logs.Config {
	if path := os.Getenv(envConfigPath); path != "" {
		cfg, err := logs.ConfigFromFile(path)
		if err == nil {
			return cfg
		}
		fmt.Fprintf(os.Stderr, "%s=%s: %v, using defaults\n", envConfigPath, path, err)
	}
	for _, path := range candidates {
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}
	return logs.DefaultConfig()
}

// Setup configures the global logger from Load.
func Setup() {
	logs.Configure(Load())
}
