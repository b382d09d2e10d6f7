package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the engine-wide defaults normally set once at
// database open, as opposed to the per-object config strings Parse
// handles. Any field left zero falls back to the matching package's
// own DefaultConfig.
type EngineConfig struct {
	CacheSize           int64  `yaml:"cache_size"`
	EvictionTarget      int    `yaml:"eviction_target"`
	EvictionDirtyTarget int    `yaml:"eviction_dirty_target"`
	CheckpointWait      string `yaml:"checkpoint_wait"`
	LogEnabled          bool   `yaml:"log_enabled"`
	LogPath             string `yaml:"log_path"`
	LogFileMax          int64  `yaml:"log_file_max"`
	Isolation           string `yaml:"isolation"`
}

// LoadFile reads and parses an engine-wide YAML defaults file. A
// missing file is not an error: callers get a zero-value EngineConfig
// and apply their own defaults.
func LoadFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EngineConfig{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
