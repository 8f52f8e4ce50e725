package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig is the subset of tract.yaml read directly from disk, bypassing
// any higher-level config singleton — useful when the working directory
// may have changed, or before that singleton is initialized. Mirrors the
// teacher's internal/config/local_config.go LocalConfig pattern.
type FileConfig struct {
	DefaultBranch  string  `yaml:"default-branch"`
	OrphanRetention string `yaml:"orphan-retention"` // parsed with time.ParseDuration by callers
	CompressTarget int     `yaml:"compress-target-tokens"`
	Author         string  `yaml:"author"`
}

// LoadFileConfig reads and parses tract.yaml from dir. Returns an empty,
// non-nil FileConfig if the file doesn't exist or can't be parsed — the
// same "never error on absence" contract the teacher's LoadLocalConfig
// uses, since callers always have compiled-in defaults to fall back on.
func LoadFileConfig(dir string) *FileConfig {
	path := filepath.Join(dir, "tract.yaml")
	data, err := os.ReadFile(path) // #nosec G304 -- dir is caller-controlled, not user input
	if err != nil {
		return &FileConfig{}
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &FileConfig{}
	}
	return &cfg
}
