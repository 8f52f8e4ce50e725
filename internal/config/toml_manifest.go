package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest is the per-tract identity file (tract.toml): the stable tract
// id, its display name and default branch. Kept separate from tract.yaml
// (operation defaults) the way the teacher splits identity/deploy config
// (TOML) from operational config (YAML via viper).
type Manifest struct {
	TractID       string `toml:"tract_id"`
	Name          string `toml:"name"`
	DefaultBranch string `toml:"default_branch"`
}

// ManifestPath returns the path to dir's manifest file.
func ManifestPath(dir string) string {
	return filepath.Join(dir, "tract.toml")
}

// LoadManifest reads and parses tract.toml from dir.
func LoadManifest(dir string) (*Manifest, error) {
	var m Manifest
	_, err := toml.DecodeFile(ManifestPath(dir), &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest serializes m to dir/tract.toml, creating dir if needed.
func WriteManifest(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.Create(ManifestPath(dir)) // #nosec G304 -- dir is caller-controlled
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(m)
}
