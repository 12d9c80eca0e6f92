package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Changes     []string
}

// MigrateConfig upgrades cfg in place to the current Version.
// Files without a version field decode as version 0 and are treated as v1.
func MigrateConfig(cfg *Config) *MigrationResult {
	if cfg.Version >= Version {
		return nil
	}

	result := &MigrationResult{FromVersion: cfg.Version, ToVersion: Version}
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	for cfg.Version < Version {
		switch cfg.Version {
		case 1:
			result.Changes = append(result.Changes, migrateV1ToV2(cfg)...)
		}
		cfg.Version++
	}
	return result
}

// v2 introduced the viewer section and the dataUpdated notify threshold.
func migrateV1ToV2(cfg *Config) []string {
	var changes []string
	defaults := DefaultConfig()

	if cfg.Batch.NotifyThreshold == 0 {
		cfg.Batch.NotifyThreshold = defaults.Batch.NotifyThreshold
		changes = append(changes, "batch.notify_threshold set to default")
	}
	if cfg.Viewer.RefreshMs == 0 {
		cfg.Viewer = defaults.Viewer
		changes = append(changes, "viewer section added")
	}
	return changes
}

// Marshal encodes cfg as "toml", "json" or "yaml".
func Marshal(cfg *Config, format string) ([]byte, error) {
	clone := cfg.Clone()

	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(clone, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(clone)
	case "toml", "":
		var buf bytes.Buffer
		buf.WriteString("# rhythmd configuration\n")
		if err := toml.NewEncoder(&buf).Encode(clone); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	data, err := Marshal(cfg, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
