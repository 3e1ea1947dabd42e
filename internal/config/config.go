package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/dooshek/keymon/internal/fileops"
	"github.com/dooshek/keymon/internal/logger"
	"github.com/dooshek/keymon/internal/types"
)

const (
	configFilename = "keymon.yaml"
	schemaURL      = "keymon.schema.json"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// DefaultPath returns the config file in the user's config directory,
// creating the directory layout when needed.
func DefaultPath() (string, error) {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return "", fmt.Errorf("failed to initialize file operations: %w", err)
	}
	if err := fileOps.EnsureDirectories(); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	return filepath.Join(fileOps.GetConfigDir(), configFilename), nil
}

// LoadConfig reads path, or the default config file when path is empty.
// A missing file yields nil, nil. The file format follows the extension:
// .toml is TOML, anything else YAML.
func LoadConfig(path string) (*types.Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(path, data)
}

// Parse decodes and validates config data. path only selects the format.
func Parse(path string, data []byte) (*types.Config, error) {
	raw := map[string]interface{}{}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	var config types.Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// Validate checks a decoded document against the embedded schema.
func Validate(raw map[string]interface{}) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if schemaErr = compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); schemaErr != nil {
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	if schemaErr != nil {
		return fmt.Errorf("failed to compile config schema: %w", schemaErr)
	}

	// round-trip through JSON so YAML and TOML numbers look alike
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return err
	}
	return schema.Validate(instance)
}

// SaveConfig merges config into the file at path (or the default file) and
// writes it back in the format of its extension.
func SaveConfig(path string, config *types.Config) error {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return err
		}
	}

	existingConfig, err := LoadConfig(path)
	if err != nil {
		logger.Warnf("Failed to load existing config: %v", err)
	} else if existingConfig != nil {
		mergeConfigs(existingConfig, config)
		config = existingConfig
	}

	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(config); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	} else {
		data, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		buf.Write(data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// mergeConfigs merges the sourceConfig into targetConfig, preserving existing values in targetConfig
// that are not explicitly set in sourceConfig
func mergeConfigs(targetConfig, sourceConfig *types.Config) {
	if sourceConfig.Keymap.File != "" {
		targetConfig.Keymap.File = sourceConfig.Keymap.File
	}
	if sourceConfig.Keymap.DefaultLayout != "" {
		targetConfig.Keymap.DefaultLayout = sourceConfig.Keymap.DefaultLayout
	}

	if sourceConfig.Capture.Backend != "" {
		targetConfig.Capture.Backend = sourceConfig.Capture.Backend
	}
	if sourceConfig.Capture.PollInterval != 0 {
		targetConfig.Capture.PollInterval = sourceConfig.Capture.PollInterval
	}

	src, dst := sourceConfig.Indicators, &targetConfig.Indicators
	for _, p := range []struct{ from, to **bool }{
		{&src.Mouse, &dst.Mouse},
		{&src.Shift, &dst.Shift},
		{&src.Ctrl, &dst.Ctrl},
		{&src.Alt, &dst.Alt},
		{&src.Meta, &dst.Meta},
	} {
		if *p.from != nil {
			*p.to = *p.from
		}
	}
	if src.OldKeys != nil {
		dst.OldKeys = src.OldKeys
	}

	// booleans in behavior have no unset state; the wizard always writes
	// the whole section
	if sourceConfig.Behavior != (types.BehaviorConfig{}) {
		b := sourceConfig.Behavior
		if b.KeyTimeout == 0 {
			b.KeyTimeout = targetConfig.Behavior.KeyTimeout
		}
		if b.MouseTimeout == 0 {
			b.MouseTimeout = targetConfig.Behavior.MouseTimeout
		}
		if b.Scale == 0 {
			b.Scale = targetConfig.Behavior.Scale
		}
		targetConfig.Behavior = b
	}

	if sourceConfig.Renderer.Kind != "" {
		targetConfig.Renderer.Kind = sourceConfig.Renderer.Kind
	}
	if sourceConfig.DBus.Enabled {
		targetConfig.DBus.Enabled = true
	}
	if sourceConfig.Journal.Enabled {
		targetConfig.Journal.Enabled = true
	}
	if sourceConfig.Journal.Path != "" {
		targetConfig.Journal.Path = sourceConfig.Journal.Path
	}
}
