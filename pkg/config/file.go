package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stagectl/pkg/errors"
)

// Format is a config file encoding.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatOf picks the encoding from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("config: unsupported file extension %q (want .toml, .yaml or .yml)", filepath.Ext(path))
}

// Load reads and validates a config file. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.ConfigParseError(path, err)
	}
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, errors.ConfigParseError(path, err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, errors.ConfigParseError(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	logger.Debug("loaded %s", path)
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does
// not exist. Any other failure is returned.
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("config file %s not found, using defaults", path)
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes data over the defaults without validating.
func Parse(data []byte, format Format) (Config, error) {
	cfg := Default()
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, err
		}
		for _, key := range md.Undecoded() {
			logger.Warn("ignoring unknown option %q", key.String())
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("config: unknown format %d", format)
	}
	return cfg, nil
}

// Encode renders cfg in the given format.
func Encode(cfg Config, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(cfg)
	}
	return nil, fmt.Errorf("config: unknown format %d", format)
}

// Save writes cfg to path atomically, in the format its extension names.
func Save(path string, cfg Config) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	content, err := Encode(cfg, format)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
