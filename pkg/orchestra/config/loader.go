package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions reads a channel option file. The format follows the file
// extension: .yaml, .yml or .json.
func LoadOptions(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: options file: %w", err)
	}
	cfg, err := ParseOptions(filepath.Ext(path), data)
	if err != nil {
		return Config{}, fmt.Errorf("config: options file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseOptions decodes an option block. format is a file extension, with
// or without the leading dot.
func ParseOptions(format string, data []byte) (Config, error) {
	var (
		m   map[string]any
		err error
	)
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &m)
	case "json":
		err = json.Unmarshal(data, &m)
	default:
		return Config{}, fmt.Errorf("unsupported options format %q", format)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", strings.TrimPrefix(format, "."), err)
	}
	return New(m), nil
}

// Merge returns the keys of base overlaid with the keys of over. Neither
// input is modified.
func Merge(base, over Config) Config {
	out := maps.Clone(base.data)
	if out == nil {
		out = make(map[string]any, len(over.data))
	}
	maps.Copy(out, over.data)
	return New(out)
}
