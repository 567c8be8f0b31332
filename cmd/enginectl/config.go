package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is enginectl's on-disk configuration, loaded via --config.
// No command-line flag overrides its fields.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// StoreConfig selects and parameterizes a version-history backend.
type StoreConfig struct {
	// Kind is one of "rdoc", "file", "sqlite", "bbolt", "http".
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// LogConfig configures the leveled logger handed to the dispatcher and
// client.
type LogConfig struct {
	Level string `yaml:"level"`
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{Kind: "rdoc"},
		Log:   LogConfig{Level: "info"},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("enginectl: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("enginectl: parse config %q: %w", path, err)
	}
	return cfg, nil
}
