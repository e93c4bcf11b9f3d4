// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// Config is the application configuration, loaded from config.yaml. Every
// field has a working default so the file is optional.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Data    DataConfig    `yaml:"data"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Location is a TOML location file to load on startup. While the
	// explorer runs, the file is watched and edits are applied live.
	Location string `yaml:"location"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`
}

// DataConfig locates persistent state.
type DataConfig struct {
	// Dir holds the settings database. Supports ~ expansion.
	Dir string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Data:    DataConfig{Dir: "~/.aleutian/fractal"},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
	}
}

// LoadConfig reads a YAML config file, filling absent fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if config.Metrics.Listen == "" {
		config.Metrics.Listen = DefaultConfig().Metrics.Listen
	}
	return config, nil
}
