// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is the process-wide configuration singleton.
	Global RecallConfig
	once   sync.Once
)

// Load reads the config into Global exactly once. A missing file is
// created with defaults first.
func Load() error {
	var err error
	once.Do(func() {
		var path string
		path, err = defaultConfigPath()
		if err != nil {
			return
		}
		Global, err = loadFrom(path)
	})
	return err
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".recall", "recall.yaml"), nil
}

func loadFrom(path string) (RecallConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "first run: creating config at %s\n", path)
		if err := writeDefault(path); err != nil {
			return RecallConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RecallConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RecallConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto the loaded file. The key
// stays out of the file by default; everything else is a convenience for
// containerized runs.
func applyEnv(cfg *RecallConfig) {
	if v := os.Getenv("RECALL_MESSAGE_DB"); v != "" {
		cfg.MessageDB = v
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		cfg.Weaviate.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("IMAGE_EMBED_SERVICE_URL"); v != "" {
		cfg.Images.URL = v
		cfg.Images.Enabled = true
	}
}
