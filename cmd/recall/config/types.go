// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

// RecallConfig is the on-disk configuration at ~/.recall/recall.yaml.
// Environment variables override individual fields after loading; see
// applyEnv in loader.go.
type RecallConfig struct {
	// MessageDB is the platform message store. Read-only.
	MessageDB string `yaml:"message_db"`

	// AddressBookSources are extra AddressBook databases to load.
	// Empty means the standard per-user source locations.
	AddressBookSources []string `yaml:"address_book_sources,omitempty"`

	// StateDB holds indexing progress and the indexed-chunk set.
	StateDB string `yaml:"state_db"`

	// GraphDB holds the person/chat graph.
	GraphDB string `yaml:"graph_db"`

	// CacheDir holds the embedding cache.
	CacheDir string `yaml:"cache_dir"`

	Weaviate WeaviateConfig   `yaml:"weaviate"`
	OpenAI   OpenAIConfig     `yaml:"openai"`
	Images   ImageEmbedConfig `yaml:"image_embed"`
	Server   ServerConfig     `yaml:"server"`
	Logging  LoggingConfig    `yaml:"logging"`
}

type WeaviateConfig struct {
	URL string `yaml:"url"`
}

type OpenAIConfig struct {
	// APIKey is normally left empty here and supplied via OPENAI_API_KEY.
	APIKey      string `yaml:"api_key,omitempty"`
	EmbedModel  string `yaml:"embed_model"`
	ParserModel string `yaml:"parser_model"`
}

type ImageEmbedConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Debug  bool   `yaml:"debug"`
	LogDir string `yaml:"log_dir,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() RecallConfig {
	return RecallConfig{
		MessageDB: "~/Library/Messages/chat.db",
		StateDB:   "~/.recall/state.db",
		GraphDB:   "~/.recall/graph.db",
		CacheDir:  "~/.recall/cache",
		Weaviate:  WeaviateConfig{URL: "http://localhost:8080"},
		OpenAI: OpenAIConfig{
			EmbedModel:  "text-embedding-3-small",
			ParserModel: "gpt-4o-mini",
		},
		Images: ImageEmbedConfig{
			Enabled: false,
			URL:     "http://localhost:8188",
		},
		Server:  ServerConfig{Addr: "127.0.0.1:8377"},
		Logging: LoggingConfig{LogDir: "~/.recall/logs"},
	}
}
