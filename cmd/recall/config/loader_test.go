// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")

	cfg, err := loadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "~/Library/Messages/chat.db", cfg.MessageDB)
	assert.Equal(t, "http://localhost:8080", cfg.Weaviate.URL)
	assert.FileExists(t, path)

	// A second load reads the file it just wrote.
	again, err := loadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.MessageDB, again.MessageDB)
}

func TestLoadFromPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_db: /tmp/chat.db\n"), 0o640))

	cfg, err := loadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chat.db", cfg.MessageDB)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbedModel, "unset fields fall back to defaults")
}

func TestLoadFromMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_db: [unclosed\n"), 0o640))

	_, err := loadFrom(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_MESSAGE_DB", "/srv/chat.db")
	t.Setenv("WEAVIATE_SERVICE_URL", "http://weaviate:9999")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("IMAGE_EMBED_SERVICE_URL", "http://vlm:8188")

	cfg := DefaultConfig()
	applyEnv(&cfg)
	assert.Equal(t, "/srv/chat.db", cfg.MessageDB)
	assert.Equal(t, "http://weaviate:9999", cfg.Weaviate.URL)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://vlm:8188", cfg.Images.URL)
	assert.True(t, cfg.Images.Enabled, "setting the image service URL enables image embedding")
}
