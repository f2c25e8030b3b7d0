package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage)
	assert.Equal(t, 384, cfg.EmbeddingDimension)
	assert.Equal(t, "bootstrap", cfg.EnrichmentMode)
	assert.InDelta(t, 0.85, cfg.ContradictionThreshold, 1e-9)
	assert.Equal(t, 6363, cfg.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_STORAGE", "inmem")
	t.Setenv("WHISPER_EMBEDDING_PROVIDER", "mock")
	t.Setenv("WHISPER_CONTRADICTION_THRESHOLD", "0.6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "inmem", cfg.Storage)
	assert.Equal(t, "mock", cfg.EmbeddingProvider)
	assert.InDelta(t, 0.6, cfg.ContradictionThreshold, 1e-9)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "redis" }},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"threshold above one", func(c *Config) { c.ContradictionThreshold = 1.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func writeCharacters(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "characters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCharacters_MissingFileYieldsDefault(t *testing.T) {
	chars, err := LoadCharacters(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.Equal(t, "default", chars[0].Name)
	assert.Equal(t, "default", chars[0].Collection)
}

func TestLoadCharacters_ParsesFile(t *testing.T) {
	path := writeCharacters(t, `
characters:
  - name: Elena
    collection: elena
  - name: Marcus
    collection: marcus_chen
`)
	chars, err := LoadCharacters(path)
	require.NoError(t, err)
	require.Len(t, chars, 2)
	assert.Equal(t, "Elena", chars[0].Name)
	assert.Equal(t, "marcus_chen", chars[1].Collection)
}

func TestLoadCharacters_RejectsDuplicateCollections(t *testing.T) {
	path := writeCharacters(t, `
characters:
  - name: Elena
    collection: shared
  - name: Marcus
    collection: shared
`)
	_, err := LoadCharacters(path)
	assert.Error(t, err)
}

func TestLoadCharacters_RejectsIncompleteEntries(t *testing.T) {
	path := writeCharacters(t, `
characters:
  - name: Elena
`)
	_, err := LoadCharacters(path)
	assert.Error(t, err)
}

func TestLoadCharacters_RejectsEmptyFile(t *testing.T) {
	path := writeCharacters(t, "characters: []\n")
	_, err := LoadCharacters(path)
	assert.Error(t, err)
}
