// Package config loads engine configuration from WHISPER_-prefixed
// environment variables and the characters.yaml mapping file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Storage selects the vector store backend: sqlite, postgres, or
	// inmem (testing/bootstrap only).
	Storage string `env:"WHISPER_STORAGE" envDefault:"sqlite"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `env:"WHISPER_POSTGRES_DSN" envDefault:"postgres://localhost/whisper?sslmode=disable"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `env:"WHISPER_SQLITE_PATH" envDefault:"whisper_memory.db"`

	// Embedding provider settings.
	EmbeddingProvider  string        `env:"WHISPER_EMBEDDING_PROVIDER" envDefault:"ollama"`
	EmbeddingURL       string        `env:"WHISPER_EMBEDDING_URL" envDefault:"http://localhost:11434"`
	EmbeddingModel     string        `env:"WHISPER_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	EmbeddingDimension int           `env:"WHISPER_EMBEDDING_DIMENSION" envDefault:"384"`
	EmbeddingTimeout   time.Duration `env:"WHISPER_EMBEDDING_TIMEOUT" envDefault:"5s"`
	EmbeddingRPS       float64       `env:"WHISPER_EMBEDDING_RPS" envDefault:"0"`

	// Engine tuning.
	EnrichmentMode         string        `env:"WHISPER_ENRICHMENT_MODE" envDefault:"bootstrap"`
	ChunkMaxSize           int           `env:"WHISPER_CHUNK_MAX_SIZE" envDefault:"1000"`
	ChunkOverlap           int           `env:"WHISPER_CHUNK_OVERLAP" envDefault:"50"`
	ContradictionThreshold float64       `env:"WHISPER_CONTRADICTION_THRESHOLD" envDefault:"0.85"`
	DecayHalfLife          time.Duration `env:"WHISPER_DECAY_HALF_LIFE" envDefault:"168h"`
	DecayInterval          time.Duration `env:"WHISPER_DECAY_INTERVAL" envDefault:"1h"`
	SearchTimeout          time.Duration `env:"WHISPER_SEARCH_TIMEOUT" envDefault:"5s"`

	// Server settings.
	Host string `env:"WHISPER_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"WHISPER_PORT" envDefault:"6363"`

	// CharactersPath is the companion-character mapping file.
	CharactersPath string `env:"WHISPER_CHARACTERS_PATH" envDefault:"characters.yaml"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `env:"WHISPER_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage {
	case "sqlite", "postgres", "inmem":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive")
	}
	if c.ContradictionThreshold < 0 || c.ContradictionThreshold > 1 {
		return fmt.Errorf("config: contradiction threshold must be in [0,1]")
	}
	return nil
}

// CharacterSpec maps one companion character to its collection.
type CharacterSpec struct {
	// Name is the human-readable character name.
	Name string `yaml:"name"`

	// Collection is the vector-store collection backing this character.
	// Character isolation is structural: each character gets its own
	// collection, never a payload filter.
	Collection string `yaml:"collection"`
}

// CharactersFile is the characters.yaml document.
type CharactersFile struct {
	Characters []CharacterSpec `yaml:"characters"`
}

// LoadCharacters reads the character mapping. A missing file yields a
// single default character so the engine runs out of the box.
func LoadCharacters(path string) ([]CharacterSpec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []CharacterSpec{{Name: "default", Collection: "default"}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file CharactersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(file.Characters) == 0 {
		return nil, fmt.Errorf("config: %s defines no characters", path)
	}

	seen := make(map[string]bool)
	for _, c := range file.Characters {
		if c.Name == "" || c.Collection == "" {
			return nil, fmt.Errorf("config: %s: every character needs a name and a collection", path)
		}
		if seen[c.Collection] {
			return nil, fmt.Errorf("config: %s: collection %q is used by more than one character", path, c.Collection)
		}
		seen[c.Collection] = true
	}
	return file.Characters, nil
}
