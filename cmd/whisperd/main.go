// Command whisperd runs the memory engine: a serve loop with health and
// event endpoints, a one-shot decay sweep, and a JSON export tool.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whisperengine-ai/whisperengine-go/internal/config"
	"github.com/whisperengine-ai/whisperengine-go/internal/embedding"
	"github.com/whisperengine-ai/whisperengine-go/internal/embedding/mock"
	"github.com/whisperengine-ai/whisperengine-go/internal/engine"
	"github.com/whisperengine-ai/whisperengine-go/internal/notify"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage/inmem"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage/postgres"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "whisperd",
		Short:         "Vector-native long-term memory engine for AI companions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newDecayCmd(), newExportCmd())
	return root
}

// setup loads .env, the config, and the logger shared by all subcommands.
func setup() (*config.Config, zerolog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return cfg, log, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config) (storage.VectorStore, error) {
	switch cfg.Storage {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN)
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	case "inmem":
		return inmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func newEmbedder(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		return embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL:           cfg.EmbeddingURL,
			Model:             cfg.EmbeddingModel,
			Dimension:         cfg.EmbeddingDimension,
			Timeout:           cfg.EmbeddingTimeout,
			RequestsPerSecond: cfg.EmbeddingRPS,
		}), nil
	case "mock":
		return mock.NewWithDimension(cfg.EmbeddingDimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// buildManagers creates one manager per configured companion character.
func buildManagers(ctx context.Context, cfg *config.Config, vectors storage.VectorStore, log zerolog.Logger, events engine.EventPublisher) (map[string]*engine.Manager, error) {
	characters, err := config.LoadCharacters(cfg.CharactersPath)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	enrichment, err := engine.ParseEnrichmentMode(cfg.EnrichmentMode)
	if err != nil {
		return nil, err
	}

	managers := make(map[string]*engine.Manager, len(characters))
	for _, character := range characters {
		store, err := engine.NewMemoryStore(ctx, vectors, embedder, character.Collection, engine.MemoryStoreOptions{
			Chunker:                &engine.Chunker{MaxChunkSize: cfg.ChunkMaxSize, Overlap: cfg.ChunkOverlap},
			Enrichment:             enrichment,
			ContradictionThreshold: cfg.ContradictionThreshold,
			SearchTimeout:          cfg.SearchTimeout,
			Logger:                 log,
		})
		if err != nil {
			return nil, fmt.Errorf("character %q: %w", character.Name, err)
		}
		managers[character.Name] = engine.NewManager(store, engine.ManagerOptions{Logger: log, Events: events})
	}
	return managers, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with health and event endpoints plus the decay ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			vectors, err := openVectorStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = vectors.Close() }()

			hub := notify.NewHub(log)
			defer hub.Close()

			managers, err := buildManagers(ctx, cfg, vectors, log, hub)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/events", hub)
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				statuses := make(map[string]engine.HealthStatus, len(managers))
				healthy := true
				for name, m := range managers {
					status := m.HealthCheck(r.Context())
					statuses[name] = status
					healthy = healthy && status.Healthy
				}
				w.Header().Set("Content-Type", "application/json")
				if !healthy {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
				_ = json.NewEncoder(w).Encode(statuses)
			})

			server := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			go decayLoop(ctx, managers, cfg, log)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", server.Addr).Int("characters", len(managers)).Msg("whisperd serving")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

// decayLoop periodically reweights every character's memories.
func decayLoop(ctx context.Context, managers map[string]*engine.Manager, cfg *config.Config, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for name, m := range managers {
				if _, err := m.DecayPass(ctx, cfg.DecayHalfLife); err != nil {
					log.Error().Err(err).Str("character", name).Msg("decay pass failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func newDecayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Run one decay sweep over every character collection and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			vectors, err := openVectorStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = vectors.Close() }()

			managers, err := buildManagers(ctx, cfg, vectors, log, nil)
			if err != nil {
				return err
			}

			for name, m := range managers {
				result, err := m.DecayPass(ctx, cfg.DecayHalfLife)
				if err != nil {
					return fmt.Errorf("character %q: %w", name, err)
				}
				log.Info().Str("character", name).Int("scanned", result.Scanned).Int("updated", result.Updated).Msg("decay sweep done")
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		collection string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump a collection's memories as JSON lines to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			vectors, err := openVectorStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = vectors.Close() }()

			filter := storage.Filter{OwnerID: owner, AllOwners: owner == ""}
			enc := json.NewEncoder(os.Stdout)

			const pageSize = 200
			for offset := 0; ; offset += pageSize {
				points, err := vectors.Scroll(ctx, collection, filter, offset, pageSize)
				if err != nil {
					return err
				}
				if len(points) == 0 {
					return nil
				}
				for _, p := range points {
					doc := map[string]any{"id": p.ID}
					for k, v := range p.Payload {
						doc[k] = v
					}
					if err := enc.Encode(doc); err != nil {
						return err
					}
				}
				if len(points) < pageSize {
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "default", "collection to export")
	cmd.Flags().StringVar(&owner, "owner", "", "restrict the export to one owner (default: all owners)")
	return cmd
}
