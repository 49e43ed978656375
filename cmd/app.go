package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagehq/sage/db"
	"github.com/sagehq/sage/internal/assistant"
	"github.com/sagehq/sage/internal/chunk"
	"github.com/sagehq/sage/internal/config"
	"github.com/sagehq/sage/internal/conversation"
	"github.com/sagehq/sage/internal/database"
	"github.com/sagehq/sage/internal/embed"
	"github.com/sagehq/sage/internal/index"
	"github.com/sagehq/sage/internal/log"
	"github.com/sagehq/sage/internal/retrieval"
	"github.com/sagehq/sage/internal/router"
	"github.com/sagehq/sage/internal/source"
	"github.com/sagehq/sage/internal/source/notion"
	"github.com/sagehq/sage/internal/source/obsidian"
	"github.com/sagehq/sage/internal/source/webclip"
	"github.com/sagehq/sage/internal/source/ynab"
	"github.com/sagehq/sage/internal/syncer"
)

// app holds the wired subsystems behind one CLI invocation.
type app struct {
	cfg       *config.Config
	logger    log.Logger
	assistant *assistant.Assistant
	pool      *pgxpool.Pool
}

// buildApp loads configuration and wires the full assistant stack.
// With --memory everything lives in process and PostgreSQL is never
// touched.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})

	registry := source.NewRegistry()
	registry.Register(notion.SourceType, notion.Factory(logger, cfg.SyncPageTimeout))
	registry.Register(obsidian.SourceType, obsidian.Factory(logger))
	registry.Register(ynab.SourceType, ynab.Factory(logger, cfg.SyncPageTimeout))
	registry.Register(webclip.SourceType, webclip.Factory(logger, cfg.SyncPageTimeout))

	var (
		idx           index.Index
		conversations conversation.Store
		connections   syncer.ConnectionStore
		pool          *pgxpool.Pool
	)
	if flagMemory {
		idx = index.NewMemory()
		conversations = conversation.NewMemoryStore()
		connections = syncer.NewMemoryConnections()
	} else {
		connURL := cfg.DatabaseURL()
		if err := db.Migrate(connURL); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		pool, err = database.Open(ctx, connURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
		}

		pgIndex, err := index.NewPostgres(pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		convStore, err := conversation.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		connStore, err := syncer.NewPostgresConnections(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		idx, conversations, connections = pgIndex, convStore, connStore
	}

	embedder, err := embed.NewOpenAI(os.Getenv("OPENAI_API_KEY"),
		cfg.EmbedderBaseURL, cfg.EmbedderModel, cfg.EmbedderDimension)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	gateway := embed.NewGateway(embedder, logger,
		embed.WithBatchSize(cfg.EmbedBatchSize),
		embed.WithTimeout(cfg.EmbedTimeout))

	chunker := chunk.New(
		chunk.WithSize(cfg.ChunkSize),
		chunk.WithOverlap(cfg.ChunkOverlap),
		chunk.WithMinSize(cfg.ChunkMinSize))

	sync, err := syncer.New(registry, connections, idx, gateway, chunker, logger,
		syncer.WithBatchSize(cfg.SyncBatchSize),
		syncer.WithWorkers(cfg.SyncWorkers))
	if err != nil {
		return nil, err
	}

	planner, err := retrieval.New(gateway, idx,
		float64(cfg.SimilarityThreshold), cfg.DefaultTopK, logger,
		retrieval.WithMaxPerDocument(cfg.MaxChunksPerDoc))
	if err != nil {
		return nil, err
	}

	simple, err := providers(cfg.SimpleProviders)
	if err != nil {
		return nil, fmt.Errorf("simple tier: %w", err)
	}
	complexTier, err := providers(cfg.ComplexProviders)
	if err != nil {
		return nil, fmt.Errorf("complex tier: %w", err)
	}
	r, err := router.New(simple, complexTier, cfg.SimpleTimeout, cfg.ComplexTimeout, logger)
	if err != nil {
		return nil, err
	}

	a, err := assistant.New(sync, planner, r, conversations, idx, logger,
		assistant.WithHistoryWindow(cfg.MaxHistoryTurns))
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, assistant: a, pool: pool}, nil
}

// close releases the database pool, if any.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// providers builds the router tier from its configured priority list.
// A provider whose API key variable is unset is skipped with a warning
// rather than failing startup.
func providers(list []config.Provider) ([]router.Provider, error) {
	var tier []router.Provider
	for _, p := range list {
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			fmt.Fprintf(os.Stderr, "warning: %s not set, skipping provider %s\n", p.APIKeyEnv, p.Name)
			continue
		}
		provider, err := router.NewOpenAIProvider(p.Name, key, p.BaseURL, p.Model)
		if err != nil {
			return nil, err
		}
		tier = append(tier, provider)
	}
	if len(tier) == 0 {
		return nil, fmt.Errorf("no provider has an API key configured")
	}
	return tier, nil
}
