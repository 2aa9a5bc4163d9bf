// Command codegraphd wires the embedded graph store, connection pool,
// caches, vector index, embedding orchestrator and agent runtime into one
// process per spec.md §6.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developer-mesh/codegraph/pkg/agent"
	"github.com/developer-mesh/codegraph/pkg/cache"
	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/config"
	"github.com/developer-mesh/codegraph/pkg/embedding"
	"github.com/developer-mesh/codegraph/pkg/graph"
	"github.com/developer-mesh/codegraph/pkg/graph/batch"
	"github.com/developer-mesh/codegraph/pkg/indexer"
	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/developer-mesh/codegraph/pkg/query"
	"github.com/developer-mesh/codegraph/pkg/store"
	"github.com/developer-mesh/codegraph/pkg/store/migration"
	"github.com/developer-mesh/codegraph/pkg/store/pool"
	"github.com/developer-mesh/codegraph/pkg/vector"

	_ "github.com/mattn/go-sqlite3"
)

// Exit codes per spec.md §6.
const (
	exitOK                 = 0
	exitMigrationFailure   = 1
	exitUnreadableDatabase = 2
	exitUnrecoverablePool  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a config file (optional)")
	flag.Parse()

	logger := observability.NewStandardLogger("codegraphd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", map[string]interface{}{"error": err.Error()})
		return exitUnreadableDatabase
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connPool, err := pool.New(ctx, cfg.Store.Path, store.OpenOptions{BusyTimeout: cfg.Store.BusyTimeout}, pool.Config{
		MinConnections:   cfg.Store.MinConnections,
		MaxConnections:   cfg.Store.MaxConnections,
		AcquireTimeout:   cfg.Store.AcquireTimeout,
		IdleTimeout:      cfg.Store.IdleTimeout,
		HealthCheckEvery: cfg.Store.HealthCheckEvery,
	}, logger)
	if err != nil {
		logger.Error("failed to open connection pool", map[string]interface{}{"error": err.Error()})
		return exitUnrecoverablePool
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := connPool.Shutdown(shutdownCtx); err != nil {
			logger.Error("pool shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	handle, err := connPool.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire connection for migrations", map[string]interface{}{"error": err.Error()})
		return exitUnrecoverablePool
	}

	migrationManager := migration.NewManager(handle.DB().DB, migration.Schema, logger)
	if err := migrationManager.Init(ctx); err != nil {
		handle.Release()
		logger.Error("migration init failed", map[string]interface{}{"error": err.Error()})
		return exitMigrationFailure
	}
	if err := migrationManager.RunMigrations(ctx); err != nil {
		handle.Release()
		logger.Error("migration run failed", map[string]interface{}{"error": err.Error()})
		return exitMigrationFailure
	}

	graphStore := graph.New(handle.DB(), logger)
	defer handle.Release()

	cacheDB, err := openSidecar(cfg.Store.QueryCachePath)
	if err != nil {
		logger.Error("failed to open query cache sidecar", map[string]interface{}{"error": err.Error()})
		return exitUnreadableDatabase
	}
	defer cacheDB.Close()

	cacheMigrations := migration.NewManager(cacheDB, migration.CacheSchema, logger)
	if err := cacheMigrations.Init(ctx); err != nil {
		logger.Error("query cache migration init failed", map[string]interface{}{"error": err.Error()})
		return exitMigrationFailure
	}
	if err := cacheMigrations.RunMigrations(ctx); err != nil {
		logger.Error("query cache migration run failed", map[string]interface{}{"error": err.Error()})
		return exitMigrationFailure
	}

	queryCache, err := cache.New(cache.Config{
		HotSize:  cfg.Cache.HotSize,
		HotTTL:   cfg.Cache.HotTTL,
		WarmSize: cfg.Cache.WarmSize,
		WarmTTL:  cfg.Cache.WarmTTL,
		ColdTTL:  cfg.Cache.ColdTTL,
	}, cacheDB, logger)
	if err != nil {
		logger.Error("failed to construct query cache", map[string]interface{}{"error": err.Error()})
		return exitUnreadableDatabase
	}

	processor := query.New(graphStore, queryCache)

	vectorDB, err := openSidecar(cfg.Store.VectorPath)
	if err != nil {
		logger.Error("failed to open vector store", map[string]interface{}{"error": err.Error()})
		return exitUnreadableDatabase
	}
	defer vectorDB.Close()

	vectorStore := vector.Open(vectorDB, cfg.Embedding.Dimension, cfg.Embedding.Model, nil, "", logger)

	selectedProvider, err := embedding.NewProvider(embedding.FactoryConfig{
		Provider:       cfg.Embedding.Provider,
		Dimension:      cfg.Embedding.Dimension,
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		Model:          cfg.Embedding.Model,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		MaxRetries:     cfg.Embedding.MaxRetries,
	})
	if err != nil {
		logger.Error("failed to construct embedding provider", map[string]interface{}{"error": err.Error()})
		return exitUnreadableDatabase
	}

	orchestrator := embedding.NewOrchestrator(selectedProvider, logger)
	if err := orchestrator.Initialize(ctx); err != nil {
		logger.Warn("embedding orchestrator degraded to fallback", map[string]interface{}{"error": err.Error()})
	}
	defer orchestrator.Close()

	bus := agent.NewBus(cfg.Agent.MaxQueueDepth)
	defer bus.Close()

	batchWriter := batch.New(graphStore, handle.DB(), nil)
	fileIndexer := indexer.New(graphStore, batchWriter, queryCache, bus, logger)

	indexAgent := agent.New(agent.Config{
		Type:           "indexer",
		Capabilities:   agent.Capabilities{MaxConcurrency: cfg.Agent.MaxConcurrency},
		SupportedTasks: []string{"index"},
		Handler: func(ctx context.Context, task agent.Task) (interface{}, error) {
			payload, ok := task.Data.(indexer.ParseComplete)
			if !ok {
				return nil, cgerrors.ErrInvalidEntity
			}
			return fileIndexer.IndexFile(ctx, payload)
		},
		Logger:     logger,
		QueueDepth: cfg.Agent.MaxQueueDepth,
	})
	if err := indexAgent.Initialize(ctx); err != nil {
		logger.Error("failed to initialize indexer agent", map[string]interface{}{"error": err.Error()})
		return exitUnrecoverablePool
	}
	defer indexAgent.Shutdown(context.Background())

	queryAgent := agent.New(agent.Config{
		Type:           "query",
		Capabilities:   agent.Capabilities{MaxConcurrency: cfg.Agent.MaxConcurrency},
		SupportedTasks: []string{"query"},
		Handler: func(ctx context.Context, task agent.Task) (interface{}, error) {
			entityID, _ := task.Data.(string)
			return processor.GetEntity(ctx, entityID)
		},
		Logger:     logger,
		QueueDepth: cfg.Agent.MaxQueueDepth,
	})
	if err := queryAgent.Initialize(ctx); err != nil {
		logger.Error("failed to initialize query agent", map[string]interface{}{"error": err.Error()})
		return exitUnrecoverablePool
	}
	defer queryAgent.Shutdown(context.Background())

	bus.Subscribe(agent.TopicQueryRequest, func(entry agent.KnowledgeEntry) {
		result := queryAgent.Process(context.Background(), agent.Task{Type: "query", Data: entry.Data})
		bus.Publish(agent.KnowledgeEntry{Topic: agent.TopicQueryResponse, Data: result, Source: "query"})
	})

	bus.Subscribe(agent.TopicParseComplete, func(entry agent.KnowledgeEntry) {
		payload, ok := entry.Data.(indexer.ParseComplete)
		if !ok {
			logger.Warn("parse:complete payload had unexpected type", map[string]interface{}{"source": entry.Source})
			return
		}
		result := indexAgent.Process(context.Background(), agent.Task{Type: "index", Data: payload})
		if result.Err != nil {
			logger.Error("indexing failed", map[string]interface{}{"filePath": payload.FilePath, "error": result.Err.Error()})
		}
	})

	logger.Info("codegraphd ready", map[string]interface{}{
		"store":    cfg.Store.Path,
		"vectors":  cfg.Store.VectorPath,
		"provider": orchestrator.Info().Name,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received", nil)

	return exitOK
}

func openSidecar(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
