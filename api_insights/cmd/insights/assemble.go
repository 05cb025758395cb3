package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	goredis "github.com/redis/go-redis/v9"

	"kolinsights/api_insights/internal/agent"
	"kolinsights/api_insights/internal/chat"
	insightsconfig "kolinsights/api_insights/internal/config"
	"kolinsights/api_insights/internal/embedcache"
	"kolinsights/api_insights/internal/executor"
	"kolinsights/api_insights/internal/mcpspoke"
	"kolinsights/api_insights/internal/metering"
	"kolinsights/api_insights/internal/tools"
	"kolinsights/pkg/database"
	"kolinsights/pkg/llm"
	"kolinsights/pkg/logging"
	"kolinsights/pkg/middleware"
	"kolinsights/pkg/monitoring"
	"kolinsights/pkg/redis"
	"kolinsights/pkg/server"
	"kolinsights/pkg/version"
)

const probeTimeout = 30 * time.Second

type application struct {
	router  *gin.Engine
	closers []func() error
	logger  logging.Logger
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.WithError(err).Warn("Shutdown cleanup failed")
		}
	}
}

// assemble wires every collaborator from cfg. Required dependencies fail
// startup; Redis and Kafka degrade to in-process cache and no usage events.
func assemble(ctx context.Context, cfg insightsconfig.Config, logger logging.Logger) (*application, error) {
	app := &application{logger: logger}
	fail := func(err error) (*application, error) {
		app.Close()
		return nil, err
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		return fail(fmt.Errorf("connect database: %w", err))
	}
	app.closers = append(app.closers, db.Close)

	embedClient, err := llm.NewEmbeddingClient(cfg.Embedding)
	if err != nil {
		return fail(fmt.Errorf("embedding client: %w", err))
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	probed, err := llm.ProbeEmbeddingDimensions(probeCtx, embedClient)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("probe embedding model: %w", err))
	}
	column, err := database.VectorColumnDimensions(probeCtx, db, "posts", "embedding")
	cancel()
	if err != nil {
		return fail(err)
	}
	dims, err := resolveDimensions(probed, column, cfg.EmbeddingDimensions)
	if err != nil {
		return fail(err)
	}
	logger.WithFields(logging.Fields{
		"model":      cfg.Embedding.Model,
		"dimensions": dims,
	}).Info("Embedding dimensions verified")

	healthChecker := monitoring.NewHealthChecker("insights", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("insights", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(cfg.Required()))

	var rdb goredis.UniversalClient
	if cfg.RedisEnabled() {
		client, err := redis.NewUniversalClient(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable - embedding cache kept in process")
		} else {
			rdb = client
			app.closers = append(app.closers, client.Close)
			healthChecker.AddOptionalCheck("redis", monitoring.RedisHealthCheck(client))
		}
	}

	embedder, err := embedcache.New(embedcache.Config{
		Client: embedClient,
		Model:  cfg.Embedding.Model,
		Redis:  rdb,
		TTL:    cfg.EmbedCacheTTL,
		Logger: logger,
	})
	if err != nil {
		return fail(err)
	}

	exec := executor.New(executor.Config{
		DB:         db,
		Embedder:   embedder,
		Dimensions: dims,
		Logger:     logger,
	})
	registry := tools.NewRegistry(tools.Config{
		Executor:    exec,
		ToolTimeout: cfg.ToolTimeout,
		Logger:      logger,
	})

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return fail(fmt.Errorf("llm provider: %w", err))
	}
	orchestrator := agent.NewOrchestrator(agent.Config{
		Provider:        provider,
		Tools:           registry,
		Logger:          logger,
		MaxRounds:       cfg.MaxRounds,
		ToolConcurrency: cfg.ToolConcurrency,
	})

	var usage chat.UsagePublisher
	if cfg.KafkaEnabled() {
		messages, duration := metricsCollector.CreateKafkaMetrics()
		publisher, err := metering.NewPublisher(metering.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			ClusterID: cfg.KafkaClusterID,
			Topic:     cfg.UsageTopic,
			Logger:    logger,
			Messages:  messages,
			Duration:  duration,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to create usage Kafka publisher - usage events disabled")
		} else {
			usage = publisher
			app.closers = append(app.closers, publisher.Close)
			healthChecker.AddOptionalCheck("kafka", monitoring.KafkaProducerHealthCheck(publisher.Client()))
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set - usage events disabled")
	}

	handler := chat.NewHandler(chat.HandlerConfig{
		Answerer: orchestrator,
		Usage:    usage,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.RequestTimeout,
		Logger:   logger,
	})

	var spoke *mcp.Server
	if cfg.MCPEnabled {
		spoke = mcpspoke.NewServer(registry, logger)
	}

	app.router = server.SetupServiceRouter(logger, "insights", healthChecker, metricsCollector)
	mountRoutes(app.router, handler, spoke, cfg.ToolTimeout+5*time.Second)
	return app, nil
}

// mountRoutes attaches the query endpoint and, when spoke is set, the MCP
// endpoint. MCP calls run a single tool so they get the tool budget.
func mountRoutes(r *gin.Engine, handler *chat.Handler, spoke *mcp.Server, mcpTimeout time.Duration) {
	handler.RegisterRoutes(r)
	if spoke == nil {
		return
	}
	mcpHandler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return spoke },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	group := r.Group("/mcp", middleware.TimeoutMiddleware(mcpTimeout))
	group.Any("", gin.WrapH(mcpHandler))
}

// resolveDimensions checks that the embedding model, the posts.embedding
// column and the configured EMBEDDING_DIMENSIONS (when non-zero) agree.
func resolveDimensions(probed, column, configured int) (int, error) {
	if probed <= 0 || column <= 0 {
		return 0, errors.New("embedding dimensions unknown")
	}
	if probed != column {
		return 0, fmt.Errorf("%w: model produces %d, posts.embedding is vector(%d)", executor.ErrDimensionMismatch, probed, column)
	}
	if configured > 0 && configured != column {
		return 0, fmt.Errorf("%w: EMBEDDING_DIMENSIONS=%d, posts.embedding is vector(%d)", executor.ErrDimensionMismatch, configured, column)
	}
	return column, nil
}
