package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kestral/convoke/internal/agent"
	"github.com/kestral/convoke/internal/api"
	"github.com/kestral/convoke/internal/config"
	"github.com/kestral/convoke/internal/embedding"
	"github.com/kestral/convoke/internal/events"
	"github.com/kestral/convoke/internal/graph"
	"github.com/kestral/convoke/internal/notify"
	"github.com/kestral/convoke/internal/orchestrator"
	"github.com/kestral/convoke/internal/provider"
	"github.com/kestral/convoke/internal/rag"
	pgstore "github.com/kestral/convoke/internal/store"
	"github.com/kestral/convoke/internal/task"
	"github.com/kestral/convoke/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Convoke...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/convoke.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	completer := provider.NewCompletion(router, cfg.Orchestrator.CompletionModel, logger)

	// Optional PostgreSQL mirror
	var store *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ps
		}
	}

	// Optional Redis task event stream
	var stream *events.Stream
	if cfg.Database.Redis.URL != "" {
		s, sErr := events.NewStream(cfg.Database.Redis.URL, logger)
		if sErr != nil {
			logger.Warn("Redis unavailable, running without task events", zap.Error(sErr))
		} else {
			stream = s
		}
	}

	// Optional Neo4j workflow mirror
	var mirror *graph.Mirror
	if cfg.Database.Neo4j.URI != "" {
		m, mErr := graph.NewMirror(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if mErr != nil || m.Ping(context.Background()) != nil {
			logger.Warn("Neo4j unavailable, running without workflow mirror", zap.Error(mErr))
		} else {
			mirror = m
		}
	}

	// Optional retrieval for document agents
	var retrieval *rag.Service
	if cfg.Database.Qdrant.Host != "" {
		qdrant, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without retrieval", zap.Error(qErr))
		} else {
			embedder := embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			svc := rag.NewService(embedder, qdrant, logger)
			if initErr := svc.Init(context.Background()); initErr != nil {
				logger.Warn("retrieval init failed, running without it", zap.Error(initErr))
			} else {
				retrieval = svc
			}
		}
	}

	// Optional chat notifiers
	var notifiers []notify.Notifier
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(dErr))
		} else {
			notifiers = append(notifiers, dn)
		}
	}

	// Assemble the orchestrator with whatever collaborators came up
	var opts []orchestrator.Option
	if store != nil {
		opts = append(opts, orchestrator.WithRecorder(store))
	}
	if stream != nil {
		opts = append(opts, orchestrator.WithPublisher(stream))
	}
	if mirror != nil {
		opts = append(opts, orchestrator.WithGraphMirror(mirror))
	}
	if len(notifiers) > 0 {
		opts = append(opts, orchestrator.WithNotifier(notify.NewFanout(logger, notifiers...)))
	}

	var agentOpts []agent.Option
	if retrieval != nil {
		agentOpts = append(agentOpts, agent.WithRetriever(retrieval))
	}

	orch, err := buildOrchestrator(cfg, completer, logger, agentOpts, opts)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}
	logger.Info("Orchestrator initialized",
		zap.Int("max_concurrent", cfg.Orchestrator.MaxConcurrentTasks),
		zap.Int("agents_per_type", cfg.Orchestrator.AgentsPerType))

	// Build HTTP handler
	handler := api.NewHandler(orch, retrieval, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Convoke listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Convoke...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	orch.Shutdown()
	if store != nil {
		store.Close()
	}
	if stream != nil {
		stream.Close()
	}
	if mirror != nil {
		mirror.Close(ctx)
	}
}

func buildOrchestrator(cfg *config.Config, completer agent.Completer, logger *zap.Logger, agentOpts []agent.Option, opts []orchestrator.Option) (*orchestrator.Orchestrator, error) {
	pool := orchestrator.NewAgentPool(logger)
	for _, c := range task.CapabilityTypes() {
		for i := 0; i < cfg.Orchestrator.AgentsPerType; i++ {
			a, err := agent.New(c, completer, logger, agentOpts...)
			if err != nil {
				return nil, err
			}
			pool.Add(a)
		}
	}
	return orchestrator.New(pool, cfg.Orchestrator.MaxConcurrentTasks, logger, opts...), nil
}
