// Package main wires together the content pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/api"
	"github.com/scrivenerhq/scrivener/internal/clock/system"
	"github.com/scrivenerhq/scrivener/internal/config"
	"github.com/scrivenerhq/scrivener/internal/dispatcher"
	"github.com/scrivenerhq/scrivener/internal/id/uuid"
	"github.com/scrivenerhq/scrivener/internal/llm/openai"
	"github.com/scrivenerhq/scrivener/internal/logging"
	"github.com/scrivenerhq/scrivener/internal/orchestrator"
	"github.com/scrivenerhq/scrivener/internal/pipeline"
	memorypublisher "github.com/scrivenerhq/scrivener/internal/publisher/memory"
	pubsubpublisher "github.com/scrivenerhq/scrivener/internal/publisher/pubsub"
	"github.com/scrivenerhq/scrivener/internal/search/tavily"
	memorystore "github.com/scrivenerhq/scrivener/internal/store/memory"
	postgresstore "github.com/scrivenerhq/scrivener/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var store pipeline.Store
	if cfg.DB.DSN != "" {
		pgStore, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
		}, clock, idGen)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
		logger.Info("using postgres store")
	} else {
		store = memorystore.New(clock, idGen)
		logger.Warn("no db.dsn configured, using in-memory store")
	}

	searcher, err := tavily.New(tavily.Config{
		APIKeys:    cfg.Search.APIKeys,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
	}, logger.Named("search"))
	if err != nil {
		logger.Fatal("search client init failed", zap.Error(err))
	}

	model, err := openai.New(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}

	generator, err := orchestrator.New(model, orchestrator.Config{
		Models:    cfg.LLM.Models,
		MinLength: cfg.LLM.MinLength,
	}, logger.Named("orchestrator"))
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	var publisher pipeline.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		publisher = pub
		logger.Info("publishing completion events",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	} else {
		publisher = memorypublisher.New()
		logger.Info("no pubsub configured, completion events stay in-process")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close failed", zap.Error(err))
		}
	}()

	dispatch := dispatcher.New(store, searcher, generator, publisher, clock, dispatcher.Config{
		BatchSize:  cfg.Dispatcher.BatchSize,
		JobTimeout: cfg.JobTimeout(),
	}, logger.Named("dispatcher"))

	apiServer := api.NewServer(store, dispatch, api.Config{
		MaxPendingJobs: cfg.Server.MaxPendingJobs,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
