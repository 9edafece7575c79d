package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablechat/tablechat/internal/api"
	"github.com/tablechat/tablechat/internal/api/uistatic"
	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/chat"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/nlquery"
	duckdbengine "github.com/tablechat/tablechat/internal/nlquery/duckdb"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/source"
	s3store "github.com/tablechat/tablechat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("tablechat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	loaderOpts := []source.Option{source.WithLogger(logger)}
	var readiness []api.ReadinessCheck
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		loaderOpts = append(loaderOpts, source.WithObjectStore(objectStore))
		readiness = append(readiness, api.CheckHealth(objectStore))
	}
	loader := source.NewLoader(source.Config{
		MaxUploadBytes: cfg.Source.MaxUploadBytes,
		PreviewRows:    cfg.Source.PreviewRows,
		ConnectTimeout: cfg.Source.ConnectTimeout,
		ProbeTimeout:   cfg.Source.ProbeTimeout,
	}, loaderOpts...)

	var factory nlquery.Factory = nlquery.UnavailableFactory{}
	if cfg.AI.Enabled {
		planner, err := nl2sql.NewOpenAIPlanner(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize query planner", slog.Any("error", err))
			os.Exit(1)
		}
		factory = duckdbengine.NewFactory(planner, duckdbengine.Config{
			RowLimit:   cfg.AI.ResultRowLimit,
			SampleRows: cfg.AI.SampleRows,
		}, logger)
	} else {
		logger.Warn("AI planner disabled; engine questions will report the engine as unavailable")
	}

	executor := nlquery.NewExecutor(nlquery.Config{
		MaxRetries: cfg.AI.MaxRetries,
		RetryDelay: cfg.AI.RetryDelay,
	}, nlquery.WithLogger(logger))
	sessions := chat.NewManager(loader, factory, executor, chat.WithLogger(logger))
	defer func() { _ = sessions.Close() }()

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Sessions:          sessions,
		UI:                uistatic.Handler(),
	}
	if loader.ObjectStoreEnabled() {
		deps.Objects = loader
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
