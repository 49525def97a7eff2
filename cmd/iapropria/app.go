package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/embeddings"
	"github.com/iapropria/iapropria/internal/logging"
	"github.com/iapropria/iapropria/internal/settings"
	"github.com/iapropria/iapropria/internal/telemetry"
	"github.com/iapropria/iapropria/internal/users"
	"github.com/iapropria/iapropria/internal/vectorstore"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	settings  *settings.Store
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	provider  *vectorstore.Provider
	vectors   *vectorstore.Service
	users     *users.Repository

	closers []func() error
}

// newApp loads configuration and wires the dependency graph. Nothing here
// contacts the vector store; transports are built on first use.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	if cfg.Observability.EnableTracing || cfg.Observability.EnableMetrics {
		// noop unless the embedding program installs a log SDK
		logCfg.OTELProvider = global.GetLoggerProvider()
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	settingsPath, err := config.ExpandHome(cfg.Settings.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := settings.Open(settingsPath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening settings: %w", err)
	}
	a.settings = store

	embedder, err := embeddings.NewProvider(cfg.Embeddings, cfg.VectorStore.Dimension, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	a.embedder = embedder
	a.closers = append(a.closers, embedder.Close)

	resolver := vectorstore.NewResolver(store, cfg.VectorStore)
	a.provider = vectorstore.NewProvider(resolver, vectorstore.NewBuilder(cfg.VectorStore, logger), logger)
	stopWatch := a.provider.WatchSettings(store)
	a.closers = append(a.closers, func() error {
		stopWatch()
		return a.provider.Close()
	})

	a.vectors = vectorstore.NewService(a.provider, embedder, vectorstore.ServiceConfigFrom(cfg.VectorStore), logger)

	a.users = users.NewRepository(store, cfg.Database, logger)
	a.closers = append(a.closers, func() error {
		a.users.Close()
		return nil
	})

	logger.Debug(ctx, "dependencies initialized",
		zap.String("primary", cfg.VectorStore.Primary),
		zap.String("fallback", cfg.VectorStore.Fallback),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("dimension", cfg.VectorStore.Dimension),
		zap.String("settings", settingsPath),
	)
	return a, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
