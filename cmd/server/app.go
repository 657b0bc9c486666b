package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vithaluntold/accute1-sub000/internal/automation"
	"github.com/vithaluntold/accute1-sub000/internal/capability"
	"github.com/vithaluntold/accute1-sub000/internal/config"
	"github.com/vithaluntold/accute1-sub000/internal/dependency"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/internal/services"
)

// app is the wired service shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  repository.Repository
	engine *services.Engine
	close  func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"storage", cfg.Storage.Driver,
		"config_file", cfg.ConfigFile,
		"okta_domain", cfg.Auth.OktaDomain,
	)

	a := &app{cfg: cfg, logger: logger, close: func() {}}
	switch cfg.Storage.Driver {
	case "memory":
		a.store = repository.NewMemoryStore()
		logger.Warn("using in-memory storage; state is lost on exit")
	default:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.store = repository.NewPostgresStore(pool)
		a.close = pool.Close
		logger.Info("database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	}

	provider := capability.NewProvider(a.store, logger, capability.Options{
		WebhookTimeout:   cfg.Automation.WebhookTimeout,
		AgentURL:         cfg.Automation.AgentURL,
		NotifyWebhookURL: cfg.Automation.NotifyWebhookURL,
		NotifyFormat:     cfg.Automation.NotifyFormat,
		NotifyTemplate:   cfg.Automation.NotifyTemplate,
	})
	a.engine = services.NewEngine(a.store, automation.NewExecutor(provider, logger), logger, services.Options{
		Schedule: dependency.Options{
			DefaultDuration: int(cfg.Schedule.DefaultDuration.Minutes()),
			Anchor:          dependency.Anchor(cfg.Schedule.Anchor),
		},
	})
	return a, nil
}

// postgres returns the Postgres store, or an error under another driver.
func (a *app) postgres() (*repository.PostgresStore, error) {
	pg, ok := a.store.(*repository.PostgresStore)
	if !ok {
		return nil, fmt.Errorf("storage driver %q has no schema to migrate", a.cfg.Storage.Driver)
	}
	return pg, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.DB.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
