package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/vithaluntold/accute1-sub000/internal/api"
	"github.com/vithaluntold/accute1-sub000/internal/auth"
	"github.com/vithaluntold/accute1-sub000/internal/mcp"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/internal/seed"
)

var (
	serveMigrate bool
	serveSeed    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and MCP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the schema before serving (postgres only)")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Instantiate the built-in templates for the dev tenant on start")
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if serveMigrate {
		pg, err := a.postgres()
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	authz, err := auth.New(ctx, a.cfg, a.store, logger)
	if err != nil {
		return err
	}
	if authz.Bypassed() {
		logger.Warn("authentication bypassed", "actor", auth.DevActor)
	}

	if serveSeed {
		if err := seedDevTenant(ctx, a); err != nil {
			return err
		}
	}

	e := api.NewRouter(api.RouterConfig{
		Engine:      a.engine,
		Store:       a.store,
		Logger:      logger,
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     version,
		Auth:        authz.Middleware(),
	})

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	mcpServer := mcp.NewServer(a.engine, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), authz.Middleware())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), authz.Middleware())
	logger.Info("routes mounted", "rest", "/api/v1", "mcp", "/mcp")

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", server.Addr, "version", version)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

// seedDevTenant instantiates the built-in templates for the dev tenant.
func seedDevTenant(ctx context.Context, a *app) error {
	tenant, err := seed.EnsureTenant(ctx, a.store, a.logger, "Local Dev Tenant", seed.DevDomain)
	if err != nil {
		return err
	}
	tpls, err := seed.Builtin()
	if err != nil {
		return err
	}
	ctx = requestctx.WithTenant(ctx, tenant.ID)
	_, err = seed.NewSeeder(a.store, a.engine, a.logger).InstantiateAll(ctx, tpls, tenant.ID)
	return err
}
