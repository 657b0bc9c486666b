// Command seed instantiates workflow templates for a tenant.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vithaluntold/accute1-sub000/internal/automation"
	"github.com/vithaluntold/accute1-sub000/internal/capability"
	"github.com/vithaluntold/accute1-sub000/internal/config"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/internal/seed"
	"github.com/vithaluntold/accute1-sub000/internal/services"
)

var (
	configPath string
	domain     string
	tenantName string
	files      []string
)

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Instantiate workflow templates for a tenant",
	Long:         "Creates the tenant if needed and instantiates the built-in templates, or the given template files, skipping workflows the tenant already has.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.Flags().StringVar(&domain, "domain", seed.DevDomain, "Tenant domain to seed")
	rootCmd.Flags().StringVar(&tenantName, "tenant-name", "Local Dev Tenant", "Name used when the tenant is created")
	rootCmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Template files to load instead of the built-in set")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	var store repository.Repository
	switch cfg.Storage.Driver {
	case "memory":
		return fmt.Errorf("seeding the memory driver has no effect; use serve --seed instead")
	default:
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer pool.Close()
		store = repository.NewPostgresStore(pool)
	}

	tpls, err := templates()
	if err != nil {
		return err
	}

	tenant, err := seed.EnsureTenant(ctx, store, logger, tenantName, domain)
	if err != nil {
		return fmt.Errorf("ensure tenant: %w", err)
	}
	ctx = requestctx.WithTenant(ctx, tenant.ID)

	provider := capability.NewProvider(store, logger, capability.Options{WebhookTimeout: cfg.Automation.WebhookTimeout})
	engine := services.NewEngine(store, automation.NewExecutor(provider, logger), logger, services.Options{})

	created, err := seed.NewSeeder(store, engine, logger).InstantiateAll(ctx, tpls, tenant.ID)
	if err != nil {
		return err
	}
	logger.Info("seeding complete", "tenant_id", tenant.ID, "created", len(created), "templates", len(tpls))
	return nil
}

func templates() ([]*seed.Template, error) {
	if len(files) == 0 {
		return seed.Builtin()
	}
	tpls := make([]*seed.Template, 0, len(files))
	for _, f := range files {
		tpl, err := seed.LoadFile(f)
		if err != nil {
			return nil, err
		}
		tpls = append(tpls, tpl)
	}
	return tpls, nil
}
