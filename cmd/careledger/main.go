package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careledger/careledger/internal/config"
	"github.com/careledger/careledger/internal/domain/registry"
	"github.com/careledger/careledger/internal/platform/db"
	"github.com/careledger/careledger/internal/platform/events"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careledger",
		Short: "Patient access-control and audit registry",
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

// loadConfig loads and validates configuration for commands that need the
// Postgres-backed store.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRegistryService connects to the database and assembles the registry
// service with its audit event pipeline. The caller must close the pool.
func newRegistryService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*registry.Service, func(), error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus(logger)
	var sink *events.WebhookSink
	if cfg.AuditWebhookURL != "" {
		sink = events.NewWebhookSink(logger)
		if _, err := sink.RegisterEndpoint(cfg.AuditWebhookURL, cfg.AuditWebhookSecret, nil); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("register audit webhook: %w", err)
		}
		bus.Subscribe(sink.OnEvent)
	}

	store := registry.NewPGStore(pool, registry.Identity(cfg.OwnerIdentity))
	svc := registry.NewService(store, bus, logger)

	cleanup := func() {
		if sink != nil {
			sink.Flush()
		}
		pool.Close()
	}
	return svc, cleanup, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			svc, cleanup, err := newRegistryService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.GetStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Total patients: %d\n", stats.TotalPatients)
			fmt.Printf("Total records:  %d\n", stats.TotalRecords)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and pool health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := db.CheckHealth(ctx, pool)
			fmt.Printf("Connections: %d total, %d idle, %d acquired (max %d)\n",
				stats.TotalConns, stats.IdleConns, stats.AcquiredConns, stats.MaxConns)
			if err != nil {
				return fmt.Errorf("database unhealthy: %w", err)
			}
			fmt.Println("Database healthy.")
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify registry counters against stored collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			svc, cleanup, err := newRegistryService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			audit, err := svc.VerifyCounters(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Patients: counter=%d counted=%d\n", audit.TotalPatients, audit.CountedPatients)
			fmt.Printf("Records:  counter=%d counted=%d\n", audit.TotalRecords, audit.CountedRecords)
			if !audit.Consistent() {
				return fmt.Errorf("registry counters have drifted from stored collections")
			}
			fmt.Println("Counters consistent.")
			return nil
		},
	}
}
