package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/infra"
	"schema-migration-service/internal/middleware"
	"schema-migration-service/internal/repository"
	"schema-migration-service/internal/usecase"
	"schema-migration-service/pkg/dsn"
)

// newMigratorFactory はデータベースに接続してMigrationServiceを生成する関数を返す。
func newMigratorFactory(metrics usecase.MetricsRecorder) usecase.MigratorFactory {
	return func(ctx context.Context, database string) (*usecase.MigrationService, func() error, error) {
		return openMigrator(ctx, database, metrics)
	}
}

// openMigrator はデータベースに接続し、MigrationServiceを生成する。
func openMigrator(ctx context.Context, database string, metrics usecase.MetricsRecorder) (*usecase.MigrationService, func() error, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	databaseURL, err := dsn.WithDatabase(cfg.DatabaseURL, database)
	if err != nil {
		return nil, nil, fmt.Errorf("building database URL: %w", err)
	}

	// migrationsディレクトリのパスを絶対パスに変換
	absPath, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
	}

	db, err := infra.NewDB(databaseURL, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database %s: %w", database, err)
	}

	migrationRepo := repository.NewMigrationRepository(db)
	service := usecase.NewMigrationService(migrationRepo, db, infra.NewLocker(db), absPath, metrics)
	return service, func() error { return infra.Close(db) }, nil
}

// pushMetrics はPUSHGATEWAY_URLが設定されている場合に実行結果のメトリクスをPushgatewayへ送信する。
// 送信の失敗はマイグレーションの結果に影響させない。
func pushMetrics(ctx context.Context, gatherer prometheus.Gatherer) {
	if cfg.PushgatewayURL == "" {
		return
	}
	err := push.New(cfg.PushgatewayURL, "migratectl").
		Gatherer(gatherer).
		Client(httpClient).
		PushContext(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to push metrics",
			"operation", "push_metrics",
			"pushgateway", cfg.PushgatewayURL,
			"error", err,
		)
	}
}

// tenantDatabases は管理DBから稼働中テナントのデータベース名を取得する。
func tenantDatabases(ctx context.Context, plans *usecase.PlanService, region string) ([]string, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := infra.Close(db); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}()

	tenants := usecase.NewTenantPlanService(repository.NewTenantRepository(db), plans)
	return tenants.Databases(ctx, region)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage schema migrations",
		Long:  "Apply and inspect schema migrations in dependency order",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	var databases []string
	var allTenants bool
	var region string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long:  "Apply all pending migrations to each database; databases run in parallel, schemas in plan order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, runID := usecase.StartRun(cmd.Context())

			reg := prometheus.NewRegistry()
			metrics := infra.NewMetrics(reg)
			plans, err := newPlanService(usecase.Credentials{}, metrics)
			if err != nil {
				return err
			}

			if allTenants {
				tenantDBs, err := tenantDatabases(ctx, plans, region)
				if err != nil {
					return err
				}
				databases = append(databases, tenantDBs...)
			}
			if len(databases) == 0 {
				return fmt.Errorf("--database or --all-tenants is required")
			}

			slog.InfoContext(ctx, "migration run started",
				"operation", "migrate_up",
				"databases", len(databases),
			)
			runner := usecase.NewMigrationRunner(plans, newMigratorFactory(metrics), cfg.MigrationParallelism)
			results, runErr := runner.ApplyAll(ctx, databases)
			pushMetrics(ctx, reg)

			for _, r := range results {
				result := "SUCCESS"
				if r.Error != "" {
					result = "FAILED"
				}
				middleware.WriteAuditLog(ctx, "MIGRATE", r.Database, "", result)
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "run %s\n", runID)
				for _, r := range results {
					switch {
					case r.Error != "":
						fmt.Fprintf(out, "%s: failed after %d migration(s): %s\n", r.Database, r.Applied, r.Error)
					case r.Skipped:
						fmt.Fprintf(out, "%s: no schemas to migrate.\n", r.Database)
					case r.Applied == 0:
						fmt.Fprintf(out, "%s: no pending migrations.\n", r.Database)
					default:
						fmt.Fprintf(out, "%s: applied %d migration(s) successfully.\n", r.Database, r.Applied)
					}
				}
			}

			if runErr != nil {
				return fmt.Errorf("migration failed: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&databases, "database", nil, "Database name (repeatable)")
	cmd.Flags().BoolVar(&allTenants, "all-tenants", false, "Also migrate every active tenant database from the tenants table")
	cmd.Flags().StringVar(&region, "region", "", "Limit --all-tenants to a region")
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the status of all migrations (applied/pending) for each schema of a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if database == "" {
				return fmt.Errorf("--database is required")
			}

			plans, err := newPlanService(usecase.Credentials{}, nil)
			if err != nil {
				return err
			}
			dp, err := plans.PlanForDatabase(ctx, database)
			if err != nil {
				if errors.Is(err, domain.ErrNoSchemasForDatabase) {
					fmt.Fprintf(cmd.OutOrStdout(), "No schemas to migrate for database %q.\n", database)
					return nil
				}
				return err
			}

			service, closeFn, err := openMigrator(ctx, database, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeFn(); err != nil {
					slog.Warn("failed to close database", "error", err)
				}
			}()

			statuses, err := service.Status(ctx, dp.Plan)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), statuses)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SCHEMA\tVERSION\tDESCRIPTION\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "------\t-------\t-----------\t------\t----------")

			for _, s := range statuses {
				if len(s.Migrations) == 0 {
					fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", s.Schema.SchemaName)
					continue
				}
				for _, migration := range s.Migrations {
					appliedAt := "-"
					if migration.AppliedAt != nil {
						appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Schema.SchemaName, migration.Version, migration.Description, migration.Status, appliedAt)
				}
			}

			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database name (required)")
	cmd.MarkFlagRequired("database")
	return cmd
}
