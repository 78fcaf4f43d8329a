package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/flyway"
	"schema-migration-service/internal/infra"
	"schema-migration-service/internal/middleware"
	"schema-migration-service/internal/usecase"
	"schema-migration-service/pkg/dsn"
)

// configCmd はFlyway設定ファイルの生成コマンド。
func configCmd() *cobra.Command {
	var database, outDir, url string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write one Flyway config file per schema in migration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if database == "" {
				return fmt.Errorf("--database is required")
			}
			if outDir == "" {
				return fmt.Errorf("--out is required")
			}

			base := url
			if base == "" {
				base = cfg.FlywayURL
			}
			if base == "" {
				return fmt.Errorf("--url or FLYWAY_URL is required")
			}
			databaseURL, err := dsn.WithDatabase(base, database)
			if err != nil {
				return fmt.Errorf("building database URL: %w", err)
			}

			credentials := usecase.Credentials{
				Username:           cfg.FlywayUser,
				Password:           cfg.FlywayPassword,
				PasswordCiphertext: cfg.FlywayPasswordCiphertext,
			}
			// 暗号化されたパスワードはCloud KMSで復号する
			if credentials.PasswordCiphertext != "" {
				kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
				if err != nil {
					return err
				}
				defer func() {
					if closeErr := kmsClient.Close(); closeErr != nil {
						slog.Error("failed to close KMS client", "error", closeErr)
					}
				}()
				credentials.Decrypter = kmsClient
			}

			service, err := newPlanService(credentials, nil)
			if err != nil {
				return err
			}

			configs, err := service.FlywayConfigs(ctx, databaseURL, database)
			if err != nil {
				if errors.Is(err, domain.ErrNoSchemasForDatabase) {
					fmt.Fprintf(cmd.OutOrStdout(), "No schemas to migrate for database %q.\n", database)
					return nil
				}
				middleware.WriteAuditLog(ctx, "WRITE_FLYWAY_CONFIGS", database, "", "FAILED")
				return err
			}

			paths := make([]string, 0, len(configs))
			for _, c := range configs {
				p, err := flyway.WriteFile(outDir, c.Order, c.SchemaName, c.Content)
				if err != nil {
					middleware.WriteAuditLog(ctx, "WRITE_FLYWAY_CONFIGS", database, c.SchemaName, "FAILED")
					return err
				}
				middleware.WriteAuditLog(ctx, "WRITE_FLYWAY_CONFIGS", database, c.SchemaName, "SUCCESS")
				paths = append(paths, p)
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"database": database,
					"files":    paths,
				})
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database name (required)")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (required)")
	cmd.Flags().StringVar(&url, "url", "", "JDBC URL template; the database name is replaced (default FLYWAY_URL)")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("out")
	return cmd
}
