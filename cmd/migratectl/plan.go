package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schema-migration-service/config"
	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/flyway"
	"schema-migration-service/internal/handler"
	"schema-migration-service/internal/usecase"
)

func newPlanService(credentials usecase.Credentials, metrics usecase.MetricsRecorder) (*usecase.PlanService, error) {
	resolver, err := config.NewResolver(cfg)
	if err != nil {
		return nil, err
	}
	return usecase.NewPlanService(resolver, cfg.DatabasePrefix, flyway.NewRenderer(cfg.FlywayRoot), credentials, metrics), nil
}

// planCmd はマイグレーション計画の表示コマンド。
func planCmd() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "plan [schema...]",
		Short: "Resolve the migration order for schemas or a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if database == "" && len(args) == 0 {
				return fmt.Errorf("schema names or --database is required")
			}
			if database != "" && len(args) > 0 {
				return fmt.Errorf("schema names and --database are mutually exclusive")
			}

			service, err := newPlanService(usecase.Credentials{}, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if database == "" {
				plan, err := service.PlanForSchemas(cmd.Context(), args)
				if err != nil {
					return err
				}
				if output == "json" {
					return printJSON(out, handler.NewPlanResponse(plan))
				}
				return printPlan(out, plan)
			}

			dp, err := service.PlanForDatabase(cmd.Context(), database)
			if err != nil {
				if errors.Is(err, domain.ErrNoSchemasForDatabase) {
					if output == "json" {
						return printJSON(out, handler.NewDatabasePlanResponse(domain.DatabasePlan{
							Database:        database,
							RequiredSchemas: []string{},
							Plan:            &domain.Plan{Order: []domain.SchemaMigration{}},
						}))
					}
					fmt.Fprintf(out, "No schemas to migrate for database %q.\n", database)
					return nil
				}
				return err
			}
			if output == "json" {
				return printJSON(out, handler.NewDatabasePlanResponse(*dp))
			}
			return printPlan(out, dp.Plan)
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database name to derive schemas from")
	return cmd
}

// printPlan は計画を表形式で出力する。補完されたスキーマには * を付ける。
func printPlan(out io.Writer, plan *domain.Plan) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORDER\tSCHEMA\tTYPE\tLOCATION\tDEPENDS ON")
	for i, m := range plan.Order {
		name := m.SchemaName
		if m.Synthesized {
			name += " *"
		}
		deps := strings.Join(m.DependencyNames(), ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, name, m.SchemaType, m.MigrationLocation, deps)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	for _, e := range plan.DroppedEdges {
		fmt.Fprintf(out, "warning: cycle detected, %s may run before its dependency %s\n", e.From, e.To)
	}
	return nil
}
